package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default loop cadence
const (
	DefaultTick            = 100 * time.Millisecond
	DefaultQueryInterval   = 15 * time.Second
	DefaultRefreshInterval = 600 * time.Second
)

type RelayerConfig struct {
	Tick         time.Duration
	PollEvery    int // ticks between queue polls
	RefreshEvery int // ticks between subscription refreshes
}

// NewRelayerConfig converts wall-clock intervals into tick counts
func NewRelayerConfig(tick, queryInterval, refreshInterval time.Duration) (RelayerConfig, error) {
	if tick <= 0 {
		return RelayerConfig{}, fmt.Errorf("tick must be positive, got %s", tick)
	}
	if queryInterval < tick {
		return RelayerConfig{}, fmt.Errorf("query interval %s is shorter than the tick %s", queryInterval, tick)
	}
	if refreshInterval <= queryInterval {
		return RelayerConfig{}, fmt.Errorf("refresh interval %s must exceed the query interval %s", refreshInterval, queryInterval)
	}
	return RelayerConfig{
		Tick:         tick,
		PollEvery:    int(queryInterval / tick),
		RefreshEvery: int(refreshInterval / tick),
	}, nil
}

// RelayState is a point-in-time view of the relay loop
type RelayState struct {
	LastProcessedClaimID uint64 `json:"lastProcessedClaimId"`
	SubscriptionID       string `json:"subscriptionId,omitempty"`
	SubscriptionState    string `json:"subscriptionState"`
	SubscribedSince      int64  `json:"subscribedSince,omitempty"`
	TickCounter          int    `json:"tickCounter"`
	QueueDepth           int    `json:"queueDepth"`
	QueueDropped         uint64 `json:"queueDropped"`
}

type Relayer struct {
	config       RelayerConfig
	source       *EventSource
	processor    *ClaimProcessor
	acknowledger *Acknowledger
	dedup        *Deduplicator
	logger       *zap.Logger

	mu          sync.Mutex
	tickCounter int
}

// NewRelayer creates a new relayer instance
func NewRelayer(logger *zap.Logger, config RelayerConfig, source *EventSource, processor *ClaimProcessor) (*Relayer, error) {
	if config.PollEvery < 1 || config.RefreshEvery <= config.PollEvery {
		return nil, fmt.Errorf("invalid cadence: poll every %d ticks, refresh every %d ticks", config.PollEvery, config.RefreshEvery)
	}
	return &Relayer{
		config:       config,
		source:       source,
		processor:    processor,
		acknowledger: processor.acknowledger,
		dedup:        processor.dedup,
		logger:       logger.With(zap.String("component", "Relayer")),
	}, nil
}

// Close tears down the live feed and waits for in-flight acknowledgements
func (r *Relayer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.source.Unsubscribe(ctx); err != nil {
		r.logger.Warn("Failed to unsubscribe", zap.Error(err))
	}
	r.acknowledger.Wait()
	r.acknowledger.Drain()
}

// Start runs the relay loop until ctx is cancelled
func (r *Relayer) Start(ctx context.Context) error {
	r.logger.Info("Starting faucet relayer",
		zap.String("faucet", r.source.client.Address()),
		zap.Duration("tick", r.config.Tick),
		zap.Int("pollEvery", r.config.PollEvery),
		zap.Int("refreshEvery", r.config.RefreshEvery))

	ticker := time.NewTicker(r.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Shutting down relayer")
			r.Close()
			r.logger.Info("Shutdown complete")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick runs one iteration: subscribe if needed, poll and refresh when due,
// then drain delivered messages and acknowledgement outcomes.
// The tick that brings the feed up restarts the count, so the refresh lands
// RefreshEvery ticks after the subscribe and the first poll on the tick after it.
func (r *Relayer) tick(ctx context.Context) {
	subscribed := false
	if r.source.State() == StateUnsubscribed {
		if err := r.source.Subscribe(ctx); err != nil {
			r.logger.Error("Failed to subscribe, retrying next tick", zap.Error(err))
		} else {
			subscribed = r.source.State() == StateSubscribed
		}
	}

	r.mu.Lock()
	counter := r.tickCounter
	r.mu.Unlock()

	if subscribed {
		counter = 0
	} else {
		if counter%r.config.PollEvery == 0 {
			r.checkMissedRequests(ctx)
		}

		counter++
		if counter%r.config.RefreshEvery == 0 {
			if err := r.source.Refresh(ctx); err != nil {
				r.logger.Error("Failed to refresh subscription", zap.Error(err))
			}
			counter = 0
		}
	}

	r.mu.Lock()
	r.tickCounter = counter
	r.mu.Unlock()

	for _, msg := range r.source.Drain() {
		if ctx.Err() != nil {
			return
		}
		// errors are logged by the processor; one bad message never stops the loop
		_, _ = r.processor.ProcessMessage(ctx, msg)
	}

	r.acknowledger.Drain()
}

func (r *Relayer) checkMissedRequests(ctx context.Context) {
	body, err := r.source.Poll(ctx)
	if err != nil {
		r.logger.Error("Failed to check missed requests", zap.Error(err))
		return
	}
	_, _ = r.processor.ProcessPolled(ctx, body)
}

// Snapshot returns the current relay state
func (r *Relayer) Snapshot() RelayState {
	r.mu.Lock()
	counter := r.tickCounter
	r.mu.Unlock()

	state := RelayState{
		LastProcessedClaimID: r.dedup.Watermark(),
		SubscriptionState:    r.source.State().String(),
		TickCounter:          counter,
		QueueDepth:           r.source.QueueDepth(),
		QueueDropped:         r.source.QueueDropped(),
	}
	if handle := r.source.Handle(); handle != nil {
		state.SubscriptionID = handle.ID()
		state.SubscribedSince = r.source.StartedAt().Unix()
	}
	return state
}
