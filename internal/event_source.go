package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ever-tezos/faucet-relayer/internal/metrics"
)

// SubscriptionState is the lifecycle state of the live feed
type SubscriptionState int

const (
	StateUnsubscribed SubscriptionState = iota
	StateSubscribing
	StateSubscribed
	StateUnsubscribing
)

func (s SubscriptionState) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateUnsubscribing:
		return "unsubscribing"
	default:
		return "unsubscribed"
	}
}

// EventSource owns the live subscription to the Faucet's outbound messages and the
// polling fallback. Subscription callbacks only enqueue; the relay loop drains.
type EventSource struct {
	client  SourceClient
	queue   *MessageQueue
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu            sync.Mutex
	state         SubscriptionState
	handle        SubscriptionHandle
	startedAt     time.Time
	onStateChange func(SubscriptionState)
}

// NewEventSource creates an unsubscribed event source buffering up to queueSize messages
func NewEventSource(logger *zap.Logger, client SourceClient, queueSize int, m *metrics.Metrics) *EventSource {
	s := &EventSource{
		client:  client,
		now:     time.Now,
		metrics: m,
		logger:  logger.With(zap.String("component", "EventSource")),
	}
	s.queue = NewMessageQueue(queueSize, s.dropped)
	return s
}

// WithClock replaces the time source used for subscription start times
func (s *EventSource) WithClock(now func() time.Time) *EventSource {
	s.now = now
	return s
}

// OnStateChange registers a callback invoked after every state transition
func (s *EventSource) OnStateChange(fn func(SubscriptionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// Subscribe starts a live feed for messages created from now on.
// On failure the source stays unsubscribed.
func (s *EventSource) Subscribe(ctx context.Context) error {
	if !s.transition(StateUnsubscribed, StateSubscribing) {
		return nil
	}

	start := s.now()
	filter := MessageFilter{
		CreatedAfter: start,
		Src:          s.client.Address(),
		Dst:          "",
	}
	handle, err := s.client.Subscribe(ctx, filter, s.queue.Push, s.feedError)
	if err != nil {
		s.setState(StateUnsubscribed, nil, time.Time{})
		return errors.Mark(fmt.Errorf("subscribe to %s: %w", filter.Src, err), ErrSubscription)
	}

	s.setState(StateSubscribed, handle, start)
	s.logger.Info("Subscribed to faucet messages",
		zap.String("faucet", filter.Src),
		zap.String("subscriptionId", handle.ID()),
		zap.Time("createdAfter", start))
	return nil
}

// Unsubscribe tears down the live feed. Buffered messages are kept.
func (s *EventSource) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	if !s.transition(StateSubscribed, StateUnsubscribing) {
		return nil
	}
	err := s.client.Unsubscribe(ctx, handle)
	s.setState(StateUnsubscribed, nil, time.Time{})
	if err != nil {
		return errors.Mark(fmt.Errorf("unsubscribe %s: %w", handle.ID(), err), ErrSubscription)
	}
	return nil
}

// Refresh replaces the live feed with a new one starting now
func (s *EventSource) Refresh(ctx context.Context) error {
	s.metrics.SubscriptionRefresh.Inc()
	if s.State() == StateSubscribed {
		s.logger.Info("Refreshing subscription")
		if err := s.Unsubscribe(ctx); err != nil {
			// the old feed is abandoned either way
			s.logger.Warn("Failed to unsubscribe cleanly", zap.Error(err))
		}
	}
	return s.Subscribe(ctx)
}

// Poll asks the Faucet for its next unclaimed request; nil when there is none
func (s *EventSource) Poll(ctx context.Context) (*DecodedBody, error) {
	body, err := s.client.QueryQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	return body, nil
}

// Drain returns the messages delivered since the last drain
func (s *EventSource) Drain() []Message {
	return s.queue.Drain()
}

// State returns the current subscription state
func (s *EventSource) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the active subscription handle, nil when unsubscribed
func (s *EventSource) Handle() SubscriptionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// StartedAt returns the start time of the active subscription
func (s *EventSource) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// QueueDepth returns the number of undrained messages
func (s *EventSource) QueueDepth() int {
	return s.queue.Len()
}

// QueueDropped returns the number of messages lost to queue overflow
func (s *EventSource) QueueDropped() uint64 {
	return s.queue.Dropped()
}

// feedError runs on the transport's goroutine; the feed stays subscribed until refreshed
func (s *EventSource) feedError(err error) {
	s.metrics.SubscriptionErrors.Inc()
	s.logger.Error("WebSocket disconnected",
		zap.Error(errors.Mark(err, ErrSubscription)))
}

func (s *EventSource) dropped(msg Message) {
	s.metrics.QueueDropped.Inc()
	s.logger.Warn("Message queue full, dropping oldest message",
		zap.String("messageId", msg.ID))
}

func (s *EventSource) transition(from, to SubscriptionState) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	fn := s.onStateChange
	s.mu.Unlock()

	s.notify(fn, to)
	return true
}

func (s *EventSource) setState(state SubscriptionState, handle SubscriptionHandle, startedAt time.Time) {
	s.mu.Lock()
	s.state = state
	s.handle = handle
	s.startedAt = startedAt
	fn := s.onStateChange
	s.mu.Unlock()

	s.notify(fn, state)
}

func (s *EventSource) notify(fn func(SubscriptionState), state SubscriptionState) {
	if state == StateSubscribed {
		s.metrics.SubscriptionUp.Set(1)
	} else {
		s.metrics.SubscriptionUp.Set(0)
	}
	if fn != nil {
		fn(state)
	}
}
