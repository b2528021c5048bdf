package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ever-tezos/faucet-relayer/internal/metrics"
)

type relayerFixture struct {
	*processorFixture
	clock   *fakeClock
	source  *EventSource
	relayer *Relayer
}

func newRelayerFixture(t *testing.T, config RelayerConfig) *relayerFixture {
	t.Helper()
	pf := newProcessorFixture(t, defaultProcessorConfig())
	clock := newFakeClock()
	source := NewEventSource(zap.NewNop(), pf.src, 16, pf.metrics).WithClock(clock.Now)
	relayer, err := NewRelayer(zap.NewNop(), config, source, pf.processor)
	require.NoError(t, err)
	return &relayerFixture{processorFixture: pf, clock: clock, source: source, relayer: relayer}
}

func TestNewRelayerConfig(t *testing.T) {
	config, err := NewRelayerConfig(DefaultTick, DefaultQueryInterval, DefaultRefreshInterval)
	require.NoError(t, err)
	assert.Equal(t, 150, config.PollEvery)
	assert.Equal(t, 6000, config.RefreshEvery)

	_, err = NewRelayerConfig(0, time.Second, time.Minute)
	assert.Error(t, err)
	_, err = NewRelayerConfig(time.Second, time.Millisecond, time.Minute)
	assert.Error(t, err)
	_, err = NewRelayerConfig(time.Second, time.Minute, time.Minute)
	assert.Error(t, err)
}

func TestNewRelayerRejectsBadCadence(t *testing.T) {
	pf := newProcessorFixture(t, defaultProcessorConfig())
	source := NewEventSource(zap.NewNop(), pf.src, 16, metrics.NewNopMetrics())

	_, err := NewRelayer(zap.NewNop(), RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: 5}, source, pf.processor)
	assert.Error(t, err)
}

func TestRelayerRefreshAfterExactlyRefreshTicks(t *testing.T) {
	const refreshEvery = 20
	f := newRelayerFixture(t, RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: refreshEvery})
	ctx := context.Background()

	// tick 1 subscribes, ticks 2..20 run the loop
	for i := 0; i < refreshEvery; i++ {
		f.relayer.tick(ctx)
	}
	subscribes, unsubscribes, polls := f.src.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 0, unsubscribes)
	assert.Equal(t, 4, polls, "polls on ticks 2, 7, 12 and 17")
	assert.Equal(t, refreshEvery-1, f.relayer.Snapshot().TickCounter)

	// tick 21 is refreshEvery ticks after the subscribe
	f.relayer.tick(ctx)
	subscribes, unsubscribes, _ = f.src.counts()
	assert.Equal(t, 2, subscribes)
	assert.Equal(t, 1, unsubscribes)
	require.Len(t, f.src.filters, 2)
	assert.True(t, f.src.filters[1].CreatedAfter.After(f.src.filters[0].CreatedAfter))
	assert.Equal(t, 0, f.relayer.Snapshot().TickCounter)

	// the next refresh is again refreshEvery ticks later
	for i := 0; i < refreshEvery-1; i++ {
		f.relayer.tick(ctx)
	}
	_, unsubscribes, _ = f.src.counts()
	assert.Equal(t, 1, unsubscribes)
	f.relayer.tick(ctx)
	_, unsubscribes, _ = f.src.counts()
	assert.Equal(t, 2, unsubscribes)
}

func TestRelayerRefreshCountsFromLateSubscribe(t *testing.T) {
	const refreshEvery = 20
	f := newRelayerFixture(t, RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: refreshEvery})
	f.src.subscribeErr = errors.New("dial tcp: connection refused")
	ctx := context.Background()

	// ticks 1..3 fail to subscribe but keep polling
	for i := 0; i < 3; i++ {
		f.relayer.tick(ctx)
	}
	_, _, polls := f.src.counts()
	assert.Equal(t, 1, polls)
	assert.Equal(t, StateUnsubscribed, f.source.State())

	f.src.subscribeErr = nil
	f.relayer.tick(ctx)
	require.Equal(t, StateSubscribed, f.source.State())
	assert.Equal(t, 0, f.relayer.Snapshot().TickCounter)

	for i := 0; i < refreshEvery-1; i++ {
		f.relayer.tick(ctx)
	}
	subscribes, unsubscribes, _ := f.src.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 0, unsubscribes)

	f.relayer.tick(ctx)
	subscribes, unsubscribes, _ = f.src.counts()
	assert.Equal(t, 2, subscribes)
	assert.Equal(t, 1, unsubscribes)
}

func TestRelayerRetriesFailedSubscribe(t *testing.T) {
	f := newRelayerFixture(t, RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: 20})
	f.src.subscribeErr = errors.New("dial tcp: connection refused")
	ctx := context.Background()

	f.relayer.tick(ctx)
	assert.Equal(t, StateUnsubscribed, f.source.State())

	f.src.subscribeErr = nil
	f.relayer.tick(ctx)
	assert.Equal(t, StateSubscribed, f.source.State())
}

func TestRelayerRelaysSubscribedClaim(t *testing.T) {
	f := newRelayerFixture(t, RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: 20})
	ctx := context.Background()
	f.src.bodies["claim"] = claimBody("0x2a", "0x1", "addr1")

	f.relayer.tick(ctx)
	f.src.deliver(Message{ID: "m1", Body: "claim"})
	f.src.deliver(Message{ID: "m2", Body: "claim"})
	f.relayer.tick(ctx)

	assert.Len(t, f.submitter.submitCalls(), 1)
	require.Eventually(t, func() bool {
		f.relayer.tick(ctx)
		return len(f.src.ackCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), f.relayer.Snapshot().LastProcessedClaimID)
}

func TestRelayerZeroKeySkipsEverything(t *testing.T) {
	f := newRelayerFixture(t, RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: 20})
	ctx := context.Background()
	f.src.bodies["claim"] = claimBody("0x0", "0x1", "addr1")

	f.relayer.tick(ctx)
	f.src.deliver(Message{ID: "m1", Body: "claim"})
	f.relayer.tick(ctx)
	f.relayer.acknowledger.Wait()

	assert.Empty(t, f.submitter.submitCalls())
	assert.Empty(t, f.src.ackCalls())
	assert.Equal(t, uint64(0), f.relayer.Snapshot().LastProcessedClaimID)
}

func TestRelayerPollingFallback(t *testing.T) {
	f := newRelayerFixture(t, RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: 20})
	f.src.queue = &DecodedBody{
		Value: map[string]interface{}{"pubkey": "0x2a", "claim_id": "0x2", "surf_address": "addr1"},
	}
	ctx := context.Background()

	// tick 1 subscribes, tick 2 polls, the poll on tick 7 is deduplicated
	for i := 0; i < 7; i++ {
		f.relayer.tick(ctx)
	}
	_, _, polls := f.src.counts()
	assert.Equal(t, 2, polls)
	assert.Len(t, f.submitter.submitCalls(), 1)
}

func TestRelayerSubmissionFailureSkipsAcknowledgement(t *testing.T) {
	f := newRelayerFixture(t, RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: 20})
	f.submitter.err = errors.New("inject failed")
	f.src.bodies["claim"] = claimBody("0x2a", "0x3", "addr1")
	ctx := context.Background()

	f.relayer.tick(ctx)
	f.src.deliver(Message{ID: "m1", Body: "claim"})
	f.relayer.tick(ctx)
	f.relayer.acknowledger.Wait()

	assert.Len(t, f.submitter.submitCalls(), 1)
	assert.Empty(t, f.src.ackCalls())
}

func TestRelayerStartStopsOnCancel(t *testing.T) {
	f := newRelayerFixture(t, RelayerConfig{Tick: time.Millisecond, PollEvery: 5, RefreshEvery: 20})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.relayer.Start(ctx) }()

	require.Eventually(t, func() bool {
		return f.source.State() == StateSubscribed
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relayer did not stop")
	}
	assert.Equal(t, StateUnsubscribed, f.source.State())
	_, unsubscribes, _ := f.src.counts()
	assert.Equal(t, 1, unsubscribes)
}
