package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ever-tezos/faucet-relayer/internal/submitter"
)

type fakeHandle string

func (h fakeHandle) ID() string { return string(h) }

// fakeSource records every call the relay makes to the source ledger
type fakeSource struct {
	mu sync.Mutex

	bodies    map[string]*DecodedBody
	decodeErr error

	subscribeErr error
	filters      []MessageFilter
	subscribes   int
	unsubscribes int
	onMessage    func(Message)
	onError      func(error)

	queue    *DecodedBody
	queueErr error
	polls    int

	acks   []ClaimSuccessParams
	ackErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{bodies: map[string]*DecodedBody{}}
}

func (s *fakeSource) Address() string { return "0:faucet" }

func (s *fakeSource) Subscribe(ctx context.Context, filter MessageFilter, onMessage func(Message), onError func(error)) (SubscriptionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.subscribes++
	s.filters = append(s.filters, filter)
	s.onMessage = onMessage
	s.onError = onError
	return fakeHandle(fmt.Sprintf("sub-%d", s.subscribes)), nil
}

func (s *fakeSource) Unsubscribe(ctx context.Context, handle SubscriptionHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes++
	return nil
}

func (s *fakeSource) QueryQueue(ctx context.Context) (*DecodedBody, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.queue, s.queueErr
}

func (s *fakeSource) DecodeEventBody(ctx context.Context, body string) (*DecodedBody, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decodeErr != nil {
		return nil, s.decodeErr
	}
	decoded, ok := s.bodies[body]
	if !ok {
		return nil, fmt.Errorf("unknown body %q", body)
	}
	return decoded, nil
}

func (s *fakeSource) ClaimSuccess(ctx context.Context, params ClaimSuccessParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, params)
	return s.ackErr
}

// deliver simulates the transport invoking the subscription callback
func (s *fakeSource) deliver(msg Message) {
	s.mu.Lock()
	onMessage := s.onMessage
	s.mu.Unlock()
	onMessage(msg)
}

func (s *fakeSource) ackCalls() []ClaimSuccessParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ClaimSuccessParams(nil), s.acks...)
}

func (s *fakeSource) counts() (subscribes, unsubscribes, polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes, s.unsubscribes, s.polls
}

func claimBody(pubkey, claimID, surf string) *DecodedBody {
	return &DecodedBody{
		BodyType: "Event",
		Name:     EventNameClaim,
		Value: map[string]interface{}{
			"pubkey":       pubkey,
			"claim_id":     claimID,
			"surf_address": surf,
		},
	}
}

type submitCall struct {
	address   string
	primary   int64
	secondary int64
}

type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []submitCall
	result submitter.SubmissionResult
	err    error
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		result: submitter.SubmissionResult{TransactionHash: "ooHash", ResultingBalance: 42000000, Succeeded: true},
	}
}

func (f *fakeSubmitter) Submit(ctx context.Context, address string, primaryAmount, secondaryAmount int64) (submitter.SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitCall{address, primaryAmount, secondaryAmount})
	if f.err != nil {
		return submitter.Failed, f.err
	}
	return f.result, nil
}

func (f *fakeSubmitter) submitCalls() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.calls...)
}

// fakeClock advances one second every time it is read
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
