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

const (
	defaultOutcomeBuffer = 256
	acknowledgeTimeout   = 60 * time.Second
)

// ClaimSuccessSender sends the ClaimSuccess call to the Faucet contract
type ClaimSuccessSender interface {
	ClaimSuccess(ctx context.Context, params ClaimSuccessParams) error
}

// Acknowledgement reports a funded claim back to the source contract
type Acknowledgement struct {
	RequesterKey           [32]byte
	ClaimID                uint64
	DestinationTxHash      string
	DestinationHintAddress string
	ResultingBalance       int64
	TraceID                string
}

// AckOutcome is the result of one acknowledgement attempt
type AckOutcome struct {
	Acknowledgement
	Err error
}

// Acknowledger sends acknowledgements without blocking the relay loop.
// Outcomes are buffered until the loop drains them.
type Acknowledger struct {
	sender   ClaimSuccessSender
	outcomes chan AckOutcome
	wg       sync.WaitGroup
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAcknowledger creates an acknowledger with an outcome buffer of the given size
func NewAcknowledger(logger *zap.Logger, sender ClaimSuccessSender, buffer int, m *metrics.Metrics) *Acknowledger {
	if buffer < 1 {
		buffer = defaultOutcomeBuffer
	}
	return &Acknowledger{
		sender:   sender,
		outcomes: make(chan AckOutcome, buffer),
		metrics:  m,
		logger:   logger.With(zap.String("component", "Acknowledger")),
	}
}

// Acknowledge sends ClaimSuccess on its own goroutine and returns immediately.
// The send outlives cancellation of ctx so a claim funded before shutdown is
// still acknowledged, bounded by acknowledgeTimeout.
func (a *Acknowledger) Acknowledge(ctx context.Context, ack Acknowledgement) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), acknowledgeTimeout)
		defer cancel()

		err := a.sender.ClaimSuccess(sendCtx, ClaimSuccessParams{
			UserPubkey:    ack.RequesterKey,
			ClaimID:       ack.ClaimID,
			OpHash:        ack.DestinationTxHash,
			SurfAddress:   ack.DestinationHintAddress,
			FaucetBalance: ack.ResultingBalance,
		})
		if err != nil {
			err = errors.Mark(fmt.Errorf("claim success for %d: %w", ack.ClaimID, err), ErrAcknowledgement)
		}

		out := AckOutcome{Acknowledgement: ack, Err: err}
		select {
		case a.outcomes <- out:
		default:
			// nobody is draining fast enough; report here instead of blocking
			a.record(out)
		}
	}()
}

// Drain logs and returns every outcome delivered so far without blocking
func (a *Acknowledger) Drain() []AckOutcome {
	var drained []AckOutcome
	for {
		select {
		case out := <-a.outcomes:
			a.record(out)
			drained = append(drained, out)
		default:
			return drained
		}
	}
}

// Wait blocks until every in-flight acknowledgement has finished
func (a *Acknowledger) Wait() {
	a.wg.Wait()
}

func (a *Acknowledger) record(out AckOutcome) {
	if out.Err != nil {
		a.metrics.Acknowledgements.WithLabelValues(metrics.ResultFailure).Inc()
		a.logger.Error("Claim acknowledgement failed",
			zap.String("traceId", out.TraceID),
			zap.Uint64("claimId", out.ClaimID),
			zap.String("txHash", out.DestinationTxHash),
			zap.Error(out.Err))
		return
	}
	a.metrics.Acknowledgements.WithLabelValues(metrics.ResultSuccess).Inc()
	a.logger.Info("Claim acknowledged",
		zap.String("traceId", out.TraceID),
		zap.Uint64("claimId", out.ClaimID),
		zap.String("txHash", out.DestinationTxHash),
		zap.Int64("faucetBalance", out.ResultingBalance))
}
