package internal

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ever-tezos/faucet-relayer/internal/address"
	"github.com/ever-tezos/faucet-relayer/internal/metrics"
	"github.com/ever-tezos/faucet-relayer/internal/submitter"
)

// Default funding amounts, in mutez and token units
const (
	DefaultPrimaryAmount   int64 = 10000000
	DefaultSecondaryAmount int64 = 10000000
)

// ClaimStatus is what the pipeline did with one claim
type ClaimStatus int

const (
	ClaimIgnored ClaimStatus = iota
	ClaimSkipped
	ClaimDuplicate
	ClaimFailed
	ClaimRelayed
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimSkipped:
		return "skipped"
	case ClaimDuplicate:
		return "duplicate"
	case ClaimFailed:
		return "failed"
	case ClaimRelayed:
		return "relayed"
	default:
		return "ignored"
	}
}

type ClaimProcessorConfig struct {
	PrimaryAmount     int64
	SecondaryAmount   int64
	RetryFailedClaims bool // forget failed claims so the polling fallback can redeliver them
}

// ClaimProcessor runs decoded messages through
// zero-key guard, dedup, address derivation, submission and acknowledgement.
type ClaimProcessor struct {
	config       ClaimProcessorConfig
	decoder      *EventDecoder
	dedup        *Deduplicator
	submitter    submitter.ClaimSubmitter
	acknowledger *Acknowledger
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewClaimProcessor(
	logger *zap.Logger,
	config ClaimProcessorConfig,
	decoder *EventDecoder,
	dedup *Deduplicator,
	claimSubmitter submitter.ClaimSubmitter,
	acknowledger *Acknowledger,
	m *metrics.Metrics,
) *ClaimProcessor {
	return &ClaimProcessor{
		config:       config,
		decoder:      decoder,
		dedup:        dedup,
		submitter:    claimSubmitter,
		acknowledger: acknowledger,
		metrics:      m,
		logger:       logger.With(zap.String("component", "ClaimProcessor")),
	}
}

// ProcessMessage decodes one subscription message and relays it if it is a claim
func (p *ClaimProcessor) ProcessMessage(ctx context.Context, msg Message) (ClaimStatus, error) {
	event, err := p.decoder.Decode(ctx, msg.Body)
	if err != nil {
		p.metrics.DecodeErrors.Inc()
		p.logger.Error("Failed to decode message",
			zap.String("messageId", msg.ID),
			zap.Error(err))
		return ClaimIgnored, err
	}

	switch event.Kind {
	case EventClaim:
		p.metrics.ClaimsReceived.WithLabelValues(metrics.PathSubscription).Inc()
		return p.ProcessClaim(ctx, *event.Claim)
	case EventClaimAcknowledged:
		p.logger.Info("Claim success (callback)", zap.Uint64("claimId", event.ClaimID))
	default:
		p.logger.Debug("Ignoring faucet message",
			zap.String("messageId", msg.ID),
			zap.String("name", event.Name))
	}
	return ClaimIgnored, nil
}

// ProcessPolled relays the claim returned by the queue getter, if any
func (p *ClaimProcessor) ProcessPolled(ctx context.Context, body *DecodedBody) (ClaimStatus, error) {
	if body == nil {
		return ClaimIgnored, nil
	}
	claim, err := ClaimFromFields(body.Value)
	if err != nil {
		p.metrics.DecodeErrors.Inc()
		p.logger.Error("Failed to decode queued claim", zap.Error(err))
		return ClaimIgnored, err
	}
	p.metrics.ClaimsReceived.WithLabelValues(metrics.PathPoll).Inc()
	return p.ProcessClaim(ctx, *claim)
}

// ProcessClaim relays a single claim. A submission failure skips the acknowledgement.
func (p *ClaimProcessor) ProcessClaim(ctx context.Context, claim ClaimEvent) (ClaimStatus, error) {
	if !claim.HasRequester() {
		p.metrics.ClaimsSkipped.Inc()
		return ClaimSkipped, nil
	}
	if !p.dedup.Admit(claim.ClaimID) {
		p.metrics.ClaimsDuplicate.Inc()
		p.logger.Info("Duplicate request", zap.Uint64("claimId", claim.ClaimID))
		return ClaimDuplicate, nil
	}
	p.metrics.Watermark.Set(float64(p.dedup.Watermark()))

	traceID := uuid.New().String()
	logger := p.logger.With(
		zap.String("traceId", traceID),
		zap.Uint64("claimId", claim.ClaimID))

	logger.Info("Claim admitted",
		zap.String("pubkey", hexKey(claim.RequesterPublicKey)),
		zap.String("surfAddress", claim.DestinationHintAddress))

	tezosAddress, err := address.Derive(claim.RequesterPublicKey[:])
	if err == nil {
		err = address.Validate(tezosAddress)
	}
	if err != nil {
		logger.Error("Failed to derive destination address", zap.Error(err))
		return ClaimFailed, fmt.Errorf("derive address for claim %d: %w", claim.ClaimID, err)
	}
	logger.Info("Requested tokens", zap.String("tezosAddress", tezosAddress))

	result, err := p.submitter.Submit(ctx, tezosAddress, p.config.PrimaryAmount, p.config.SecondaryAmount)
	if err == nil && !result.Succeeded {
		err = errors.Mark(fmt.Errorf("submission reported failure"), submitter.ErrSubmission)
	}
	if err != nil {
		p.metrics.Submissions.WithLabelValues(metrics.ResultFailure).Inc()
		if p.config.RetryFailedClaims {
			p.dedup.Forget(claim.ClaimID)
		}
		logger.Error("Failed to fund claim",
			zap.String("tezosAddress", tezosAddress),
			zap.Bool("willRetry", p.config.RetryFailedClaims),
			zap.Error(err))
		return ClaimFailed, fmt.Errorf("submit claim %d: %w", claim.ClaimID, err)
	}
	p.metrics.Submissions.WithLabelValues(metrics.ResultSuccess).Inc()
	p.metrics.FaucetBalance.Set(float64(result.ResultingBalance))

	p.acknowledger.Acknowledge(ctx, Acknowledgement{
		RequesterKey:           claim.RequesterPublicKey,
		ClaimID:                claim.ClaimID,
		DestinationTxHash:      result.TransactionHash,
		DestinationHintAddress: claim.DestinationHintAddress,
		ResultingBalance:       result.ResultingBalance,
		TraceID:                traceID,
	})

	logger.Info("Claimed",
		zap.String("tezosAddress", tezosAddress),
		zap.String("txHash", result.TransactionHash))

	return ClaimRelayed, nil
}
