package internal

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BodyDecoder decodes raw message bodies against the Faucet ABI
type BodyDecoder interface {
	DecodeEventBody(ctx context.Context, body string) (*DecodedBody, error)
}

// EventDecoder turns raw Faucet messages into tagged relay events
type EventDecoder struct {
	decoder BodyDecoder
	logger  *zap.Logger
}

// NewEventDecoder creates a decoder backed by the source chain's ABI decoder
func NewEventDecoder(logger *zap.Logger, decoder BodyDecoder) *EventDecoder {
	return &EventDecoder{
		decoder: decoder,
		logger:  logger.With(zap.String("component", "EventDecoder")),
	}
}

// Decode decodes one message body. Errors are marked with ErrDecode.
func (d *EventDecoder) Decode(ctx context.Context, body string) (*DecodedEvent, error) {
	if body == "" {
		return nil, markDecode(fmt.Errorf("empty message body"))
	}
	decoded, err := d.decoder.DecodeEventBody(ctx, body)
	if err != nil {
		return nil, markDecode(fmt.Errorf("decode message body: %w", err))
	}
	if decoded == nil {
		return nil, markDecode(fmt.Errorf("decoder returned no body"))
	}
	return d.FromBody(decoded)
}

// FromBody classifies an already decoded body
func (d *EventDecoder) FromBody(decoded *DecodedBody) (*DecodedEvent, error) {
	if decoded.BodyType != bodyTypeEvent {
		return &DecodedEvent{Kind: EventOther, Name: decoded.Name}, nil
	}

	switch decoded.Name {
	case EventNameClaim:
		claim, err := ClaimFromFields(decoded.Value)
		if err != nil {
			return nil, err
		}
		return &DecodedEvent{Kind: EventClaim, Name: decoded.Name, Claim: claim, ClaimID: claim.ClaimID}, nil
	case EventNameClaimSuccess:
		claimID, err := parseUint64(decoded.Value["claim_id"])
		if err != nil {
			return nil, markDecode(fmt.Errorf("claim_id: %w", err))
		}
		return &DecodedEvent{Kind: EventClaimAcknowledged, Name: decoded.Name, ClaimID: claimID}, nil
	default:
		return &DecodedEvent{Kind: EventOther, Name: decoded.Name}, nil
	}
}

// ClaimFromFields builds a ClaimEvent from decoded ABI values
// (pubkey, claim_id, surf_address). The polling path feeds getter output here directly.
func ClaimFromFields(values map[string]interface{}) (*ClaimEvent, error) {
	if values == nil {
		return nil, markDecode(fmt.Errorf("claim has no fields"))
	}
	pubkey, err := parsePublicKey(values["pubkey"])
	if err != nil {
		return nil, markDecode(fmt.Errorf("pubkey: %w", err))
	}
	claimID, err := parseUint64(values["claim_id"])
	if err != nil {
		return nil, markDecode(fmt.Errorf("claim_id: %w", err))
	}
	surfAddress, ok := values["surf_address"].(string)
	if !ok {
		return nil, markDecode(fmt.Errorf("surf_address: missing or not a string"))
	}

	return &ClaimEvent{
		ClaimID:                claimID,
		RequesterPublicKey:     pubkey,
		DestinationHintAddress: surfAddress,
	}, nil
}
