package internal

import (
	"context"
	"time"
)

// Event names emitted by the Faucet contract
const (
	EventNameClaim        = "ClaimEvent"
	EventNameClaimSuccess = "ClaimSuccessEvent"
	bodyTypeEvent         = "Event"
)

// Message is a contract-originated message as delivered by the source feed
type Message struct {
	ID        string `json:"id"`
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	CreatedAt int64  `json:"created_at"`
	Boc       string `json:"boc"`
	Body      string `json:"body"`
}

// MessageFilter selects the messages a subscription delivers
type MessageFilter struct {
	CreatedAfter time.Time // created_at > CreatedAfter
	Src          string    // emitting contract
	Dst          string    // empty for external outbound messages (event logs)
}

// DecodedBody is the ABI-decoded form of a message body or getter output
type DecodedBody struct {
	BodyType string                 `json:"body_type"`
	Name     string                 `json:"name"`
	Value    map[string]interface{} `json:"value"`
}

// ClaimEvent is a request for funding on the destination chain
type ClaimEvent struct {
	ClaimID                uint64
	RequesterPublicKey     [32]byte
	DestinationHintAddress string
}

// HasRequester reports whether the claim carries a non-zero public key
func (c ClaimEvent) HasRequester() bool {
	return c.RequesterPublicKey != [32]byte{}
}

// EventKind tags the variants produced by the decoder
type EventKind int

const (
	EventOther EventKind = iota
	EventClaim
	EventClaimAcknowledged
)

func (k EventKind) String() string {
	switch k {
	case EventClaim:
		return "claim"
	case EventClaimAcknowledged:
		return "claimAcknowledged"
	default:
		return "other"
	}
}

// DecodedEvent is the tagged result of decoding one message
type DecodedEvent struct {
	Kind    EventKind
	Name    string
	Claim   *ClaimEvent // set for EventClaim
	ClaimID uint64      // set for EventClaim and EventClaimAcknowledged
}

// ClaimSuccessParams are the arguments of the Faucet ClaimSuccess call
type ClaimSuccessParams struct {
	UserPubkey    [32]byte
	ClaimID       uint64
	OpHash        string
	SurfAddress   string
	FaucetBalance int64
}

// SubscriptionHandle identifies a live feed owned by a SourceClient
type SubscriptionHandle interface {
	ID() string
}

// SourceClient is the Everscale side of the relay
type SourceClient interface {
	// Address returns the watched Faucet contract address
	Address() string
	// Subscribe starts a live feed; callbacks run on the transport's goroutines
	Subscribe(ctx context.Context, filter MessageFilter, onMessage func(Message), onError func(error)) (SubscriptionHandle, error)
	Unsubscribe(ctx context.Context, handle SubscriptionHandle) error
	// QueryQueue peeks the next unclaimed request; nil when the queue is empty
	QueryQueue(ctx context.Context) (*DecodedBody, error)
	DecodeEventBody(ctx context.Context, body string) (*DecodedBody, error)
	// ClaimSuccess sends the acknowledgement without waiting for its transaction
	ClaimSuccess(ctx context.Context, params ClaimSuccessParams) error
}
