package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/ever-tezos/faucet-relayer/internal/clients"
)

const messageFields = "id src dst created_at boc body"

// EverSDK is the part of the Everscale SDK the Faucet binding uses
type EverSDK interface {
	DecodeMessageBody(ctx context.Context, abi clients.Abi, body string, isInternal bool) (*clients.DecodedMessageBody, error)
	DecodeMessage(ctx context.Context, abi clients.Abi, message string) (*clients.DecodedMessageBody, error)
	EncodeMessage(ctx context.Context, params clients.EncodeMessageParams) (*clients.EncodedMessage, error)
	RunTVM(ctx context.Context, message, account string, abi clients.Abi) ([]string, error)
	SendMessage(ctx context.Context, message string, abi clients.Abi) (string, error)
}

// EverGraphQL is the part of the Everscale GraphQL API the Faucet binding uses
type EverGraphQL interface {
	Subscribe(ctx context.Context, query string, variables map[string]interface{}, onData func(json.RawMessage), onError func(error)) (string, error)
	Unsubscribe(id string) error
	AccountBoc(ctx context.Context, address string) (string, error)
}

type FaucetConfig struct {
	Abi     clients.Abi
	Tvc     string // base64 TVC, used to compute the address when Address is empty
	Keys    clients.KeyPair
	Address string
}

// FaucetContract binds the Everscale Faucet contract
type FaucetContract struct {
	sdk     EverSDK
	gql     EverGraphQL
	abi     clients.Abi
	keys    clients.KeyPair
	address string
	logger  *zap.Logger
}

type subscriptionID string

func (s subscriptionID) ID() string { return string(s) }

// NewFaucetContract binds the Faucet, deriving its address from the TVC and deployer key if needed
func NewFaucetContract(ctx context.Context, logger *zap.Logger, sdk EverSDK, gql EverGraphQL, config FaucetConfig) (*FaucetContract, error) {
	f := &FaucetContract{
		sdk:     sdk,
		gql:     gql,
		abi:     config.Abi,
		keys:    config.Keys,
		address: config.Address,
		logger:  logger.With(zap.String("component", "FaucetContract")),
	}

	if f.address == "" {
		if config.Tvc == "" {
			return nil, fmt.Errorf("faucet address or tvc is required")
		}
		encoded, err := sdk.EncodeMessage(ctx, clients.EncodeMessageParams{
			Abi:       f.abi,
			DeploySet: &clients.DeploySet{Tvc: config.Tvc, InitialPubkey: config.Keys.Public},
			Signer:    clients.KeysSigner(config.Keys),
		})
		if err != nil {
			return nil, fmt.Errorf("derive faucet address: %w", err)
		}
		f.address = encoded.Address
	}

	f.logger.Info("Faucet contract bound", zap.String("address", f.address))
	return f, nil
}

// Address returns the Faucet contract address
func (f *FaucetContract) Address() string {
	return f.address
}

// Subscribe subscribes to the Faucet's external outbound messages matching filter
func (f *FaucetContract) Subscribe(ctx context.Context, filter MessageFilter, onMessage func(Message), onError func(error)) (SubscriptionHandle, error) {
	query := fmt.Sprintf(`subscription($createdAt: Float, $src: String, $dst: String) {
	messages(filter: { created_at: { gt: $createdAt }, src: { eq: $src }, dst: { eq: $dst } }) { %s }
}`, messageFields)
	variables := map[string]interface{}{
		"createdAt": filter.CreatedAfter.Unix(),
		"src":       filter.Src,
		"dst":       filter.Dst,
	}

	id, err := f.gql.Subscribe(ctx, query, variables, func(data json.RawMessage) {
		var event struct {
			Messages *Message `json:"messages"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			onError(fmt.Errorf("malformed subscription event: %w", err))
			return
		}
		if event.Messages == nil {
			return
		}
		onMessage(*event.Messages)
	}, onError)
	if err != nil {
		return nil, err
	}
	return subscriptionID(id), nil
}

// Unsubscribe stops a subscription created by Subscribe
func (f *FaucetContract) Unsubscribe(ctx context.Context, handle SubscriptionHandle) error {
	return f.gql.Unsubscribe(handle.ID())
}

// DecodeEventBody decodes an external outbound message body
func (f *FaucetContract) DecodeEventBody(ctx context.Context, body string) (*DecodedBody, error) {
	decoded, err := f.sdk.DecodeMessageBody(ctx, f.abi, body, false)
	if err != nil {
		return nil, err
	}
	return &DecodedBody{BodyType: decoded.BodyType, Name: decoded.Name, Value: decoded.Value}, nil
}

// QueryQueue runs the query_queue getter locally against the current account state.
// It returns nil when the contract is not deployed.
func (f *FaucetContract) QueryQueue(ctx context.Context) (*DecodedBody, error) {
	return f.runGetter(ctx, "query_queue", nil)
}

// ClaimSuccess sends the acknowledgement signed with the deployer key and does not
// wait for the resulting transaction
func (f *FaucetContract) ClaimSuccess(ctx context.Context, params ClaimSuccessParams) error {
	input := map[string]interface{}{
		"user_pubkey":    hexutil.EncodeBig(new(big.Int).SetBytes(params.UserPubkey[:])),
		"claim_id":       hexutil.EncodeUint64(params.ClaimID),
		"op_hash":        params.OpHash,
		"surf_address":   params.SurfAddress,
		"faucet_balance": hexutil.EncodeBig(big.NewInt(params.FaucetBalance)),
	}

	encoded, err := f.sdk.EncodeMessage(ctx, clients.EncodeMessageParams{
		Abi:     f.abi,
		Address: f.address,
		CallSet: &clients.CallSet{FunctionName: "ClaimSuccess", Input: input},
		Signer:  clients.KeysSigner(f.keys),
	})
	if err != nil {
		return fmt.Errorf("encode ClaimSuccess: %w", err)
	}
	if _, err := f.sdk.SendMessage(ctx, encoded.Message, f.abi); err != nil {
		return fmt.Errorf("send ClaimSuccess: %w", err)
	}

	f.logger.Debug("ClaimSuccess sent",
		zap.Uint64("claimId", params.ClaimID),
		zap.String("messageId", encoded.MessageID))
	return nil
}

func (f *FaucetContract) runGetter(ctx context.Context, function string, input map[string]interface{}) (*DecodedBody, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	boc, err := f.gql.AccountBoc(ctx, f.address)
	if err != nil {
		return nil, err
	}
	if boc == "" {
		f.logger.Debug("Faucet account has no state", zap.String("address", f.address))
		return nil, nil
	}

	encoded, err := f.sdk.EncodeMessage(ctx, clients.EncodeMessageParams{
		Abi:     f.abi,
		Address: f.address,
		CallSet: &clients.CallSet{FunctionName: function, Input: input},
		Signer:  clients.NoSigner,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", function, err)
	}

	out, err := f.sdk.RunTVM(ctx, encoded.Message, boc, f.abi)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", function, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s produced no output", function)
	}

	decoded, err := f.sdk.DecodeMessage(ctx, f.abi, out[0])
	if err != nil {
		return nil, fmt.Errorf("decode %s output: %w", function, err)
	}
	return &DecodedBody{BodyType: decoded.BodyType, Name: decoded.Name, Value: decoded.Value}, nil
}
