package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Abi is the SDK's tagged ABI value
type Abi struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// NewContractAbi wraps a contract ABI document
func NewContractAbi(abiJSON []byte) (Abi, error) {
	if !json.Valid(abiJSON) {
		return Abi{}, fmt.Errorf("abi is not valid JSON")
	}
	return Abi{Type: "Contract", Value: json.RawMessage(abiJSON)}, nil
}

// KeyPair is an Everscale ed25519 key pair in hex
type KeyPair struct {
	Public string `json:"public"`
	Secret string `json:"secret"`
}

// Signer selects how the SDK signs an encoded message
type Signer struct {
	Type string   `json:"type"`
	Keys *KeyPair `json:"keys,omitempty"`
}

var NoSigner = Signer{Type: "None"}

func KeysSigner(keys KeyPair) Signer {
	return Signer{Type: "Keys", Keys: &keys}
}

type CallSet struct {
	FunctionName string                 `json:"function_name"`
	Input        map[string]interface{} `json:"input,omitempty"`
}

type DeploySet struct {
	Tvc           string                 `json:"tvc"`
	InitialPubkey string                 `json:"initial_pubkey,omitempty"`
	InitialData   map[string]interface{} `json:"initial_data,omitempty"`
}

type EncodeMessageParams struct {
	Abi       Abi        `json:"abi"`
	Address   string     `json:"address,omitempty"`
	DeploySet *DeploySet `json:"deploy_set,omitempty"`
	CallSet   *CallSet   `json:"call_set,omitempty"`
	Signer    Signer     `json:"signer"`
}

type EncodedMessage struct {
	Message   string `json:"message"`
	Address   string `json:"address"`
	MessageID string `json:"message_id"`
}

// DecodedMessageBody is an ABI-decoded message body
type DecodedMessageBody struct {
	BodyType string                 `json:"body_type"`
	Name     string                 `json:"name"`
	Value    map[string]interface{} `json:"value"`
}

// EverSDKClient calls the Everscale SDK through a JSON-RPC 2.0 service that forwards the
// SDK core's module.function API (abi.encode_message, tvm.run_tvm, ...) to tc_request
type EverSDKClient struct {
	rpcClient *rpc.Client
	logger    *zap.Logger
}

// NewEverSDKClient dials the SDK bridge at sdkURL
func NewEverSDKClient(logger *zap.Logger, sdkURL string) (*EverSDKClient, error) {
	client := &EverSDKClient{
		logger: logger.With(zap.String("component", "EverSDKClient")),
	}

	client.logger.Info("Connecting to Everscale SDK bridge", zap.String("sdkURL", sdkURL))

	rpcClient, err := rpc.Dial(sdkURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %v", err)
	}
	client.rpcClient = rpcClient

	if err := client.testConnection(); err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to connect to Everscale SDK bridge: %v", err)
	}
	return client, nil
}

func (c *EverSDKClient) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var version struct {
		Version string `json:"version"`
	}
	if err := c.rpcClient.CallContext(ctx, &version, "client.version"); err != nil {
		return err
	}
	c.logger.Info("Everscale SDK bridge connection successful", zap.String("version", version.Version))
	return nil
}

// Close releases the bridge connection
func (c *EverSDKClient) Close() {
	c.rpcClient.Close()
}

// DecodeMessageBody decodes a raw message body against abi
func (c *EverSDKClient) DecodeMessageBody(ctx context.Context, abi Abi, body string, isInternal bool) (*DecodedMessageBody, error) {
	var result DecodedMessageBody
	err := c.rpcClient.CallContext(ctx, &result, "abi.decode_message_body", map[string]interface{}{
		"abi":         abi,
		"body":        body,
		"is_internal": isInternal,
	})
	if err != nil {
		return nil, fmt.Errorf("abi.decode_message_body: %w", err)
	}
	return &result, nil
}

// DecodeMessage decodes a whole message BOC against abi
func (c *EverSDKClient) DecodeMessage(ctx context.Context, abi Abi, message string) (*DecodedMessageBody, error) {
	var result DecodedMessageBody
	err := c.rpcClient.CallContext(ctx, &result, "abi.decode_message", map[string]interface{}{
		"abi":     abi,
		"message": message,
	})
	if err != nil {
		return nil, fmt.Errorf("abi.decode_message: %w", err)
	}
	return &result, nil
}

// EncodeMessage builds an external inbound message, and its destination address for deploys
func (c *EverSDKClient) EncodeMessage(ctx context.Context, params EncodeMessageParams) (*EncodedMessage, error) {
	var result EncodedMessage
	if err := c.rpcClient.CallContext(ctx, &result, "abi.encode_message", params); err != nil {
		return nil, fmt.Errorf("abi.encode_message: %w", err)
	}
	return &result, nil
}

// RunTVM executes message locally against the account BOC and returns the out messages
func (c *EverSDKClient) RunTVM(ctx context.Context, message, account string, abi Abi) ([]string, error) {
	var result struct {
		OutMessages []string `json:"out_messages"`
	}
	err := c.rpcClient.CallContext(ctx, &result, "tvm.run_tvm", map[string]interface{}{
		"message": message,
		"account": account,
		"abi":     abi,
	})
	if err != nil {
		return nil, fmt.Errorf("tvm.run_tvm: %w", err)
	}
	return result.OutMessages, nil
}

// SendMessage broadcasts message without waiting for its transaction
func (c *EverSDKClient) SendMessage(ctx context.Context, message string, abi Abi) (string, error) {
	var result struct {
		ShardBlockID string `json:"shard_block_id"`
	}
	err := c.rpcClient.CallContext(ctx, &result, "processing.send_message", map[string]interface{}{
		"message":     message,
		"send_events": false,
		"abi":         abi,
	})
	if err != nil {
		return "", fmt.Errorf("processing.send_message: %w", err)
	}

	c.logger.Debug("Message sent", zap.String("shardBlockId", result.ShardBlockID))
	return result.ShardBlockID, nil
}
