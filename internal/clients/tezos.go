package clients

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/ever-tezos/faucet-relayer/internal/address"
)

// TezosLimits are the per-operation fee and limits filled in by Autofill
type TezosLimits struct {
	Fee                  int64
	TransferGasLimit     int64
	ContractGasLimit     int64
	StorageLimit         int64
	ContractStorageLimit int64
}

// DefaultTezosLimits cover a plain tz1 transfer and an FA1.2 transfer call
var DefaultTezosLimits = TezosLimits{
	Fee:                  5000,
	TransferGasLimit:     1520,
	ContractGasLimit:     40000,
	StorageLimit:         257,
	ContractStorageLimit: 350,
}

// TezosClient talks to a Tezos node's RPC and signs with an ed25519 key
type TezosClient struct {
	rpcURL     string
	httpClient *http.Client
	key        ed25519.PrivateKey
	pkh        string
	limits     TezosLimits
	logger     *zap.Logger
}

// NewTezosClient creates a client for the node at rpcURL signing with an edsk… key
func NewTezosClient(logger *zap.Logger, rpcURL, secretKey string) (*TezosClient, error) {
	key, err := address.DecodeSecretKey(strings.TrimSpace(secretKey))
	if err != nil {
		return nil, fmt.Errorf("invalid tezos key: %v", err)
	}
	pkh, err := address.Derive(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("derive tezos address: %v", err)
	}

	client := &TezosClient{
		rpcURL: strings.TrimSuffix(rpcURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		key:    key,
		pkh:    pkh,
		limits: DefaultTezosLimits,
		logger: logger.With(zap.String("component", "TezosClient")),
	}

	client.logger.Info("Tezos client initialized",
		zap.String("rpcURL", client.rpcURL),
		zap.String("address", pkh))

	return client, nil
}

// WithLimits overrides the default fee and limits
func (c *TezosClient) WithLimits(limits TezosLimits) *TezosClient {
	c.limits = limits
	return c
}

// PublicKeyHash returns the tz1 address of the signing key
func (c *TezosClient) PublicKeyHash() string {
	return c.pkh
}

// Autofill sets branch, counters, fees and limits and forges the group
func (c *TezosClient) Autofill(ctx context.Context, group *OperationGroup) error {
	if len(group.Contents) == 0 {
		return fmt.Errorf("operation group is empty")
	}

	var branch string
	if err := c.get(ctx, "/chains/main/blocks/head/hash", &branch); err != nil {
		return fmt.Errorf("failed to get head hash: %v", err)
	}

	var counterStr string
	if err := c.get(ctx, fmt.Sprintf("/chains/main/blocks/head/context/contracts/%s/counter", c.pkh), &counterStr); err != nil {
		return fmt.Errorf("failed to get counter: %v", err)
	}
	counter, err := strconv.ParseInt(counterStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid counter %q: %v", counterStr, err)
	}

	group.Branch = branch
	for i := range group.Contents {
		op := &group.Contents[i]
		op.Source = c.pkh
		op.Counter = strconv.FormatInt(counter+int64(i)+1, 10)
		op.Fee = strconv.FormatInt(c.limits.Fee, 10)
		if op.Parameters != nil {
			op.GasLimit = strconv.FormatInt(c.limits.ContractGasLimit, 10)
			op.StorageLimit = strconv.FormatInt(c.limits.ContractStorageLimit, 10)
		} else {
			op.GasLimit = strconv.FormatInt(c.limits.TransferGasLimit, 10)
			op.StorageLimit = strconv.FormatInt(c.limits.StorageLimit, 10)
		}
	}

	var forgedHex string
	if err := c.post(ctx, "/chains/main/blocks/head/helpers/forge/operations", group, &forgedHex); err != nil {
		return fmt.Errorf("failed to forge operations: %v", err)
	}
	forged, err := hex.DecodeString(forgedHex)
	if err != nil {
		return fmt.Errorf("node returned invalid forged bytes: %v", err)
	}

	group.forged = forged
	group.signature = nil

	c.logger.Debug("Operation group autofilled",
		zap.String("branch", branch),
		zap.Int64("counter", counter),
		zap.Int("operations", len(group.Contents)))

	return nil
}

// Sign signs the forged group with the generic-operation watermark
func (c *TezosClient) Sign(group *OperationGroup) error {
	if len(group.forged) == 0 {
		return fmt.Errorf("operation group is not forged")
	}
	digest := blake2b.Sum256(append([]byte{genericOperationWatermark}, group.forged...))
	group.signature = ed25519.Sign(c.key, digest[:])
	return nil
}

// Inject broadcasts a signed group and returns the operation hash
func (c *TezosClient) Inject(ctx context.Context, group *OperationGroup) (string, error) {
	if !group.Signed() {
		return "", fmt.Errorf("operation group is not signed")
	}
	signedHex := hex.EncodeToString(group.forged) + hex.EncodeToString(group.signature)

	var opHash string
	if err := c.do(ctx, http.MethodPost, "/injection/operation?chain=main", signedHex, &opHash); err != nil {
		return "", fmt.Errorf("failed to inject operation: %v", err)
	}
	return opHash, nil
}

// Balance returns the signer's balance in tez
func (c *TezosClient) Balance(ctx context.Context) (float64, error) {
	var mutezStr string
	if err := c.get(ctx, fmt.Sprintf("/chains/main/blocks/head/context/contracts/%s/balance", c.pkh), &mutezStr); err != nil {
		return 0, fmt.Errorf("failed to get balance: %v", err)
	}
	mutez, err := strconv.ParseInt(mutezStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid balance %q: %v", mutezStr, err)
	}
	return float64(mutez) / 1e6, nil
}

// get retries idempotent reads a few times before giving up
func (c *TezosClient) get(ctx context.Context, path string, out interface{}) error {
	return retry.Do(
		func() error {
			return c.do(ctx, http.MethodGet, path, nil, out)
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("Retrying Tezos RPC read",
				zap.String("path", path),
				zap.Uint("try", n+1),
				zap.Error(err))
		}),
	)
}

func (c *TezosClient) post(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *TezosClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %v", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.rpcURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %v", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %v", err)
	}
	return nil
}
