package submitter

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ever-tezos/faucet-relayer/internal/clients"
)

// TezosClient is the part of the Tezos client the submitter relies on
type TezosClient interface {
	PublicKeyHash() string
	Autofill(ctx context.Context, group *clients.OperationGroup) error
	Sign(group *clients.OperationGroup) error
	Inject(ctx context.Context, group *clients.OperationGroup) (string, error)
	Balance(ctx context.Context) (float64, error)
}

// TezosSubmitter funds claim addresses with one batched operation group:
// a token transfer through each intermediary contract, then a plain tez transfer.
type TezosSubmitter struct {
	tokenContracts [2]string
	tezosClient    TezosClient
	logger         *zap.Logger
}

// NewTezosSubmitter creates a new Tezos submitter instance
func NewTezosSubmitter(logger *zap.Logger, tokenContracts [2]string, tezosClient TezosClient) *TezosSubmitter {
	return &TezosSubmitter{
		tokenContracts: tokenContracts,
		tezosClient:    tezosClient,
		logger:         logger.With(zap.String("component", "TezosSubmitter")),
	}
}

// Submit builds, signs and injects the funding bundle and reports the faucet balance
func (s *TezosSubmitter) Submit(ctx context.Context, address string, primaryAmount, secondaryAmount int64) (result SubmissionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tezos client panicked: %v", r)
		}
		if err != nil {
			s.logger.Error("Tezos transfer error",
				zap.String("tezosAddress", address),
				zap.Error(err))
			result, err = Failed, errors.Mark(err, ErrSubmission)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	s.logger.Info("Submitting funding bundle",
		zap.String("tezosAddress", address),
		zap.Int64("tezosAmount", primaryAmount),
		zap.Int64("tokenAmount", secondaryAmount))

	source := s.tezosClient.PublicKeyHash()
	group := clients.NewOperationGroup().
		Transaction(s.tokenContracts[0], 0, tokenTransfer(source, address, secondaryAmount)).
		Transaction(s.tokenContracts[1], 0, tokenTransfer(source, address, secondaryAmount)).
		Transaction(address, primaryAmount, nil)

	if err := s.tezosClient.Autofill(ctx, group); err != nil {
		return Failed, fmt.Errorf("autofill: %w", err)
	}
	if err := s.tezosClient.Sign(group); err != nil {
		return Failed, fmt.Errorf("sign: %w", err)
	}
	txHash, err := s.tezosClient.Inject(ctx, group)
	if err != nil {
		return Failed, fmt.Errorf("inject: %w", err)
	}
	if txHash == "" {
		txHash = "failed"
	}

	balance, err := s.tezosClient.Balance(ctx)
	if err != nil {
		return Failed, fmt.Errorf("balance after %s: %w", txHash, err)
	}

	s.logger.Info("Funding bundle injected",
		zap.String("txHash", txHash),
		zap.String("tezosAddress", address),
		zap.Float64("faucetBalance", balance))

	return SubmissionResult{
		TransactionHash:  txHash,
		ResultingBalance: int64(math.Round(balance * 1e6)),
		Succeeded:        true,
	}, nil
}

// tokenTransfer renders the FA1.2 transfer(from, (to, value)) parameter
func tokenTransfer(from, to string, value int64) *clients.Parameters {
	return &clients.Parameters{
		Entrypoint: "transfer",
		Value: map[string]interface{}{
			"prim": "Pair",
			"args": []interface{}{
				map[string]interface{}{"string": from},
				map[string]interface{}{
					"prim": "Pair",
					"args": []interface{}{
						map[string]interface{}{"string": to},
						map[string]interface{}{"int": strconv.FormatInt(value, 10)},
					},
				},
			},
		},
	}
}
