package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ever-tezos/faucet-relayer/internal"
	"github.com/ever-tezos/faucet-relayer/internal/address"
	"github.com/ever-tezos/faucet-relayer/internal/clients"
	"github.com/ever-tezos/faucet-relayer/internal/metrics"
	"github.com/ever-tezos/faucet-relayer/internal/status"
	"github.com/ever-tezos/faucet-relayer/internal/submitter"
)

const (
	DefaultTezosRPCURL = "https://rpc.hangzhounet.teztnets.xyz"
	DefaultSDKURL      = "http://localhost:8545"
	DefaultStatusAddr  = "localhost:2223"
)

// FA1.2 contracts the faucet pays tokens out of
var DefaultTokenContracts = []string{
	"KT1S4UuSGsg3aBmdU4px5VY4Ph8bdayxXjuR",
	"KT1E297g3vuJ5DLfoyWygFqBrsSkBaoDQByB",
}

// runCmd represents the relay service
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Relay faucet claims from Everscale to Tezos",
	Long: `Watches the Everscale Faucet contract for claim events, funds the Tezos address
derived from each requester's public key and reports the result back to the Faucet.

Claims are picked up from a live subscription, with a periodic poll of the Faucet's
queue as a fallback for missed deliveries.

Everscale SDK calls go to --ever-sdk-url. The process listening there must speak
JSON-RPC 2.0 over HTTP and forward each method to the Everscale SDK core
(ever-sdk tc_request) with the SDK's own parameter and result objects. The methods
used are client.version, abi.decode_message_body, abi.decode_message,
abi.encode_message, tvm.run_tvm and processing.send_message. GraphQL queries and
subscriptions go to the network endpoints directly.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
		configureLogging(cmd, args)
	},
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Everscale flags
	runCmd.Flags().StringP(
		"keyfile",
		"f",
		"keyfile.json",
		"Json keyfile for Everscale. The key must be a deployer of the Faucet contract")

	runCmd.Flags().StringP(
		"ever",
		"e",
		"localhost",
		"Everscale network, one of 'localhost', 'testnet', 'mainnet'")

	runCmd.Flags().String(
		"ever-sdk-url",
		DefaultSDKURL,
		"JSON-RPC 2.0 service forwarding client.*, abi.*, tvm.run_tvm and processing.send_message to the Everscale SDK core")

	runCmd.Flags().String(
		"faucet-address",
		"",
		"Faucet contract address (derived from the TVC and keyfile when empty)")

	runCmd.Flags().String(
		"faucet-abi",
		"contracts/Faucet.abi.json",
		"Faucet contract ABI")

	runCmd.Flags().String(
		"faucet-tvc",
		"contracts/Faucet.tvc",
		"Faucet contract TVC, used to derive its address")

	// Tezos flags
	runCmd.Flags().StringP(
		"tezos",
		"t",
		DefaultTezosRPCURL,
		"Tezos RPC shell address")

	runCmd.Flags().StringP(
		"key",
		"k",
		"",
		"Tezos Faucet encoded private key (edsk...)")

	runCmd.Flags().StringSlice(
		"token-contracts",
		DefaultTokenContracts,
		"The two FA1.2 contracts tokens are transferred from")

	runCmd.Flags().Int64(
		"tezos-amount",
		internal.DefaultPrimaryAmount,
		"Tez sent per claim, in mutez")

	runCmd.Flags().Int64(
		"token-amount",
		internal.DefaultSecondaryAmount,
		"Tokens sent per claim through each token contract")

	// Loop flags
	runCmd.Flags().Duration(
		"tick",
		internal.DefaultTick,
		"Relay loop period")

	runCmd.Flags().Duration(
		"query-interval",
		internal.DefaultQueryInterval,
		"How often the Faucet queue is polled for missed claims")

	runCmd.Flags().Duration(
		"refresh-interval",
		internal.DefaultRefreshInterval,
		"How often the subscription is recreated")

	runCmd.Flags().Int(
		"dedup-window",
		internal.DefaultDedupWindow,
		"Number of recent claim ids remembered for deduplication")

	runCmd.Flags().Int(
		"queue-size",
		internal.DefaultQueueSize,
		"Maximum number of undrained subscription messages")

	runCmd.Flags().Bool(
		"retry-failed-claims",
		false,
		"Let the queue poll redeliver claims whose Tezos submission failed")

	// Status flags
	runCmd.Flags().String(
		"status-addr",
		DefaultStatusAddr,
		"Status and metrics HTTP listen address (empty disables)")

	runCmd.Flags().String(
		"grpc-health-addr",
		"",
		"gRPC health listen address (empty disables)")

	// Bind flags to viper
	for _, name := range []string{
		"keyfile", "ever", "ever-sdk-url", "faucet-address", "faucet-abi", "faucet-tvc",
		"tezos", "key", "token-contracts", "tezos-amount", "token-amount",
		"tick", "query-interval", "refresh-interval", "dedup-window", "queue-size",
		"retry-failed-claims", "status-addr", "grpc-health-addr",
	} {
		viper.BindPFlag(name, runCmd.Flags().Lookup(name))
	}
}

type RunConfig struct {
	Keyfile           string        // Everscale deployer keyfile
	Network           string        // localhost, testnet or mainnet
	SDKURL            string        // Everscale SDK bridge
	FaucetAddress     string        // Faucet contract address
	FaucetABI         string        // Faucet ABI path
	FaucetTVC         string        // Faucet TVC path
	TezosRPCURL       string        // Tezos RPC shell
	TezosKey          string        // edsk... signing key
	TokenContracts    []string      // FA1.2 intermediary contracts
	TezosAmount       int64         // mutez per claim
	TokenAmount       int64         // tokens per claim and contract
	Tick              time.Duration // loop period
	QueryInterval     time.Duration // queue poll cadence
	RefreshInterval   time.Duration // subscription refresh cadence
	DedupWindow       int           // remembered claim ids
	QueueSize         int           // subscription buffer
	RetryFailedClaims bool          // forget failed claims
	StatusAddr        string        // status HTTP listen address
	GRPCHealthAddr    string        // gRPC health listen address
}

func loadRunConfig() RunConfig {
	return RunConfig{
		Keyfile:           viper.GetString("keyfile"),
		Network:           viper.GetString("ever"),
		SDKURL:            viper.GetString("ever-sdk-url"),
		FaucetAddress:     viper.GetString("faucet-address"),
		FaucetABI:         viper.GetString("faucet-abi"),
		FaucetTVC:         viper.GetString("faucet-tvc"),
		TezosRPCURL:       viper.GetString("tezos"),
		TezosKey:          viper.GetString("key"),
		TokenContracts:    viper.GetStringSlice("token-contracts"),
		TezosAmount:       viper.GetInt64("tezos-amount"),
		TokenAmount:       viper.GetInt64("token-amount"),
		Tick:              viper.GetDuration("tick"),
		QueryInterval:     viper.GetDuration("query-interval"),
		RefreshInterval:   viper.GetDuration("refresh-interval"),
		DedupWindow:       viper.GetInt("dedup-window"),
		QueueSize:         viper.GetInt("queue-size"),
		RetryFailedClaims: viper.GetBool("retry-failed-claims"),
		StatusAddr:        viper.GetString("status-addr"),
		GRPCHealthAddr:    viper.GetString("grpc-health-addr"),
	}
}

// Validate checks everything that can be checked before any connection is made
func (c RunConfig) Validate() error {
	if c.TezosKey == "" {
		return fmt.Errorf("you must provide a Tezos key in format edsk..., see --help")
	}
	if _, err := address.DecodeSecretKey(strings.TrimSpace(c.TezosKey)); err != nil {
		return fmt.Errorf("invalid Tezos key: %w", err)
	}
	if len(c.TokenContracts) != 2 {
		return fmt.Errorf("exactly two token contracts are required, got %d", len(c.TokenContracts))
	}
	if c.TezosAmount < 0 || c.TokenAmount < 0 {
		return fmt.Errorf("amounts must not be negative")
	}
	if _, err := internal.NewRelayerConfig(c.Tick, c.QueryInterval, c.RefreshInterval); err != nil {
		return err
	}
	return nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)
	logger.Info("Started!")

	config := loadRunConfig()
	if err := config.Validate(); err != nil {
		return err
	}
	relayerConfig, _ := internal.NewRelayerConfig(config.Tick, config.QueryInterval, config.RefreshInterval)

	logger.Info("Configuration",
		zap.String("network", config.Network),
		zap.String("sdkURL", config.SDKURL),
		zap.String("faucetAddress", config.FaucetAddress),
		zap.String("tezosRPC", config.TezosRPCURL),
		zap.Strings("tokenContracts", config.TokenContracts),
		zap.Duration("tick", config.Tick),
		zap.Duration("queryInterval", config.QueryInterval),
		zap.Duration("refreshInterval", config.RefreshInterval),
		zap.Int("dedupWindow", config.DedupWindow),
		zap.Bool("retryFailedClaims", config.RetryFailedClaims))

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("Received shutdown signal")
		cancel()
	}()

	faucet, closeEver, err := newFaucetContract(ctx, logger, config)
	if err != nil {
		return err
	}
	defer closeEver()

	tezosClient, err := clients.NewTezosClient(logger, config.TezosRPCURL, config.TezosKey)
	if err != nil {
		return fmt.Errorf("failed to create Tezos client: %v", err)
	}
	tezosSubmitter := submitter.NewTezosSubmitter(logger,
		[2]string{config.TokenContracts[0], config.TokenContracts[1]},
		tezosClient)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	dedup := internal.NewDeduplicator(config.DedupWindow)
	acknowledger := internal.NewAcknowledger(logger, faucet, 0, m)
	processor := internal.NewClaimProcessor(logger,
		internal.ClaimProcessorConfig{
			PrimaryAmount:     config.TezosAmount,
			SecondaryAmount:   config.TokenAmount,
			RetryFailedClaims: config.RetryFailedClaims,
		},
		internal.NewEventDecoder(logger, faucet),
		dedup,
		tezosSubmitter,
		acknowledger,
		m)
	source := internal.NewEventSource(logger, faucet, config.QueueSize, m)

	relayer, err := internal.NewRelayer(logger, relayerConfig, source, processor)
	if err != nil {
		return fmt.Errorf("failed to initialize relayer: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := relayer.Start(gctx); err != nil {
			return fmt.Errorf("relayer stopped with error: %v", err)
		}
		// the relay loop only returns on shutdown; take the servers down with it
		cancel()
		return nil
	})

	if config.StatusAddr != "" {
		statusServer := status.NewServer(logger, config.StatusAddr, relayer, registry)
		g.Go(func() error { return statusServer.Start(gctx) })
	}

	if config.GRPCHealthAddr != "" {
		health := status.NewHealthServer(logger, config.GRPCHealthAddr)
		source.OnStateChange(func(state internal.SubscriptionState) {
			health.SetServing(state == internal.StateSubscribed)
		})
		g.Go(func() error { return health.Start(gctx) })
	}

	return g.Wait()
}

// newFaucetContract connects to Everscale and binds the Faucet contract
func newFaucetContract(ctx context.Context, logger *zap.Logger, config RunConfig) (*internal.FaucetContract, func(), error) {
	keys, err := clients.LoadKeyPair(config.Keyfile)
	if err != nil {
		return nil, nil, err
	}

	abiJSON, err := os.ReadFile(config.FaucetABI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read faucet ABI: %v", err)
	}
	abi, err := clients.NewContractAbi(abiJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid faucet ABI %s: %v", config.FaucetABI, err)
	}

	var tvc string
	if config.FaucetAddress == "" {
		raw, err := os.ReadFile(config.FaucetTVC)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read faucet TVC: %v", err)
		}
		tvc = base64.StdEncoding.EncodeToString(raw)
	}

	sdk, err := clients.NewEverSDKClient(logger, config.SDKURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Everscale SDK client: %v", err)
	}
	gql, err := clients.NewEverGraphQLClient(logger, clients.EndpointsForNetwork(config.Network))
	if err != nil {
		sdk.Close()
		return nil, nil, fmt.Errorf("failed to create Everscale GraphQL client: %v", err)
	}
	closeEver := func() {
		gql.Close()
		sdk.Close()
	}

	faucet, err := internal.NewFaucetContract(ctx, logger, sdk, gql, internal.FaucetConfig{
		Abi:     abi,
		Tvc:     tvc,
		Keys:    keys,
		Address: config.FaucetAddress,
	})
	if err != nil {
		closeEver()
		return nil, nil, fmt.Errorf("failed to bind faucet contract: %v", err)
	}
	return faucet, closeEver, nil
}
