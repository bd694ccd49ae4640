package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/chainclient"
	"github.com/speedrun-hq/speedrun-solver/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-solver/pkg/config"
	"github.com/speedrun-hq/speedrun-solver/pkg/discovery"
	"github.com/speedrun-hq/speedrun-solver/pkg/engine"
	"github.com/speedrun-hq/speedrun-solver/pkg/eventbus"
	"github.com/speedrun-hq/speedrun-solver/pkg/execution"
	"github.com/speedrun-hq/speedrun-solver/pkg/health"
	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/pricing"
	"github.com/speedrun-hq/speedrun-solver/pkg/profitability"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol/dispute"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol/speedrun"
	"github.com/speedrun-hq/speedrun-solver/pkg/storage"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	lg := newLogger(cfg.LoggerConfig)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		lg.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("Solver stopped with error: %v", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggerConfig) logger.Logger {
	if cfg.Format == config.LogFormatJSON {
		return logger.NewLogrusLogger(os.Stdout, cfg.Level, true)
	}
	return logger.NewStdLogger(cfg.Coloring, cfg.Level)
}

func run(ctx context.Context, cfg *config.Config, lg logger.Logger) error {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			lg.Error("Failed to close store: %v", err)
		}
	}()

	var sink *eventbus.NATSSink
	if cfg.NATSURL != "" {
		sink, err = eventbus.NewNATSSink(cfg.NATSURL, lg)
		if err != nil {
			return err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				lg.Error("Failed to close NATS sink: %v", err)
			}
		}()
	}

	// closed before the sink so the mirror stops first
	bus := eventbus.New(lg)
	defer bus.Close()
	if sink != nil {
		bus.AddSink(sink)
		lg.Info("Mirroring lifecycle events to NATS at %s", cfg.NATSURL)
	}

	chains, err := dialChains(ctx, cfg, lg)
	if err != nil {
		return err
	}
	deliver := chainclient.NewDelivery(chains...)
	approveIntentContracts(ctx, chains, cfg.Engine.Confirmations, lg)

	gasTracker := chainclient.NewGasPriceTracker(chains, chainclient.DefaultGasUpdateInterval, lg)
	gasTracker.Start(ctx)
	defer gasTracker.Stop()

	registry := newRegistry(cfg, deliver)

	var prices pricing.Pricing
	switch cfg.Pricing.Mode {
	case config.PricingStatic:
		prices = pricing.NewStatic(cfg.Pricing.StaticPrices)
	default:
		prices = pricing.NewCoinGecko(pricing.DefaultCoinGeckoURL, cfg.Pricing.CoinGeckoAPIKey, cfg.Pricing.CacheTTL, lg)
	}

	source, err := discovery.NewAPIDiscovery(cfg.APIEndpoint, cfg.PollingInterval, lg)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Workers:             cfg.WorkerCount,
		SolverAddress:       cfg.SolverAddress,
		Settlement:          cfg.Settlement.Mode,
		DeferBackoff:        cfg.Engine.DeferBackoff,
		Confirmations:       cfg.Engine.Confirmations,
		ConfirmationTimeout: cfg.Engine.ConfirmationTimeout,
		MonitoringTimeout:   cfg.Engine.MonitoringTimeout,
		ClaimBatchSize:      cfg.Engine.ClaimBatchSize,
		ClaimBatchInterval:  cfg.Engine.ClaimBatchInterval,
	}, engine.Deps{
		Store:     store,
		Registry:  registry,
		Delivery:  deliver,
		Bus:       bus,
		Builder:   execution.NewBuilder(deliver, cfg.SolverAddress, lg),
		Evaluator: profitability.NewEvaluator(prices, cfg.Engine.MinProfitabilityPct, lg),
		Strategy: &execution.DefaultStrategy{
			MaxGasPrice:  cfg.Engine.MaxGasPrice,
			DeferBackoff: cfg.Engine.DeferBackoff,
			PriorityFee:  cfg.Engine.PriorityFee,
		},
		Discovery: source,
		Logger:    lg,
	})

	healthChains := make(map[uint64]health.Chain, len(cfg.Chains))
	for id, c := range cfg.Chains {
		healthChains[id] = health.Chain{Name: c.Name, IntentAddress: c.IntentAddress}
	}
	server := health.NewServer(cfg.MetricsPort, cfg.MetricsAPIKey, eng, healthChains, deliver, deliver.Breakers(), lg)
	go func() {
		if err := server.Start(ctx); err != nil {
			lg.Error("Health server error: %v", err)
		}
	}()

	lg.Notice("Starting solver %s on %d chains (settlement %s)", cfg.SolverAddress, len(chains), cfg.Settlement.Mode)
	return eng.Run(ctx)
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil
	case config.StoragePostgres:
		return storage.NewGormStore(cfg.DatabaseURL)
	default:
		return storage.NewFileStore(cfg.Path)
	}
}

func dialChains(ctx context.Context, cfg *config.Config, lg logger.Logger) ([]*chainclient.Client, error) {
	clients := make([]*chainclient.Client, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		breaker := circuitbreaker.NewCircuitBreaker(
			chainCfg.ChainID,
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
			lg,
		)

		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		client, err := chainclient.Dial(dialCtx, chainCfg, cfg.PrivateKey, breaker, lg)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", chainCfg.Name, err)
		}
		lg.InfoWithChain(chainCfg.ChainID, "Connected to %s", chainCfg.Name)
		clients = append(clients, client)
	}
	return clients, nil
}

// approvalFloor is the allowance below which the Intent contract is approved again
var approvalFloor = new(big.Int).Lsh(big.NewInt(1), 128)

// approveIntentContracts lets each chain's Intent contract pull the stablecoins
// used for fills. Failures are logged; fills on that chain will revert until fixed.
func approveIntentContracts(ctx context.Context, chains []*chainclient.Client, confirmations uint64, lg logger.Logger) {
	for _, c := range chains {
		for _, token := range []string{config.GetUSDCAddress(c.ChainID), config.GetUSDTAddress(c.ChainID)} {
			if token == "" {
				continue
			}
			approveCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			err := c.EnsureAllowance(approveCtx, token, c.IntentAddress.Hex(), approvalFloor, confirmations)
			cancel()
			if err != nil {
				lg.ErrorWithChain(c.ChainID, "Failed to approve %s for the Intent contract: %v", token, err)
			}
		}
	}
}

func newRegistry(cfg *config.Config, deliver *chainclient.Delivery) *protocol.Registry {
	chains := make(map[uint64]speedrun.Chain, len(cfg.Chains))
	for id, c := range cfg.Chains {
		tokens := make(map[string]string)
		if addr := config.GetUSDCAddress(id); addr != "" {
			tokens[speedrun.TokenTypeUSDC] = addr
		}
		if addr := config.GetUSDTAddress(id); addr != "" {
			tokens[speedrun.TokenTypeUSDT] = addr
		}
		chains[id] = speedrun.Chain{IntentAddress: c.IntentAddress, Tokens: tokens}
	}

	registry := protocol.NewRegistry()
	registry.RegisterStandard(speedrun.NewStandard(chains))
	registry.RegisterSettlement(speedrun.NewSettlement(chains, deliver, speedrun.SettlementConfig{
		Confirmations: cfg.Settlement.Confirmations,
		PollInterval:  cfg.Settlement.PollInterval,
	}))
	registry.RegisterSettlement(dispute.NewSettlement(deliver, cfg.Settlement.DisputePeriod, cfg.Settlement.PollInterval))
	return registry
}
