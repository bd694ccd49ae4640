package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
)

// Config holds the configuration for the solver service
type Config struct {
	APIEndpoint     string
	PollingInterval time.Duration
	SolverAddress   string
	PrivateKey      string
	Chains          map[uint64]ChainConfig
	WorkerCount     int
	MetricsPort     string
	MetricsAPIKey   string
	CircuitBreaker  CircuitBreakerConfig
	Engine          EngineConfig
	Settlement      SettlementConfig
	Storage         StorageConfig
	Pricing         PricingConfig
	NATSURL         string
	LoggerConfig    LoggerConfig
}

// EngineConfig holds the order lifecycle limits
type EngineConfig struct {
	MinProfitabilityPct decimal.Decimal
	MonitoringTimeout   time.Duration
	MaxGasPrice         *big.Int
	// PriorityFee switches fills to dynamic fee transactions when set
	PriorityFee         *big.Int
	DeferBackoff        time.Duration
	Confirmations       uint64
	ConfirmationTimeout time.Duration
	ClaimBatchSize      int
	ClaimBatchInterval  time.Duration
}

// SettlementConfig selects and tunes the settlement mechanism
type SettlementConfig struct {
	Mode          string
	DisputePeriod time.Duration
	PollInterval  time.Duration
	Confirmations uint64
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend     string
	Path        string
	DatabaseURL string
}

// PricingConfig selects the price source
type PricingConfig struct {
	Mode            string
	CoinGeckoAPIKey string
	CacheTTL        time.Duration
	StaticPrices    map[string]decimal.Decimal
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
	Format   string
}

// ChainConfig holds the configuration for a specific blockchain
type ChainConfig struct {
	ChainID       uint64
	Name          string
	RPCURL        string
	IntentAddress string
	MinFee        string
	GasMultiplier float64
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{
		PrivateKey:    os.Getenv("PRIVATE_KEY"),
		MetricsAPIKey: os.Getenv("METRICS_API_KEY"),
		Storage: StorageConfig{
			Path:        GetEnvStoragePath(),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Pricing: PricingConfig{
			CoinGeckoAPIKey: os.Getenv("COINGECKO_API_KEY"),
		},
	}

	var err error
	if cfg.APIEndpoint, err = GetEnvAPIEndpoint(); err != nil {
		return nil, err
	}
	if cfg.PollingInterval, err = GetEnvPollingInterval(); err != nil {
		return nil, err
	}
	if cfg.SolverAddress, err = GetEnvSolverAddress(); err != nil {
		return nil, err
	}
	if cfg.Chains, err = GetEnvChainConfigs(); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = GetEnvWorkerCount(); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = GetEnvMetricsPort(); err != nil {
		return nil, err
	}

	if cfg.CircuitBreaker.Enabled, err = GetEnvCircuitBreakerEnabled(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.Threshold, err = GetEnvCircuitBreakerThreshold(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.WindowDuration, err = GetEnvCircuitBreakerWindow(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.ResetTimeout, err = GetEnvCircuitBreakerReset(); err != nil {
		return nil, err
	}

	if cfg.Engine.MinProfitabilityPct, err = GetEnvMinProfitabilityPct(); err != nil {
		return nil, err
	}
	if cfg.Engine.MonitoringTimeout, err = GetEnvMonitoringTimeout(); err != nil {
		return nil, err
	}
	if cfg.Engine.MaxGasPrice, err = GetEnvMaxGasPrice(); err != nil {
		return nil, err
	}
	if cfg.Engine.PriorityFee, err = GetEnvPriorityFee(); err != nil {
		return nil, err
	}
	if cfg.Engine.DeferBackoff, err = GetEnvDeferBackoff(); err != nil {
		return nil, err
	}
	if cfg.Engine.Confirmations, err = GetEnvConfirmations(); err != nil {
		return nil, err
	}
	if cfg.Engine.ConfirmationTimeout, err = GetEnvConfirmationTimeout(); err != nil {
		return nil, err
	}
	if cfg.Engine.ClaimBatchSize, err = GetEnvClaimBatchSize(); err != nil {
		return nil, err
	}
	if cfg.Engine.ClaimBatchInterval, err = GetEnvClaimBatchInterval(); err != nil {
		return nil, err
	}

	if cfg.Settlement.Mode, err = GetEnvSettlementMode(); err != nil {
		return nil, err
	}
	if cfg.Settlement.DisputePeriod, err = GetEnvDisputePeriod(); err != nil {
		return nil, err
	}
	if cfg.Settlement.PollInterval, err = GetEnvSettlementPollInterval(); err != nil {
		return nil, err
	}
	if cfg.Settlement.Confirmations, err = GetEnvSettlementConfirmations(); err != nil {
		return nil, err
	}

	if cfg.Storage.Backend, err = GetEnvStorageBackend(); err != nil {
		return nil, err
	}
	if cfg.NATSURL, err = GetEnvNATSURL(); err != nil {
		return nil, err
	}

	if cfg.Pricing.Mode, err = GetEnvPricingMode(); err != nil {
		return nil, err
	}
	if cfg.Pricing.CacheTTL, err = GetEnvPriceCacheTTL(); err != nil {
		return nil, err
	}
	if cfg.Pricing.StaticPrices, err = GetEnvStaticPrices(); err != nil {
		return nil, err
	}

	if cfg.LoggerConfig.Level, err = GetEnvLogLevel(); err != nil {
		return nil, err
	}
	if cfg.LoggerConfig.Coloring, err = GetEnvLogColoring(); err != nil {
		return nil, err
	}
	if cfg.LoggerConfig.Format, err = GetEnvLogFormat(); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain configuration is required")
	}
	for chainID, chainConfig := range cfg.Chains {
		if chainConfig.IntentAddress == "" {
			return fmt.Errorf("intent address for chain %d is required", chainID)
		}
		if !common.IsHexAddress(chainConfig.IntentAddress) {
			return fmt.Errorf("invalid intent address for chain %d: %s", chainID, chainConfig.IntentAddress)
		}
		if chainConfig.MinFee != "" {
			if _, ok := new(big.Int).SetString(chainConfig.MinFee, 10); !ok {
				return fmt.Errorf("invalid min fee for chain %d: %s", chainID, chainConfig.MinFee)
			}
		}
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required for the postgres storage backend")
	}
	if cfg.Settlement.PollInterval > cfg.Engine.MonitoringTimeout {
		return fmt.Errorf("SETTLEMENT_POLL_SECONDS must not exceed MONITORING_TIMEOUT_MINUTES")
	}
	return nil
}

// MinFeeInt returns the parsed minimum fee of a chain, or zero when unset
func (c ChainConfig) MinFeeInt() *big.Int {
	minFee, ok := new(big.Int).SetString(c.MinFee, 10)
	if !ok {
		return big.NewInt(0)
	}
	return minFee
}
