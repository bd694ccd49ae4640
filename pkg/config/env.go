package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
)

const (
	// DefaultPollingInterval defines the default discovery polling interval in seconds
	DefaultPollingInterval = 5

	// MaxPollingInterval is the upper bound for the discovery polling interval in seconds
	MaxPollingInterval = 300

	// DefaultWorkerCount defines the default number of workers processing lifecycle events
	DefaultWorkerCount = 5

	// DefaultMetricsPort defines the default port for the health and metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker in seconds
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker in seconds
	DefaultCircuitBreakerReset = 15

	// DefaultMaxGasPrice is the gas price ceiling in wei above which execution is deferred
	DefaultMaxGasPrice = "100000000000" // 100 Gwei

	// DefaultAPIEndpoint defines the default API endpoint for the Speedrun service
	DefaultAPIEndpoint = "https://api.speedrun.exchange"

	// DefaultMinProfitabilityPct is the minimum margin, in percent of input value, an order must clear
	DefaultMinProfitabilityPct = "1"

	// DefaultMonitoringTimeoutMinutes bounds how long settlement monitoring waits for a claimable proof
	DefaultMonitoringTimeoutMinutes = 30

	// DefaultDeferBackoff is the delay in seconds before a deferred order is evaluated again
	DefaultDeferBackoff = 60

	// DefaultConfirmations is the number of blocks a transaction needs before it counts as confirmed
	DefaultConfirmations = 1

	// DefaultConfirmationTimeout bounds a single confirmation wait in seconds
	DefaultConfirmationTimeout = 300

	// DefaultSettlementMode selects the settlement used for new orders
	DefaultSettlementMode = SettlementSpeedrun

	// DefaultDisputePeriod is the dispute window in seconds for dispute settlement
	DefaultDisputePeriod = 300

	// DefaultSettlementPollInterval is how often settlement state is polled, in seconds
	DefaultSettlementPollInterval = 15

	// DefaultSettlementConfirmations is the depth a settlement log needs before claiming
	DefaultSettlementConfirmations = 3

	// DefaultClaimBatchSize caps the number of claims submitted together
	DefaultClaimBatchSize = 10

	// DefaultClaimBatchInterval is how long ready claims may wait for a batch, in seconds
	DefaultClaimBatchInterval = 15

	// DefaultStorageBackend selects where orders are persisted
	DefaultStorageBackend = StorageFile

	// DefaultStoragePath is the directory used by the file backend
	DefaultStoragePath = "data"

	// DefaultPricingMode selects the price source
	DefaultPricingMode = PricingCoinGecko

	// DefaultPriceCacheTTL is how long token prices are cached
	DefaultPriceCacheTTL = 5 * time.Minute

	// DefaultGasMultiplier pads suggested gas prices by 10%
	DefaultGasMultiplier = 1.1
)

const (
	SettlementSpeedrun = "speedrun"
	SettlementDispute  = "dispute"

	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"

	PricingCoinGecko = "coingecko"
	PricingStatic    = "static"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// envPositiveInt reads an integer variable that must be greater than 0
func envPositiveInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// envSeconds reads a positive number of seconds as a duration
func envSeconds(key string, defaultValue int) (time.Duration, error) {
	seconds, err := envPositiveInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

// envChoice reads a variable restricted to a fixed set of values
func envChoice(key, defaultValue string, choices ...string) (string, error) {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	for _, c := range choices {
		if value == c {
			return value, nil
		}
	}
	return "", fmt.Errorf("invalid %s value: %s, must be one of %s", key, value, strings.Join(choices, ", "))
}

// GetEnvPollingInterval returns the discovery polling interval from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	interval, err := envSeconds("POLLING_INTERVAL", DefaultPollingInterval)
	if err != nil {
		return 0, err
	}
	if interval > MaxPollingInterval*time.Second {
		return 0, fmt.Errorf("POLLING_INTERVAL must be between 1 and %d", MaxPollingInterval)
	}
	return interval, nil
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	return envPositiveInt("WORKER_COUNT", DefaultWorkerCount)
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvSolverAddress returns the solver address override, empty when it should be derived from the key
func GetEnvSolverAddress() (string, error) {
	solverAddress := os.Getenv("SOLVER_ADDRESS")
	if solverAddress == "" {
		return "", nil
	}

	if !common.IsHexAddress(solverAddress) {
		return "", fmt.Errorf("invalid SOLVER_ADDRESS value: %s, must be a valid Ethereum address", solverAddress)
	}
	return solverAddress, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return envPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvPriorityFee returns the priority fee in wei from PRIORITY_FEE_GWEI.
// Unset means fills go out as legacy transactions.
func GetEnvPriorityFee() (*big.Int, error) {
	fee := os.Getenv("PRIORITY_FEE_GWEI")
	if fee == "" {
		return nil, nil
	}

	gwei, err := decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("invalid PRIORITY_FEE_GWEI value: %s, must be a decimal number", fee)
	}
	if gwei.IsNegative() {
		return nil, fmt.Errorf("invalid PRIORITY_FEE_GWEI value: %s, must be greater than or equal to 0", fee)
	}
	return gwei.Shift(9).BigInt(), nil
}

// GetEnvMaxGasPrice returns the gas price ceiling in wei from environment variables
func GetEnvMaxGasPrice() (*big.Int, error) {
	maxGasPrice := os.Getenv("MAX_GAS_PRICE")
	if maxGasPrice == "" {
		maxGasPrice = DefaultMaxGasPrice
	}

	maxGasPriceBig := new(big.Int)
	if _, ok := maxGasPriceBig.SetString(maxGasPrice, 10); !ok {
		return nil, fmt.Errorf("invalid MAX_GAS_PRICE value: %s, must be a valid integer string", maxGasPrice)
	}

	if maxGasPriceBig.Sign() < 0 {
		return nil, fmt.Errorf("MAX_GAS_PRICE must be greater than or equal to 0")
	}
	return maxGasPriceBig, nil
}

// GetEnvAPIEndpoint returns the API endpoint from environment variables
func GetEnvAPIEndpoint() (string, error) {
	apiEndpoint := os.Getenv("API_ENDPOINT")
	if apiEndpoint == "" {
		return DefaultAPIEndpoint, nil
	}

	if _, err := url.ParseRequestURI(apiEndpoint); err != nil {
		return "", fmt.Errorf("invalid API_ENDPOINT value: %s, must be a valid URL", apiEndpoint)
	}
	return apiEndpoint, nil
}

// GetEnvMinProfitabilityPct returns the minimum profit margin in percent
func GetEnvMinProfitabilityPct() (decimal.Decimal, error) {
	value := os.Getenv("MIN_PROFITABILITY_PCT")
	if value == "" {
		value = DefaultMinProfitabilityPct
	}

	pct, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid MIN_PROFITABILITY_PCT value: %s, must be a number", value)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("invalid MIN_PROFITABILITY_PCT value: %s, must be between 0 and 100", value)
	}
	return pct, nil
}

// GetEnvMonitoringTimeout returns the settlement monitoring timeout, configured in minutes
func GetEnvMonitoringTimeout() (time.Duration, error) {
	minutes, err := envPositiveInt("MONITORING_TIMEOUT_MINUTES", DefaultMonitoringTimeoutMinutes)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

// GetEnvDeferBackoff returns the delay before a deferred order is evaluated again
func GetEnvDeferBackoff() (time.Duration, error) {
	return envSeconds("DEFER_BACKOFF_SECONDS", DefaultDeferBackoff)
}

// GetEnvConfirmations returns how many blocks a transaction needs to count as confirmed
func GetEnvConfirmations() (uint64, error) {
	confirmations, err := envPositiveInt("CONFIRMATIONS", DefaultConfirmations)
	return uint64(confirmations), err
}

// GetEnvConfirmationTimeout returns the bound of a single confirmation wait
func GetEnvConfirmationTimeout() (time.Duration, error) {
	return envSeconds("CONFIRMATION_TIMEOUT_SECONDS", DefaultConfirmationTimeout)
}

// GetEnvSettlementMode returns which settlement new orders use
func GetEnvSettlementMode() (string, error) {
	return envChoice("SETTLEMENT_MODE", DefaultSettlementMode, SettlementSpeedrun, SettlementDispute)
}

// GetEnvDisputePeriod returns the dispute window for dispute settlement
func GetEnvDisputePeriod() (time.Duration, error) {
	return envSeconds("DISPUTE_PERIOD_SECONDS", DefaultDisputePeriod)
}

// GetEnvSettlementPollInterval returns how often settlement state is polled
func GetEnvSettlementPollInterval() (time.Duration, error) {
	return envSeconds("SETTLEMENT_POLL_SECONDS", DefaultSettlementPollInterval)
}

// GetEnvSettlementConfirmations returns the depth a settlement log needs before it is trusted
func GetEnvSettlementConfirmations() (uint64, error) {
	confirmations, err := envPositiveInt("SETTLEMENT_CONFIRMATIONS", DefaultSettlementConfirmations)
	return uint64(confirmations), err
}

// GetEnvClaimBatchSize returns the maximum number of claims submitted together
func GetEnvClaimBatchSize() (int, error) {
	return envPositiveInt("CLAIM_BATCH_SIZE", DefaultClaimBatchSize)
}

// GetEnvClaimBatchInterval returns how long ready claims may wait for a batch
func GetEnvClaimBatchInterval() (time.Duration, error) {
	return envSeconds("CLAIM_BATCH_INTERVAL_SECONDS", DefaultClaimBatchInterval)
}

// GetEnvStorageBackend returns the storage backend name
func GetEnvStorageBackend() (string, error) {
	return envChoice("STORAGE_BACKEND", DefaultStorageBackend, StorageMemory, StorageFile, StoragePostgres)
}

// GetEnvStoragePath returns the directory of the file storage backend
func GetEnvStoragePath() string {
	if path := os.Getenv("STORAGE_PATH"); path != "" {
		return path
	}
	return DefaultStoragePath
}

// GetEnvNATSURL returns the optional NATS server URL events are mirrored to
func GetEnvNATSURL() (string, error) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		return "", nil
	}

	parsed, err := url.Parse(natsURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid NATS_URL value: %s, must be a valid URL", natsURL)
	}
	return natsURL, nil
}

// GetEnvPricingMode returns the price source name
func GetEnvPricingMode() (string, error) {
	return envChoice("PRICING_MODE", DefaultPricingMode, PricingCoinGecko, PricingStatic)
}

// GetEnvPriceCacheTTL returns how long fetched prices stay valid
func GetEnvPriceCacheTTL() (time.Duration, error) {
	ttl := os.Getenv("PRICE_CACHE_TTL")
	if ttl == "" {
		return DefaultPriceCacheTTL, nil
	}

	parsed, err := time.ParseDuration(ttl)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid PRICE_CACHE_TTL value: %s, must be a positive duration string", ttl)
	}
	return parsed, nil
}

// GetEnvStaticPrices parses STATIC_PRICES, a comma separated list of coin=usd pairs
func GetEnvStaticPrices() (map[string]decimal.Decimal, error) {
	prices := map[string]decimal.Decimal{}
	value := os.Getenv("STATIC_PRICES")
	if value == "" {
		return prices, nil
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid STATIC_PRICES entry: %s, must be coin=price", pair)
		}
		price, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid STATIC_PRICES price for %s: %s", parts[0], parts[1])
		}
		prices[strings.ToLower(parts[0])] = price
	}
	return prices, nil
}

// GetEnvLogLevel returns the minimum log level
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %s, must be debug, info, notice, warn or error", level)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether chain prefixes are colored
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	switch coloring {
	case "", "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvLogFormat returns text or json
func GetEnvLogFormat() (string, error) {
	return envChoice("LOG_FORMAT", LogFormatText, LogFormatText, LogFormatJSON)
}

// GetEnvChainConfigs returns the chain configurations, read from CHAINS_CONFIG_FILE when set
// and otherwise from the built-in mainnet defaults with per-chain environment overrides.
// CHAINS optionally restricts the built-in set to a comma separated list of names.
func GetEnvChainConfigs() (map[uint64]ChainConfig, error) {
	if path := os.Getenv("CHAINS_CONFIG_FILE"); path != "" {
		return LoadChainsFile(path)
	}

	enabled := map[string]bool{}
	if list := os.Getenv("CHAINS"); list != "" {
		for _, name := range strings.Split(list, ",") {
			enabled[strings.ToUpper(strings.TrimSpace(name))] = true
		}
	}

	chains := make(map[uint64]ChainConfig)
	for _, c := range knownChains {
		if len(enabled) > 0 && !enabled[c.Name] {
			continue
		}

		rpc := os.Getenv(c.Name + "_RPC_URL")
		if rpc == "" {
			rpc = c.RPCURL
		}
		intent := os.Getenv(c.Name + "_INTENT_ADDRESS")
		if intent == "" {
			intent = c.IntentAddress
		}
		minFee := os.Getenv(c.Name + "_MIN_FEE")
		if minFee == "" {
			minFee = c.MinFee
		}

		multiplier := DefaultGasMultiplier
		if value := os.Getenv(c.Name + "_GAS_MULTIPLIER"); value != "" {
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("invalid %s_GAS_MULTIPLIER value: %s, must be a positive number", c.Name, value)
			}
			multiplier = parsed
		}

		chains[c.ChainID] = ChainConfig{
			ChainID:       c.ChainID,
			Name:          c.Name,
			RPCURL:        rpc,
			IntentAddress: intent,
			MinFee:        minFee,
			GasMultiplier: multiplier,
		}
	}
	return chains, nil
}
