package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
)

// DefaultCoinGeckoURL is the public CoinGecko API root
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGecko prices assets through the CoinGecko simple price endpoint
type CoinGecko struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *TokenPriceCache
	logger     logger.Logger
}

// NewCoinGecko creates a CoinGecko price source. An empty baseURL uses the public API.
func NewCoinGecko(baseURL, apiKey string, cacheTTL time.Duration, log logger.Logger) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &CoinGecko{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      NewTokenPriceCache(cacheTTL),
		logger:     log,
	}
}

// NativeValue returns the USD value of a gas token amount in wei
func (c *CoinGecko) NativeValue(ctx context.Context, chainID uint64, amountWei *big.Int) (decimal.Decimal, error) {
	return nativeValue(ctx, c.price, chainID, amountWei)
}

// TokenValue returns the USD value of a token amount in its smallest unit
func (c *CoinGecko) TokenValue(ctx context.Context, chainID uint64, token string, amount *big.Int) (decimal.Decimal, error) {
	return tokenValue(ctx, c.price, chainID, token, amount)
}

func (c *CoinGecko) price(ctx context.Context, coinID string) (decimal.Decimal, error) {
	if price, ok := c.cache.Get(coinID); ok {
		return price, nil
	}

	price, err := c.fetchPrice(ctx, coinID)
	if err != nil {
		return decimal.Zero, err
	}
	c.cache.Set(coinID, price)
	c.logger.Debug("Fetched %s price: $%s", coinID, price.String())
	return price, nil
}

func (c *CoinGecko) fetchPrice(ctx context.Context, coinID string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, coinID)

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch token price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price API request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response body: %w", err)
	}

	var result map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price response: %w", err)
	}

	tokenData, exists := result[coinID]
	if !exists {
		return decimal.Zero, fmt.Errorf("%w: %s missing from response", ErrNoPrice, coinID)
	}
	price, exists := tokenData["usd"]
	if !exists {
		return decimal.Zero, fmt.Errorf("%w: no USD price for %s", ErrNoPrice, coinID)
	}
	return price, nil
}
