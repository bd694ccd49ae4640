package pricing

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Static prices assets from a fixed table of coin id to USD
type Static struct {
	prices map[string]decimal.Decimal
}

// NewStatic creates a static price source. Keys are CoinGecko-style coin ids.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	normalized := make(map[string]decimal.Decimal, len(prices))
	for id, p := range prices {
		normalized[strings.ToLower(id)] = p
	}
	return &Static{prices: normalized}
}

func (s *Static) NativeValue(ctx context.Context, chainID uint64, amountWei *big.Int) (decimal.Decimal, error) {
	return nativeValue(ctx, s.price, chainID, amountWei)
}

func (s *Static) TokenValue(ctx context.Context, chainID uint64, token string, amount *big.Int) (decimal.Decimal, error) {
	return tokenValue(ctx, s.price, chainID, token, amount)
}

func (s *Static) price(_ context.Context, coinID string) (decimal.Decimal, error) {
	p, ok := s.prices[coinID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s not in static table", ErrNoPrice, coinID)
	}
	return p, nil
}
