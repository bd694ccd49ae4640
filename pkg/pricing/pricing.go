// Package pricing converts on-chain amounts into USD so that costs and
// order values on different chains can be compared.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-solver/pkg/config"
)

// ErrNoPrice is returned when an asset has no known price source
var ErrNoPrice = errors.New("no price available")

// Pricing values native gas amounts and token amounts in USD
type Pricing interface {
	NativeValue(ctx context.Context, chainID uint64, amountWei *big.Int) (decimal.Decimal, error)
	TokenValue(ctx context.Context, chainID uint64, token string, amount *big.Int) (decimal.Decimal, error)
}

// nativeCoinIDs maps chain IDs to the CoinGecko id of their gas token
var nativeCoinIDs = map[uint64]string{
	1:     "ethereum",
	10:    "ethereum",
	56:    "binancecoin",
	137:   "matic-network",
	7000:  "zetachain",
	8453:  "ethereum",
	42161: "ethereum",
	43114: "avalanche-2",
}

// NativeCoinID returns the price id of the chain's gas token
func NativeCoinID(chainID uint64) (string, bool) {
	id, ok := nativeCoinIDs[chainID]
	return id, ok
}

// IsNative reports whether token denotes the chain's gas token
func IsNative(token string) bool {
	t := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(token)), "0x")
	return strings.Trim(t, "0") == ""
}

// ToUnits scales a raw integer amount down by 10^decimals
func ToUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// priceFunc returns the USD price of a coin id
type priceFunc func(ctx context.Context, coinID string) (decimal.Decimal, error)

func nativeValue(ctx context.Context, price priceFunc, chainID uint64, amountWei *big.Int) (decimal.Decimal, error) {
	coinID, ok := NativeCoinID(chainID)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: native token of chain %d", ErrNoPrice, chainID)
	}
	p, err := price(ctx, coinID)
	if err != nil {
		return decimal.Zero, err
	}
	return ToUnits(amountWei, 18).Mul(p), nil
}

// tokenValue prices stablecoins at one dollar and the gas token at its market price
func tokenValue(ctx context.Context, price priceFunc, chainID uint64, token string, amount *big.Int) (decimal.Decimal, error) {
	if IsNative(token) {
		return nativeValue(ctx, price, chainID, amount)
	}
	if config.GetTokenType(chainID, token) != "" {
		return ToUnits(amount, config.GetTokenDecimals(chainID, token)), nil
	}
	return decimal.Zero, fmt.Errorf("%w: token %s on chain %d", ErrNoPrice, token, chainID)
}
