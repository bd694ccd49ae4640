package profitability

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-solver/pkg/config"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/pricing"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMargin(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		out     string
		cost    string
		want    string
		wantErr bool
	}{
		{name: "two percent", in: "100", out: "97", cost: "1", want: "2"},
		{name: "break even", in: "50", out: "49", cost: "1", want: "0"},
		{name: "loss", in: "10", out: "10", cost: "0.5", want: "-5"},
		{name: "zero input", in: "0", out: "0", cost: "0", wantErr: true},
		{name: "negative input", in: "-1", out: "0", cost: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Margin(d(tt.in), d(tt.out), d(tt.cost))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrZeroInput)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func usdcOrder(input, output int64) *models.Order {
	return &models.Order{
		ID:       "o1",
		Standard: "speedrun",
		Inputs:   []models.ChainAmount{{ChainID: 8453, Token: config.GetUSDCAddress(8453), Amount: big.NewInt(input)}},
		Outputs:  []models.ChainAmount{{ChainID: 42161, Token: config.GetUSDCAddress(42161), Amount: big.NewInt(output)}},
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	prices := pricing.NewStatic(map[string]decimal.Decimal{"ethereum": decimal.NewFromInt(2000)})
	execCtx := &models.ExecutionContext{
		GasPrices: map[uint64]*big.Int{
			8453:  big.NewInt(1_000_000_000), // 1 gwei
			42161: big.NewInt(1_000_000_000),
		},
	}

	t.Run("fill only profile", func(t *testing.T) {
		e := NewEvaluator(prices, d("1"), nil)
		e.SetGasProfile("speedrun", GasProfile{Fill: 100_000})

		// $100 in, $98 out, fill costs 100k gas * 1 gwei * $2000 = $0.20
		res, err := e.Evaluate(ctx, usdcOrder(100_000_000, 98_000_000), execCtx)
		require.NoError(t, err)
		require.Len(t, res.Estimate.Items, 1)
		assert.Equal(t, models.StageFill, res.Estimate.Items[0].Stage)
		assert.Equal(t, uint64(42161), res.Estimate.Items[0].ChainID)
		assert.True(t, res.Estimate.OperatingCost.Equal(d("0.2")))
		assert.True(t, res.Margin.Equal(d("1.8")), "margin %s", res.Margin)
		assert.True(t, res.Profitable)
	})

	t.Run("below threshold", func(t *testing.T) {
		e := NewEvaluator(prices, d("2"), nil)
		res, err := e.Evaluate(ctx, usdcOrder(100_000_000, 98_000_000), execCtx)
		require.NoError(t, err)
		// default profile adds a claim on the origin chain
		assert.Len(t, res.Estimate.Items, 2)
		assert.False(t, res.Profitable)
	})

	t.Run("missing gas price", func(t *testing.T) {
		e := NewEvaluator(prices, d("1"), nil)
		_, err := e.Evaluate(ctx, usdcOrder(100, 98), &models.ExecutionContext{})
		assert.ErrorIs(t, err, ErrMissingGasPrice)
	})

	t.Run("unpriceable token", func(t *testing.T) {
		e := NewEvaluator(prices, d("1"), nil)
		order := usdcOrder(100, 98)
		order.Outputs[0].Token = "0x1111111111111111111111111111111111111111"
		_, err := e.Evaluate(ctx, order, execCtx)
		assert.ErrorIs(t, err, pricing.ErrNoPrice)
	})
}
