// Package profitability estimates what an order costs to execute and whether
// the remaining margin clears the configured minimum.
package profitability

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/pricing"
)

var (
	// ErrZeroInput means the order has no input value to measure a margin against
	ErrZeroInput       = errors.New("order input value is zero")
	ErrMissingGasPrice = errors.New("no gas price observed")
)

var hundred = decimal.NewFromInt(100)

// GasProfile is the expected gas use of each stage. A zero entry means the
// stage sends no transaction.
type GasProfile struct {
	Prepare  uint64
	Fill     uint64
	PostFill uint64
	PreClaim uint64
	Claim    uint64
}

// DefaultGasProfile covers a fill plus a claim
var DefaultGasProfile = GasProfile{Fill: 200_000, Claim: 150_000}

// Result is the outcome of one evaluation
type Result struct {
	Estimate   models.CostEstimate
	Margin     decimal.Decimal
	Profitable bool
}

// Evaluator prices an order's inputs, outputs and transactions
type Evaluator struct {
	pricing   pricing.Pricing
	minMargin decimal.Decimal
	profiles  map[string]GasProfile
	fallback  GasProfile
	logger    logger.Logger
}

// NewEvaluator creates an evaluator rejecting margins below minMarginPct
func NewEvaluator(p pricing.Pricing, minMarginPct decimal.Decimal, log logger.Logger) *Evaluator {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Evaluator{
		pricing:   p,
		minMargin: minMarginPct,
		profiles:  make(map[string]GasProfile),
		fallback:  DefaultGasProfile,
		logger:    log,
	}
}

// SetGasProfile overrides the gas profile for orders of one standard
func (e *Evaluator) SetGasProfile(standard string, profile GasProfile) {
	e.profiles[standard] = profile
}

// MinMargin returns the configured threshold in percent
func (e *Evaluator) MinMargin() decimal.Decimal {
	return e.minMargin
}

// Margin returns (input - output - cost) / input * 100
func Margin(input, output, operatingCost decimal.Decimal) (decimal.Decimal, error) {
	if !input.IsPositive() {
		return decimal.Zero, ErrZeroInput
	}
	return input.Sub(output).Sub(operatingCost).Div(input).Mul(hundred), nil
}

// Estimate computes the cost of every transaction the order needs, valued in USD
func (e *Evaluator) Estimate(ctx context.Context, order *models.Order, execCtx *models.ExecutionContext) (models.CostEstimate, error) {
	var est models.CostEstimate

	profile, ok := e.profiles[order.Standard]
	if !ok {
		profile = e.fallback
	}

	origin := order.InputChainIDs()
	destination := order.OutputChainIDs()
	stages := []struct {
		stage  models.TxStage
		units  uint64
		chains []uint64
	}{
		{models.StagePrepare, profile.Prepare, origin},
		{models.StageFill, profile.Fill, destination},
		{models.StagePostFill, profile.PostFill, destination},
		{models.StagePreClaim, profile.PreClaim, origin},
		{models.StageClaim, profile.Claim, origin},
	}

	operating := decimal.Zero
	for _, s := range stages {
		if s.units == 0 {
			continue
		}
		for _, chainID := range s.chains {
			gasPrice := execCtx.GasPrices[chainID]
			if gasPrice == nil {
				return est, fmt.Errorf("%w on chain %d", ErrMissingGasPrice, chainID)
			}
			wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(s.units))
			value, err := e.pricing.NativeValue(ctx, chainID, wei)
			if err != nil {
				return est, fmt.Errorf("failed to price %s gas on chain %d: %w", s.stage, chainID, err)
			}
			est.Items = append(est.Items, models.CostItem{
				Stage:       s.stage,
				ChainID:     chainID,
				GasUnits:    s.units,
				GasPrice:    gasPrice,
				NativeValue: value,
			})
			operating = operating.Add(value)
		}
	}
	est.OperatingCost = operating

	var err error
	if est.InputValue, err = e.sum(ctx, order.Inputs); err != nil {
		return est, fmt.Errorf("failed to price inputs: %w", err)
	}
	if est.OutputValue, err = e.sum(ctx, order.Outputs); err != nil {
		return est, fmt.Errorf("failed to price outputs: %w", err)
	}
	return est, nil
}

func (e *Evaluator) sum(ctx context.Context, amounts []models.ChainAmount) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range amounts {
		v, err := e.pricing.TokenValue(ctx, a.ChainID, a.Token, a.Amount)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

// Evaluate estimates the order and compares its margin with the threshold
func (e *Evaluator) Evaluate(ctx context.Context, order *models.Order, execCtx *models.ExecutionContext) (*Result, error) {
	est, err := e.Estimate(ctx, order, execCtx)
	if err != nil {
		return nil, err
	}
	margin, err := Margin(est.InputValue, est.OutputValue, est.OperatingCost)
	if err != nil {
		return nil, err
	}

	f, _ := margin.Float64()
	metrics.ProfitMargin.Observe(f)

	e.logger.Debug("Order %s: input $%s, output $%s, cost $%s, margin %s%%",
		order.ID, est.InputValue.StringFixed(4), est.OutputValue.StringFixed(4),
		est.OperatingCost.StringFixed(4), margin.StringFixed(2))

	return &Result{
		Estimate:   est,
		Margin:     margin,
		Profitable: margin.GreaterThanOrEqual(e.minMargin),
	}, nil
}
