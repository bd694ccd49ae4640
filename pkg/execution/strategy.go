package execution

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// DefaultDeferBackoff is how long an order waits when gas is too expensive
const DefaultDeferBackoff = 60 * time.Second

// Strategy turns an order and its execution context into Execute, Skip or Defer
type Strategy interface {
	ShouldExecute(ctx context.Context, order *models.Order, execCtx *models.ExecutionContext) models.ExecutionDecision
}

// DefaultStrategy defers while gas is above a ceiling and skips orders the
// solver cannot pay out
type DefaultStrategy struct {
	MaxGasPrice  *big.Int
	DeferBackoff time.Duration
	PriorityFee  *big.Int
}

// ShouldExecute implements Strategy
func (s *DefaultStrategy) ShouldExecute(_ context.Context, order *models.Order, execCtx *models.ExecutionContext) models.ExecutionDecision {
	backoff := s.DeferBackoff
	if backoff <= 0 {
		backoff = DefaultDeferBackoff
	}

	for _, chainID := range order.RelevantChainIDs() {
		price := execCtx.GasPrices[chainID]
		if price == nil {
			d := models.Defer(backoff)
			d.Reason = fmt.Sprintf("gas price unknown on chain %d", chainID)
			return d
		}
		if s.MaxGasPrice != nil && price.Cmp(s.MaxGasPrice) > 0 {
			d := models.Defer(backoff)
			d.Reason = fmt.Sprintf("gas price %s on chain %d exceeds ceiling %s", price, chainID, s.MaxGasPrice)
			return d
		}
	}

	for _, out := range order.Outputs {
		balance := execCtx.Balance(out.ChainID, out.Token)
		if balance == nil || out.Amount == nil || balance.Cmp(out.Amount) < 0 {
			return models.Skip("insufficient balance: " + models.NewBalanceKey(out.ChainID, out.Token).String())
		}
	}

	params := models.ExecutionParams{PriorityFee: s.PriorityFee}
	if len(order.Outputs) > 0 {
		params.GasPrice = execCtx.GasPrices[order.Outputs[0].ChainID]
	}
	return models.Execute(params)
}
