// Package execution builds the per-evaluation execution context and holds the
// strategies that turn an order plus its context into an execution decision.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// Builder snapshots gas prices and solver balances for the chains an order touches
type Builder struct {
	delivery      delivery.Delivery
	solverAddress string
	logger        logger.Logger
	now           func() time.Time
}

// NewBuilder creates a context builder reading chain state through d
func NewBuilder(d delivery.Delivery, solverAddress string, log logger.Logger) *Builder {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Builder{
		delivery:      d,
		solverAddress: solverAddress,
		logger:        log,
		now:           time.Now,
	}
}

// Build fetches the gas price of every relevant chain and the solver balance
// of every output asset. A balance that cannot be read is left out of the
// context, which strategies treat as unknown. A gas price that cannot be read
// is reported in the returned error alongside the partial context.
func (b *Builder) Build(ctx context.Context, order *models.Order) (*models.ExecutionContext, error) {
	execCtx := &models.ExecutionContext{
		GasPrices: make(map[uint64]*big.Int),
		Balances:  make(map[models.BalanceKey]*big.Int),
		Timestamp: b.now(),
	}

	var errs []error
	for _, chainID := range order.RelevantChainIDs() {
		price, err := b.delivery.GetGasPrice(ctx, chainID)
		if err != nil {
			errs = append(errs, fmt.Errorf("gas price on chain %d: %w", chainID, err))
			continue
		}
		execCtx.GasPrices[chainID] = price
	}

	solver := order.SolverAddress
	if solver == "" {
		solver = b.solverAddress
	}
	for _, out := range order.Outputs {
		key := models.NewBalanceKey(out.ChainID, out.Token)
		if _, done := execCtx.Balances[key]; done {
			continue
		}
		balance, err := b.delivery.GetBalance(ctx, solver, out.Token, out.ChainID)
		if err != nil {
			b.logger.ErrorWithChain(out.ChainID, "Failed to read balance of %s: %v", out.Token, err)
			continue
		}
		execCtx.Balances[key] = balance
	}

	return execCtx, errors.Join(errs...)
}
