package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
)

// stageRoute is what a confirmed transaction of one stage does to its order
type stageRoute struct {
	from models.OrderStatus
	to   models.OrderStatus
	next models.EventKind
}

var stageRoutes = map[models.TxStage]stageRoute{
	models.StagePrepare:  {models.StatusPending, models.StatusExecuting, models.EventExecutionStarted},
	models.StageFill:     {models.StatusExecuting, models.StatusExecuted, models.EventPostFillReady},
	models.StagePostFill: {models.StatusExecuted, models.StatusPostFilled, models.EventMonitoringStarted},
	models.StagePreClaim: {models.StatusSettled, models.StatusPreClaimed, models.EventClaimReady},
	models.StageClaim:    {models.StatusPreClaimed, models.StatusFinalized, models.EventOrderCompleted},
}

// TransactionHandler advances orders when their transactions confirm or fail
type TransactionHandler struct {
	base
}

// NewTransactionHandler creates a transaction handler
func NewTransactionHandler(deps Deps) *TransactionHandler {
	return &TransactionHandler{base: newBase(deps)}
}

// HandleConfirmed applies a tx_confirmed event
func (h *TransactionHandler) HandleConfirmed(ctx context.Context, event models.Event) error {
	event, route, err := h.resolve(ctx, event)
	if err != nil {
		return err
	}

	if event.Stage == models.StageFill && event.Receipt != nil {
		metrics.GasUsed.WithLabelValues(strconv.FormatUint(event.ChainID, 10)).Observe(float64(event.Receipt.GasUsed))
	}

	order, err := h.Machine.Transition(ctx, event.OrderID, route.from, route.to)
	if err != nil {
		if errors.Is(err, statemachine.ErrInvalidTransition) {
			h.Logger.Debug("Ignoring %s confirmation for order %s: %v", event.Stage, event.OrderID, err)
			return nil
		}
		return err
	}
	h.Logger.InfoWithChain(event.ChainID, "Order %s %s confirmed in %s, now %s", order.ID, event.Stage, event.TxHash, order.Status)

	next := models.NewEvent(route.next, order.ID)
	if route.next == models.EventMonitoringStarted {
		next.TxHash = order.FillTxHash
	}
	h.publish(next)
	return nil
}

// HandleFailed applies a tx_failed event. There is no resubmission.
func (h *TransactionHandler) HandleFailed(ctx context.Context, event models.Event) error {
	event, route, err := h.resolve(ctx, event)
	if err != nil {
		return err
	}
	h.Logger.ErrorWithChain(event.ChainID, "Order %s %s transaction %s failed: %s", event.OrderID, event.Stage, event.TxHash, event.Reason)
	return h.fail(ctx, event.OrderID, route.from, event.Stage, event.Reason)
}

// resolve fills the order and stage from the hash index and rejects events
// whose hash belongs to a different order
func (h *TransactionHandler) resolve(ctx context.Context, event models.Event) (models.Event, stageRoute, error) {
	entry, err := h.Machine.LookupTransaction(ctx, event.TxHash)
	if err != nil {
		return event, stageRoute{}, fmt.Errorf("unknown transaction %s: %w", event.TxHash, err)
	}
	if event.OrderID == "" {
		event.OrderID = entry.OrderID
	} else if entry.OrderID != event.OrderID {
		return event, stageRoute{}, fmt.Errorf("transaction %s belongs to order %s, not %s", event.TxHash, entry.OrderID, event.OrderID)
	}
	if event.Stage == "" {
		event.Stage = entry.Stage
	}
	if event.ChainID == 0 {
		event.ChainID = entry.ChainID
	}

	route, ok := stageRoutes[event.Stage]
	if !ok {
		return event, stageRoute{}, fmt.Errorf("unknown stage %q for transaction %s", event.Stage, event.TxHash)
	}
	return event, route, nil
}
