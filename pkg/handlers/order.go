package handlers

import (
	"context"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// OrderHandler submits the prepare and fill transactions of approved orders
type OrderHandler struct {
	base
}

// NewOrderHandler creates an order handler
func NewOrderHandler(deps Deps) *OrderHandler {
	return &OrderHandler{base: newBase(deps)}
}

// HandleExecutionApproved starts execution of an approved order. Standards with
// a prepare step submit it first and keep the order pending until it confirms.
func (h *OrderHandler) HandleExecutionApproved(ctx context.Context, orderID string) error {
	order, err := h.Machine.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case models.StatusPending:
	case models.StatusExecuting:
		return h.HandleExecutionStarted(ctx, orderID)
	default:
		h.Logger.Debug("Order %s is %s, ignoring approval", orderID, order.Status)
		return nil
	}

	standard, err := h.standardFor(order)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusPending, models.StagePrepare, err.Error())
	}

	tx, err := standard.GeneratePrepareTransaction(ctx, order)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusPending, models.StagePrepare, err.Error())
	}
	if tx == nil {
		return h.HandleExecutionStarted(ctx, orderID)
	}

	if order.PrepareTxHash != "" {
		return h.requery(ctx, orderID, models.StagePrepare, order.PrepareTxHash)
	}
	return h.submit(ctx, order, models.StatusPending, models.StagePrepare, tx)
}

// HandleExecutionStarted generates and submits the fill. An order whose fill
// was already submitted is re-queried instead.
func (h *OrderHandler) HandleExecutionStarted(ctx context.Context, orderID string) error {
	order, err := h.Machine.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.FillTxHash != "" {
		return h.requery(ctx, orderID, models.StageFill, order.FillTxHash)
	}

	if order.Status == models.StatusPending {
		if order.ExecutionParams == nil {
			h.Logger.Notice("Order %s has no approved execution params, not filling", orderID)
			return nil
		}
		if _, err := h.advance(ctx, orderID, models.StatusPending, models.StatusExecuting); err != nil {
			return err
		}
		if order, err = h.Machine.GetOrder(ctx, orderID); err != nil {
			return err
		}
	}
	if order.Status != models.StatusExecuting {
		h.Logger.Debug("Order %s is %s, not filling", orderID, order.Status)
		return nil
	}

	h.Logger.Info("Filling order %s", order.ID)

	standard, err := h.standardFor(order)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusExecuting, models.StageFill, err.Error())
	}
	tx, err := standard.GenerateFillTransaction(ctx, order, order.ExecutionParams)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusExecuting, models.StageFill, err.Error())
	}
	return h.submit(ctx, order, models.StatusExecuting, models.StageFill, tx)
}
