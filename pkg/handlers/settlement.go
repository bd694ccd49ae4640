package handlers

import (
	"context"
	"sync"

	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// SettlementHandler drives the post-fill, pre-claim and claim stages
type SettlementHandler struct {
	base
	claims ClaimQueue
}

// NewSettlementHandler creates a settlement handler feeding pre-claimed orders to claims
func NewSettlementHandler(deps Deps, claims ClaimQueue) *SettlementHandler {
	return &SettlementHandler{base: newBase(deps), claims: claims}
}

// SetClaimQueue replaces the queue pre-claimed orders are sent to
func (h *SettlementHandler) SetClaimQueue(q ClaimQueue) {
	h.claims = q
}

// HandlePostFillReady submits the optional post-fill transaction of an executed
// order, or moves it straight to post_filled when none is needed
func (h *SettlementHandler) HandlePostFillReady(ctx context.Context, orderID string) error {
	order, err := h.Machine.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.StatusExecuted {
		h.Logger.Debug("Order %s is %s, ignoring post-fill", orderID, order.Status)
		return nil
	}
	if order.PostFillTxHash != "" {
		return h.requery(ctx, orderID, models.StagePostFill, order.PostFillTxHash)
	}

	settlement, err := h.settlementFor(order)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusExecuted, models.StagePostFill, err.Error())
	}

	fill, err := h.Machine.LookupTransaction(ctx, order.FillTxHash)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusExecuted, models.StagePostFill, "fill transaction not indexed")
	}
	receipt, err := h.Delivery.GetReceipt(ctx, order.FillTxHash, fill.ChainID)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusExecuted, models.StagePostFill, "fetch fill receipt: "+err.Error())
	}

	tx, err := settlement.GeneratePostFillTransaction(ctx, order, receipt)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusExecuted, models.StagePostFill, err.Error())
	}
	if tx != nil {
		return h.submit(ctx, order, models.StatusExecuted, models.StagePostFill, tx)
	}

	moved, err := h.advance(ctx, orderID, models.StatusExecuted, models.StatusPostFilled)
	if err != nil || !moved {
		return err
	}
	event := models.NewEvent(models.EventMonitoringStarted, orderID)
	event.TxHash = order.FillTxHash
	h.publish(event)
	return nil
}

// HandleClaimReady runs the pre-claim step of a settled order, or queues a
// pre-claimed order for the next claim batch
func (h *SettlementHandler) HandleClaimReady(ctx context.Context, orderID string) error {
	order, err := h.Machine.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case models.StatusSettled:
		return h.preClaim(ctx, order)
	case models.StatusPreClaimed:
		if order.ClaimTxHash != "" {
			return h.requery(ctx, orderID, models.StageClaim, order.ClaimTxHash)
		}
		h.claims.Enqueue(orderID)
		return nil
	default:
		h.Logger.Debug("Order %s is %s, ignoring claim readiness", orderID, order.Status)
		return nil
	}
}

func (h *SettlementHandler) preClaim(ctx context.Context, order *models.Order) error {
	if order.PreClaimTxHash != "" {
		return h.requery(ctx, order.ID, models.StagePreClaim, order.PreClaimTxHash)
	}
	if order.FillProof == nil {
		return h.fail(ctx, order.ID, models.StatusSettled, models.StagePreClaim, "no fill proof recorded")
	}

	settlement, err := h.settlementFor(order)
	if err != nil {
		return h.fail(ctx, order.ID, models.StatusSettled, models.StagePreClaim, err.Error())
	}
	tx, err := settlement.GeneratePreClaimTransaction(ctx, order, order.FillProof)
	if err != nil {
		return h.fail(ctx, order.ID, models.StatusSettled, models.StagePreClaim, err.Error())
	}
	if tx != nil {
		return h.submit(ctx, order, models.StatusSettled, models.StagePreClaim, tx)
	}

	moved, err := h.advance(ctx, order.ID, models.StatusSettled, models.StatusPreClaimed)
	if err != nil || !moved {
		return err
	}
	h.claims.Enqueue(order.ID)
	return nil
}

// ProcessClaimBatch generates and submits the claims of many pre-claimed orders
// at once. Each order succeeds or fails on its own.
func (h *SettlementHandler) ProcessClaimBatch(ctx context.Context, orderIDs []string) {
	var wg sync.WaitGroup
	for _, id := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			if err := h.claim(ctx, orderID); err != nil {
				h.Logger.Error("Claim of order %s failed: %v", orderID, err)
			}
		}(id)
	}
	wg.Wait()
}

func (h *SettlementHandler) claim(ctx context.Context, orderID string) error {
	order, err := h.Machine.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.StatusPreClaimed {
		h.Logger.Debug("Order %s is %s, dropping from claim batch", orderID, order.Status)
		return nil
	}
	if order.ClaimTxHash != "" {
		h.Logger.Debug("Order %s already claimed in %s", orderID, order.ClaimTxHash)
		return nil
	}

	standard, err := h.standardFor(order)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusPreClaimed, models.StageClaim, err.Error())
	}
	tx, err := standard.GenerateClaimTransaction(ctx, order, order.FillProof)
	if err != nil {
		return h.fail(ctx, orderID, models.StatusPreClaimed, models.StageClaim, err.Error())
	}
	if tx != nil {
		return h.submit(ctx, order, models.StatusPreClaimed, models.StageClaim, tx)
	}

	// paid out by the protocol without a claim transaction
	moved, err := h.advance(ctx, orderID, models.StatusPreClaimed, models.StatusFinalized)
	if err != nil || !moved {
		return err
	}
	h.Logger.Info("Order %s finalized without a claim transaction", orderID)
	h.publish(models.NewEvent(models.EventOrderCompleted, orderID))
	return nil
}
