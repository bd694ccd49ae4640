// Package recovery resumes non-terminal orders after a restart
package recovery

import (
	"context"
	"fmt"

	"github.com/speedrun-hq/speedrun-solver/pkg/handlers"
	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
)

// Reevaluator re-runs the execution gates of a pending order
type Reevaluator interface {
	Reevaluate(ctx context.Context, orderID string) error
}

// Report summarizes one recovery pass
type Report struct {
	Scanned   int
	Resumed   int
	Requeried int
	Errors    int
}

// Recoverer re-derives the current stage of every active order from its
// status and recorded transactions, then re-drives it. Stages with a recorded
// hash are re-queried, never resubmitted.
type Recoverer struct {
	machine   *statemachine.Machine
	tracker   *handlers.Tracker
	intents   Reevaluator
	publisher handlers.Publisher
	claims    handlers.ClaimQueue
	logger    logger.Logger
}

// New creates a recoverer
func New(machine *statemachine.Machine, tracker *handlers.Tracker, intents Reevaluator, pub handlers.Publisher, claims handlers.ClaimQueue, log logger.Logger) *Recoverer {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Recoverer{
		machine:   machine,
		tracker:   tracker,
		intents:   intents,
		publisher: pub,
		claims:    claims,
		logger:    log,
	}
}

// Run recovers every non-terminal order
func (r *Recoverer) Run(ctx context.Context) (Report, error) {
	var report Report

	orders, err := r.machine.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list active orders: %w", err)
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		action, err := r.recover(ctx, order)
		if err != nil {
			report.Errors++
			r.logger.Error("Failed to recover order %s (%s): %v", order.ID, order.Status, err)
			continue
		}
		metrics.RecoveredOrders.WithLabelValues(action).Inc()
		if action == "requery" {
			report.Requeried++
		} else {
			report.Resumed++
		}
		r.logger.Debug("Recovered order %s at %s: %s", order.ID, order.Status, action)
	}

	r.logger.Info("Recovery scanned %d orders: %d resumed, %d re-queried, %d errors",
		report.Scanned, report.Resumed, report.Requeried, report.Errors)
	return report, nil
}

func (r *Recoverer) recover(ctx context.Context, order *models.Order) (string, error) {
	switch order.Status {
	case models.StatusPending:
		if order.PrepareTxHash != "" {
			return r.requery(ctx, order, models.StagePrepare)
		}
		if order.ExecutionParams != nil {
			return r.emit(models.NewEvent(models.EventExecutionApproved, order.ID), "approve")
		}
		if err := r.intents.Reevaluate(ctx, order.ID); err != nil {
			return "", err
		}
		return "reevaluate", nil

	case models.StatusExecuting:
		if order.FillTxHash != "" {
			return r.requery(ctx, order, models.StageFill)
		}
		return r.emit(models.NewEvent(models.EventExecutionStarted, order.ID), "fill")

	case models.StatusExecuted:
		if order.PostFillTxHash != "" {
			return r.requery(ctx, order, models.StagePostFill)
		}
		return r.emit(models.NewEvent(models.EventPostFillReady, order.ID), "post_fill")

	case models.StatusPostFilled:
		event := models.NewEvent(models.EventMonitoringStarted, order.ID)
		event.TxHash = order.FillTxHash
		return r.emit(event, "monitor")

	case models.StatusSettled:
		if order.PreClaimTxHash != "" {
			return r.requery(ctx, order, models.StagePreClaim)
		}
		return r.emit(models.NewEvent(models.EventClaimReady, order.ID), "pre_claim")

	case models.StatusPreClaimed:
		if order.ClaimTxHash != "" {
			return r.requery(ctx, order, models.StageClaim)
		}
		r.claims.Enqueue(order.ID)
		return "claim", nil
	}
	return "", fmt.Errorf("unexpected status %s", order.Status)
}

func (r *Recoverer) requery(ctx context.Context, order *models.Order, stage models.TxStage) (string, error) {
	hash := order.TxHash(stage)
	entry, err := r.machine.LookupTransaction(ctx, hash)
	if err != nil {
		return "", err
	}
	found, err := r.tracker.Requery(ctx, order.ID, stage, hash, entry.ChainID)
	if err != nil {
		return "", fmt.Errorf("failed to re-query %s transaction %s: %w", stage, hash, err)
	}
	if !found {
		r.logger.InfoWithChain(entry.ChainID, "Order %s %s transaction %s not mined yet, waiting again", order.ID, stage, hash)
	}
	return "requery", nil
}

func (r *Recoverer) emit(event models.Event, action string) (string, error) {
	if err := r.publisher.Publish(event); err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", event.Kind, err)
	}
	return action, nil
}
