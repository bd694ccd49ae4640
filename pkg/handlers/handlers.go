// Package handlers holds the event handlers that move an order from a
// discovered intent to a finalized claim.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/eventbus"
	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
)

// Publisher broadcasts lifecycle events
type Publisher interface {
	Publish(event models.Event) error
}

// ClaimQueue collects pre-claimed orders for batched claim submission
type ClaimQueue interface {
	Enqueue(orderID string)
}

// Deps are the collaborators shared by every handler
type Deps struct {
	Machine   *statemachine.Machine
	Registry  *protocol.Registry
	Delivery  delivery.Delivery
	Publisher Publisher
	Tracker   *Tracker
	Logger    logger.Logger
}

type base struct {
	Deps
}

func newBase(deps Deps) base {
	if deps.Logger == nil {
		deps.Logger = &logger.EmptyLogger{}
	}
	return base{Deps: deps}
}

func (b *base) publish(event models.Event) {
	if err := b.Publisher.Publish(event); err != nil {
		if errors.Is(err, eventbus.ErrNoSubscribers) {
			b.Logger.Debug("No subscribers for %s of order %s", event.Kind, event.OrderID)
			return
		}
		b.Logger.Error("Failed to publish %s for order %s: %v", event.Kind, event.OrderID, err)
	}
}

// fail moves the order to failed with "<stage> failed: <cause>" and announces it.
// An order that already left expected is left untouched.
func (b *base) fail(ctx context.Context, orderID string, expected models.OrderStatus, stage models.TxStage, cause string) error {
	reason := fmt.Sprintf("%s failed: %s", stage, cause)
	if _, err := b.Machine.Fail(ctx, orderID, expected, reason); err != nil {
		if errors.Is(err, statemachine.ErrInvalidTransition) {
			b.Logger.Notice("Order %s no longer %s, not recording failure: %s", orderID, expected, reason)
			return nil
		}
		return err
	}

	event := models.NewEvent(models.EventOrderFailed, orderID)
	event.Stage = stage
	event.Reason = reason
	b.publish(event)
	return nil
}

// advance runs a status transition, treating an order that already moved on as done.
// It reports whether this call performed the transition.
func (b *base) advance(ctx context.Context, orderID string, from, to models.OrderStatus) (bool, error) {
	_, err := b.Machine.Transition(ctx, orderID, from, to)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, statemachine.ErrInvalidTransition) {
		b.Logger.Debug("Order %s already left %s, skipping transition to %s", orderID, from, to)
		return false, nil
	}
	return false, err
}

// submit broadcasts tx for a stage, records its hash and starts the confirmation wait
func (b *base) submit(ctx context.Context, order *models.Order, expected models.OrderStatus, stage models.TxStage, tx *models.Transaction) error {
	// approved params were priced for the destination chain
	if stage == models.StageFill && tx.GasPrice == nil && order.ExecutionParams != nil {
		tx.GasPrice = order.ExecutionParams.GasPrice
		tx.PriorityFee = order.ExecutionParams.PriorityFee
	}

	chain := strconv.FormatUint(tx.ChainID, 10)
	hash, err := b.Delivery.Submit(ctx, tx)
	if err != nil {
		metrics.Transactions.WithLabelValues(string(stage), chain, "submit_failed").Inc()
		b.Logger.ErrorWithChain(tx.ChainID, "Failed to submit %s for order %s: %v", stage, order.ID, err)
		return b.fail(ctx, order.ID, expected, stage, err.Error())
	}
	metrics.Transactions.WithLabelValues(string(stage), chain, "submitted").Inc()

	if _, err := b.Machine.AttachTransaction(ctx, order.ID, stage, hash, tx.ChainID); err != nil {
		return fmt.Errorf("failed to record %s transaction %s: %w", stage, hash, err)
	}
	b.Logger.InfoWithChain(tx.ChainID, "Submitted %s for order %s: %s", stage, order.ID, hash)

	event := models.NewEvent(models.EventTxSubmitted, order.ID)
	event.Stage = stage
	event.TxHash = hash
	event.ChainID = tx.ChainID
	b.publish(event)

	b.Tracker.Track(order.ID, stage, hash, tx.ChainID)
	return nil
}

// requery resolves an already recorded hash instead of submitting the stage again
func (b *base) requery(ctx context.Context, orderID string, stage models.TxStage, hash string) error {
	entry, err := b.Machine.LookupTransaction(ctx, hash)
	if err != nil {
		return err
	}
	_, err = b.Tracker.Requery(ctx, orderID, stage, hash, entry.ChainID)
	return err
}

func (b *base) standardFor(order *models.Order) (protocol.Standard, error) {
	return b.Registry.Standard(order.Standard)
}

func (b *base) settlementFor(order *models.Order) (protocol.Settlement, error) {
	return b.Registry.Settlement(order.Settlement)
}
