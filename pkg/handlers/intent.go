package handlers

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-solver/pkg/execution"
	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/profitability"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
	"github.com/speedrun-hq/speedrun-solver/pkg/storage"
)

// ErrNotPending is returned when re-evaluating an order that already progressed
var ErrNotPending = errors.New("order is not pending")

// ContextBuilder snapshots chain conditions for one order
type ContextBuilder interface {
	Build(ctx context.Context, order *models.Order) (*models.ExecutionContext, error)
}

// Evaluator decides whether an order clears the minimum margin
type Evaluator interface {
	Evaluate(ctx context.Context, order *models.Order, execCtx *models.ExecutionContext) (*profitability.Result, error)
	MinMargin() decimal.Decimal
}

// IntentConfig holds the intent handler settings
type IntentConfig struct {
	SolverAddress string
	// Settlement is the settlement assigned to orders whose standard leaves it empty
	Settlement   string
	DeferBackoff time.Duration
}

// IntentHandler validates discovered intents, turns them into pending orders
// and decides whether to execute them
type IntentHandler struct {
	base
	store     storage.Store
	builder   ContextBuilder
	evaluator Evaluator
	strategy  execution.Strategy
	cfg       IntentConfig
	now       func() time.Time
}

// NewIntentHandler creates an intent handler
func NewIntentHandler(deps Deps, store storage.Store, builder ContextBuilder, evaluator Evaluator, strategy execution.Strategy, cfg IntentConfig) *IntentHandler {
	if cfg.DeferBackoff <= 0 {
		cfg.DeferBackoff = execution.DefaultDeferBackoff
	}
	return &IntentHandler{
		base:      newBase(deps),
		store:     store,
		builder:   builder,
		evaluator: evaluator,
		strategy:  strategy,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Handle processes one discovered intent. Re-delivered intents are dropped.
func (h *IntentHandler) Handle(ctx context.Context, intent models.Intent) error {
	exists, err := h.store.Exists(ctx, storage.NamespaceIntents, intent.ID)
	if err != nil {
		return fmt.Errorf("failed to check intent %s: %w", intent.ID, err)
	}
	if exists {
		h.Logger.Debug("Intent %s already seen, dropping", intent.ID)
		return nil
	}

	reserved, err := h.store.SetIfAbsent(ctx, storage.NamespaceIntents, intent.ID, intent)
	if err != nil {
		return fmt.Errorf("failed to persist intent %s: %w", intent.ID, err)
	}
	if !reserved {
		h.Logger.Debug("Intent %s reserved concurrently, dropping", intent.ID)
		return nil
	}
	metrics.IntentsDiscovered.WithLabelValues(intent.Standard).Inc()

	order, err := h.createOrder(ctx, intent)
	if err != nil {
		reason := err.Error()
		if r, ok := protocol.IsValidation(err); ok {
			reason = r
		}
		h.reject(intent.ID, "", reason)
		return nil
	}

	if err := h.Machine.StoreOrder(ctx, order); err != nil {
		if errors.Is(err, statemachine.ErrOrderExists) {
			h.Logger.Debug("Order %s for intent %s already exists", order.ID, intent.ID)
			return nil
		}
		// free the slot so the next discovery of this intent retries it
		if derr := h.store.Delete(ctx, storage.NamespaceIntents, intent.ID); derr != nil {
			h.Logger.Error("Failed to release intent %s after store error: %v", intent.ID, derr)
		}
		return err
	}
	h.Logger.Info("Created order %s from intent %s (%s)", order.ID, intent.ID, order.Standard)

	return h.evaluate(ctx, order, intent.ID)
}

func (h *IntentHandler) createOrder(ctx context.Context, intent models.Intent) (*models.Order, error) {
	now := h.now()
	if intent.IsExclusive(now) {
		return nil, protocol.Invalid(fmt.Sprintf("exclusive to another solver until %s", intent.Metadata.ExclusiveUntil.Format(time.RFC3339)))
	}
	if intent.Metadata.RequiresAuction {
		return nil, protocol.Invalid("intent requires an auction")
	}

	standard, err := h.Registry.Standard(intent.Standard)
	if err != nil {
		return nil, protocol.Invalid(err.Error())
	}

	payload := intent.OrderBytes
	if len(payload) == 0 {
		payload = intent.Data
	}
	if err := standard.ValidateOrder(ctx, payload); err != nil {
		return nil, err
	}

	order, err := standard.ValidateAndCreateOrder(ctx, intent, h.resolveID, h.cfg.SolverAddress)
	if err != nil {
		return nil, err
	}
	if order.IntentID == "" {
		order.IntentID = intent.ID
	}
	if order.Settlement == "" {
		order.Settlement = h.cfg.Settlement
	}
	if order.SolverAddress == "" {
		order.SolverAddress = h.cfg.SolverAddress
	}
	order.Status = models.StatusPending
	return order, nil
}

// resolveID runs a read-only call on the origin chain and returns the result as hex
func (h *IntentHandler) resolveID(ctx context.Context, chainID uint64, to string, callData []byte) (string, error) {
	out, err := h.Delivery.Call(ctx, &models.Transaction{ChainID: chainID, To: to, Data: callData})
	if err != nil {
		return "", fmt.Errorf("failed to resolve order id on chain %d: %w", chainID, err)
	}
	if len(out) == 0 {
		return "", nil
	}
	return "0x" + hex.EncodeToString(out), nil
}

// Reevaluate runs the profitability and strategy gates again for a pending order
func (h *IntentHandler) Reevaluate(ctx context.Context, orderID string) error {
	order, err := h.Machine.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, orderID, order.Status)
	}
	if order.PrepareTxHash != "" {
		return fmt.Errorf("%w: %s already submitted its prepare step", ErrNotPending, orderID)
	}
	return h.evaluate(ctx, order, order.IntentID)
}

// evaluate builds the execution context, checks the margin and applies the
// strategy, publishing exactly one outcome event
func (h *IntentHandler) evaluate(ctx context.Context, order *models.Order, intentID string) error {
	execCtx, err := h.builder.Build(ctx, order)
	if err != nil {
		metrics.IntentDecisions.WithLabelValues(string(models.DecisionDefer)).Inc()
		h.deferOrder(order.ID, h.cfg.DeferBackoff, "execution context unavailable: "+err.Error())
		return nil
	}

	result, err := h.evaluator.Evaluate(ctx, order, execCtx)
	if err != nil {
		h.reject(intentID, order.ID, "profitability check failed: "+err.Error())
		return nil
	}
	if !result.Profitable {
		h.reject(intentID, order.ID, fmt.Sprintf("margin %s%% below minimum %s%%",
			result.Margin.StringFixed(2), h.evaluator.MinMargin().StringFixed(2)))
		return nil
	}

	decision := h.strategy.ShouldExecute(ctx, order, execCtx)
	metrics.IntentDecisions.WithLabelValues(string(decision.Kind)).Inc()

	switch decision.Kind {
	case models.DecisionExecute:
		if _, err := h.Machine.AttachExecutionParams(ctx, order.ID, decision.Params); err != nil {
			return fmt.Errorf("failed to store execution params for %s: %w", order.ID, err)
		}
		h.Logger.Info("Order %s approved for execution (margin %s%%)", order.ID, result.Margin.StringFixed(2))

		validated := models.NewEvent(models.EventIntentValidated, order.ID)
		validated.Intent = &models.Intent{ID: intentID}
		h.publish(validated)

		approved := models.NewEvent(models.EventExecutionApproved, order.ID)
		approved.Params = decision.Params
		h.publish(approved)
	case models.DecisionSkip:
		h.Logger.Notice("Skipping order %s: %s", order.ID, decision.Reason)
		event := models.NewEvent(models.EventIntentSkipped, order.ID)
		event.Reason = decision.Reason
		h.publish(event)
	case models.DecisionDefer:
		h.deferOrder(order.ID, decision.Delay, decision.Reason)
	default:
		return fmt.Errorf("unknown execution decision %q for order %s", decision.Kind, order.ID)
	}
	return nil
}

func (h *IntentHandler) reject(intentID, orderID, reason string) {
	metrics.IntentDecisions.WithLabelValues("reject").Inc()
	h.Logger.Notice("Rejected intent %s: %s", intentID, reason)

	event := models.NewEvent(models.EventIntentRejected, orderID)
	event.Reason = reason
	event.Intent = &models.Intent{ID: intentID}
	h.publish(event)
}

func (h *IntentHandler) deferOrder(orderID string, delay time.Duration, reason string) {
	if delay <= 0 {
		delay = h.cfg.DeferBackoff
	}
	h.Logger.Info("Deferring order %s for %s: %s", orderID, delay, reason)

	event := models.NewEvent(models.EventIntentDeferred, orderID)
	event.Delay = delay
	event.Reason = reason
	h.publish(event)
}
