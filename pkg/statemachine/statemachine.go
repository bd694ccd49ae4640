// Package statemachine is the single writer of order status and per-stage artifacts.
package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/storage"
)

var (
	ErrOrderExists       = errors.New("order already exists")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTxNotIndexed      = errors.New("transaction not indexed")
	ErrArtifactConflict  = errors.New("a different transaction is already recorded for this stage")
)

// InvalidTransitionError describes a rejected status change
type InvalidTransitionError struct {
	OrderID  string
	Expected models.OrderStatus
	Actual   models.OrderStatus
	Next     models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.Expected != e.Actual {
		return fmt.Sprintf("invalid transition for order %s: expected status %s but found %s", e.OrderID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("invalid transition for order %s: %s cannot move to %s", e.OrderID, e.Actual, e.Next)
}

// Is makes errors.Is(err, ErrInvalidTransition) match
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Machine serializes every mutation of an order behind a per-order lock and
// re-reads the persisted record before applying a change, so two components
// can never advance the same order concurrently.
type Machine struct {
	store  storage.Store
	locks  *keyedMutex
	logger logger.Logger
	now    func() time.Time
}

// New creates a state machine over store
func New(store storage.Store, log logger.Logger) *Machine {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Machine{
		store:  store,
		locks:  newKeyedMutex(),
		logger: log,
		now:    time.Now,
	}
}

// StoreOrder persists a new order at pending. It fails with ErrOrderExists if the id is taken.
func (m *Machine) StoreOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if order.Status == "" {
		order.Status = models.StatusPending
	}
	if order.Status != models.StatusPending {
		return fmt.Errorf("new order %s must be pending, got %s", order.ID, order.Status)
	}

	unlock := m.locks.Lock(order.ID)
	defer unlock()

	now := m.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	stored, err := m.store.SetIfAbsent(ctx, storage.NamespaceOrders, order.ID, order)
	if err != nil {
		return fmt.Errorf("failed to store order %s: %w", order.ID, err)
	}
	if !stored {
		return fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
	}
	return nil
}

// GetOrder reads the persisted order
func (m *Machine) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := m.store.Get(ctx, storage.NamespaceOrders, id, &order); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	return &order, nil
}

// update applies fn to the freshest copy of the order under its lock and persists the result
func (m *Machine) update(ctx context.Context, id string, fn func(*models.Order) error) (*models.Order, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	order, err := m.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(order); err != nil {
		return nil, err
	}
	order.UpdatedAt = m.now()
	if err := m.store.Set(ctx, storage.NamespaceOrders, id, order); err != nil {
		return nil, fmt.Errorf("failed to persist order %s: %w", id, err)
	}
	return order, nil
}

// Transition moves the order from expected to next. It fails with an
// InvalidTransitionError when the persisted status is not expected or when
// next is not the legal successor.
func (m *Machine) Transition(ctx context.Context, id string, expected, next models.OrderStatus) (*models.Order, error) {
	if next == models.StatusFailed {
		return nil, fmt.Errorf("use Fail to move order %s to failed", id)
	}
	order, err := m.update(ctx, id, func(o *models.Order) error {
		if err := checkTransition(o, expected, next); err != nil {
			return err
		}
		o.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(expected), string(next)).Inc()
	if next == models.StatusFinalized {
		metrics.OrderLifecycleTime.Observe(order.UpdatedAt.Sub(order.CreatedAt).Seconds())
	}
	m.logger.Debug("Order %s: %s -> %s", id, expected, next)
	return order, nil
}

// Fail moves the order from expected to failed, recording reason
func (m *Machine) Fail(ctx context.Context, id string, expected models.OrderStatus, reason string) (*models.Order, error) {
	order, err := m.update(ctx, id, func(o *models.Order) error {
		if err := checkTransition(o, expected, models.StatusFailed); err != nil {
			return err
		}
		o.Status = models.StatusFailed
		o.FailureReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(expected), string(models.StatusFailed)).Inc()
	metrics.OrdersFailed.WithLabelValues(string(expected)).Inc()
	m.logger.Notice("Order %s failed at %s: %s", id, expected, reason)
	return order, nil
}

func checkTransition(o *models.Order, expected, next models.OrderStatus) error {
	if o.Status != expected || !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{
			OrderID:  o.ID,
			Expected: expected,
			Actual:   o.Status,
			Next:     next,
		}
	}
	return nil
}

// AttachTransaction records the hash submitted for a stage and indexes it for
// hash to order lookups. Recording the same hash twice is a no-op.
func (m *Machine) AttachTransaction(ctx context.Context, id string, stage models.TxStage, hash string, chainID uint64) (*models.Order, error) {
	hash = normalizeHash(hash)
	if hash == "" {
		return nil, fmt.Errorf("empty transaction hash for order %s stage %s", id, stage)
	}

	order, err := m.update(ctx, id, func(o *models.Order) error {
		if current := o.TxHash(stage); current != "" && current != hash {
			return fmt.Errorf("%w: order %s stage %s has %s", ErrArtifactConflict, id, stage, current)
		}
		o.SetTxHash(stage, hash)
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry := models.TxIndexEntry{Hash: hash, OrderID: id, Stage: stage, ChainID: chainID}
	if err := m.store.Set(ctx, storage.NamespaceTxIndex, hash, entry); err != nil {
		return nil, fmt.Errorf("failed to index transaction %s: %w", hash, err)
	}
	return order, nil
}

// AttachProof stores the fill proof without changing status
func (m *Machine) AttachProof(ctx context.Context, id string, proof *models.FillProof) (*models.Order, error) {
	if proof == nil {
		return nil, fmt.Errorf("nil fill proof for order %s", id)
	}
	return m.update(ctx, id, func(o *models.Order) error {
		o.FillProof = proof
		return nil
	})
}

// AttachExecutionParams stores the fee settings an approved execution uses
func (m *Machine) AttachExecutionParams(ctx context.Context, id string, params *models.ExecutionParams) (*models.Order, error) {
	return m.update(ctx, id, func(o *models.Order) error {
		if o.Status != models.StatusPending {
			return &InvalidTransitionError{OrderID: id, Expected: models.StatusPending, Actual: o.Status, Next: o.Status}
		}
		o.ExecutionParams = params
		return nil
	})
}

// LookupTransaction resolves a transaction hash to the order and stage that submitted it
func (m *Machine) LookupTransaction(ctx context.Context, hash string) (models.TxIndexEntry, error) {
	var entry models.TxIndexEntry
	if err := m.store.Get(ctx, storage.NamespaceTxIndex, normalizeHash(hash), &entry); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return entry, fmt.Errorf("%w: %s", ErrTxNotIndexed, hash)
		}
		return entry, err
	}
	return entry, nil
}

// ListActive returns every order not in a terminal status
func (m *Machine) ListActive(ctx context.Context) ([]*models.Order, error) {
	return m.list(ctx, func(o *models.Order) bool { return !o.Status.IsTerminal() })
}

// ListByStatus returns every order currently at status
func (m *Machine) ListByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	return m.list(ctx, func(o *models.Order) bool { return o.Status == status })
}

// CountByStatus returns the number of orders per status
func (m *Machine) CountByStatus(ctx context.Context) (map[models.OrderStatus]int, error) {
	orders, err := m.list(ctx, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.OrderStatus]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		counts[s] = 0
	}
	for _, o := range orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (m *Machine) list(ctx context.Context, keep func(*models.Order) bool) ([]*models.Order, error) {
	raws, err := m.store.List(ctx, storage.NamespaceOrders, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]*models.Order, 0, len(raws))
	for _, raw := range raws {
		var o models.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			m.logger.Error("Skipping undecodable order record: %v", err)
			continue
		}
		if keep == nil || keep(&o) {
			orders = append(orders, &o)
		}
	}
	return orders, nil
}

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}
