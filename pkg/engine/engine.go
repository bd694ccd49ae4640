// Package engine wires the order lifecycle together: it routes bus events to
// the handlers on a sharded worker pool, runs the deferred scheduler and the
// claim batcher, starts settlement monitors and recovers orders on start.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/discovery"
	"github.com/speedrun-hq/speedrun-solver/pkg/eventbus"
	"github.com/speedrun-hq/speedrun-solver/pkg/execution"
	"github.com/speedrun-hq/speedrun-solver/pkg/handlers"
	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
	"github.com/speedrun-hq/speedrun-solver/pkg/monitor"
	"github.com/speedrun-hq/speedrun-solver/pkg/protocol"
	"github.com/speedrun-hq/speedrun-solver/pkg/recovery"
	"github.com/speedrun-hq/speedrun-solver/pkg/statemachine"
	"github.com/speedrun-hq/speedrun-solver/pkg/storage"
)

const (
	DefaultWorkers            = 5
	DefaultClaimBatchSize     = 10
	DefaultClaimBatchInterval = 15 * time.Second
)

// routedKinds are the events the engine acts on
var routedKinds = []models.EventKind{
	models.EventIntentDiscovered,
	models.EventIntentDeferred,
	models.EventExecutionApproved,
	models.EventExecutionStarted,
	models.EventTxConfirmed,
	models.EventTxFailed,
	models.EventPostFillReady,
	models.EventMonitoringStarted,
	models.EventClaimReady,
	models.EventOrderFailed,
}

// ErrAlreadyRunning is returned when Run is called on a running engine
var ErrAlreadyRunning = errors.New("engine already running")

// Config holds the engine settings
type Config struct {
	Workers             int
	SolverAddress       string
	Settlement          string
	DeferBackoff        time.Duration
	Confirmations       uint64
	ConfirmationTimeout time.Duration
	MonitoringTimeout   time.Duration
	ClaimBatchSize      int
	ClaimBatchInterval  time.Duration
}

// Deps are the collaborators the engine drives
type Deps struct {
	Store     storage.Store
	Registry  *protocol.Registry
	Delivery  delivery.Delivery
	Bus       *eventbus.Bus
	Builder   handlers.ContextBuilder
	Evaluator handlers.Evaluator
	Strategy  execution.Strategy
	// Discovery is optional; without it intents arrive through SubmitIntent
	Discovery discovery.Discovery
	Logger    logger.Logger
}

// Engine is the order lifecycle orchestrator
type Engine struct {
	cfg       Config
	bus       *eventbus.Bus
	discovery discovery.Discovery
	logger    logger.Logger

	machine     *statemachine.Machine
	tracker     *handlers.Tracker
	intents     *handlers.IntentHandler
	orders      *handlers.OrderHandler
	txs         *handlers.TransactionHandler
	settlements *handlers.SettlementHandler
	monitors    *monitor.Manager
	scheduler   *Scheduler
	claims      *ClaimBatcher
	recoverer   *recovery.Recoverer

	running atomic.Bool
	ready   atomic.Bool
	started time.Time
}

// New builds an engine and every handler it drives
func New(cfg Config, deps Deps) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = DefaultClaimBatchSize
	}
	if cfg.ClaimBatchInterval <= 0 {
		cfg.ClaimBatchInterval = DefaultClaimBatchInterval
	}
	log := deps.Logger
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	e := &Engine{
		cfg:       cfg,
		bus:       deps.Bus,
		discovery: deps.Discovery,
		logger:    log,
		machine:   statemachine.New(deps.Store, log),
	}
	e.tracker = handlers.NewTracker(deps.Delivery, deps.Bus, cfg.Confirmations, cfg.ConfirmationTimeout, log)

	hdeps := handlers.Deps{
		Machine:   e.machine,
		Registry:  deps.Registry,
		Delivery:  deps.Delivery,
		Publisher: deps.Bus,
		Tracker:   e.tracker,
		Logger:    log,
	}
	e.intents = handlers.NewIntentHandler(hdeps, deps.Store, deps.Builder, deps.Evaluator, deps.Strategy, handlers.IntentConfig{
		SolverAddress: cfg.SolverAddress,
		Settlement:    cfg.Settlement,
		DeferBackoff:  cfg.DeferBackoff,
	})
	e.orders = handlers.NewOrderHandler(hdeps)
	e.txs = handlers.NewTransactionHandler(hdeps)
	e.claims = NewClaimBatcher(cfg.ClaimBatchSize, cfg.ClaimBatchInterval, func(ctx context.Context, ids []string) {
		e.settlements.ProcessClaimBatch(ctx, ids)
	}, log)
	e.settlements = handlers.NewSettlementHandler(hdeps, e.claims)
	e.monitors = monitor.NewManager(e.machine, deps.Registry, deps.Bus, cfg.MonitoringTimeout, log)
	e.scheduler = NewScheduler(e.reevaluate, log)
	e.recoverer = recovery.New(e.machine, e.tracker, e.intents, deps.Bus, e.claims, log)
	return e
}

// Run drives orders until ctx is cancelled. Monitors and confirmation waits
// are abandoned on shutdown without touching the orders; the next start
// recovers them.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.tracker.Bind(ctx)
	e.monitors.Bind(ctx)

	pool := newWorkerPool(e.cfg.Workers, e.handle, e.logger)
	pool.start(ctx)

	sub := e.bus.Subscribe("engine", routedKinds...)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for event := range sub.C() {
			if !pool.submit(ctx, event) {
				e.logger.Debug("Dropping %s for order %s on shutdown", event.Kind, event.OrderID)
			}
		}
	}()
	go func() {
		defer wg.Done()
		e.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		e.claims.Run(ctx)
	}()

	report, err := e.recoverer.Run(ctx)
	if err != nil {
		e.logger.Error("Recovery failed: %v", err)
	} else if report.Scanned > 0 {
		e.logger.Notice("Recovered %d orders (%d resumed, %d re-queried, %d errors)",
			report.Scanned, report.Resumed, report.Requeried, report.Errors)
	}

	if e.discovery != nil {
		found := make(chan models.Intent, shardBuffer)
		if err := e.discovery.StartMonitoring(ctx, found); err != nil {
			e.logger.Error("Failed to start discovery: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.forwardIntents(ctx, found)
			}()
		}
	}

	e.started = time.Now()
	e.ready.Store(true)
	e.logger.Notice("Engine started with %d workers", e.cfg.Workers)

	<-ctx.Done()
	e.ready.Store(false)
	e.logger.Notice("Context cancelled, shutting down engine")

	if e.discovery != nil {
		if err := e.discovery.StopMonitoring(); err != nil {
			e.logger.Error("Failed to stop discovery: %v", err)
		}
	}
	e.bus.Unsubscribe(sub)
	wg.Wait()
	pool.close()
	e.monitors.StopAll()
	e.tracker.Wait()
	e.logger.Notice("Engine stopped")
	return nil
}

func (e *Engine) forwardIntents(ctx context.Context, found <-chan models.Intent) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-found:
			if err := e.SubmitIntent(intent); err != nil {
				e.logger.Error("Failed to publish intent %s: %v", intent.ID, err)
			}
		}
	}
}

// SubmitIntent hands a discovered intent to the engine
func (e *Engine) SubmitIntent(intent models.Intent) error {
	event := models.NewEvent(models.EventIntentDiscovered, "")
	event.Intent = &intent
	return e.bus.Publish(event)
}

// handle runs on a worker and dispatches one event to its handler
func (e *Engine) handle(ctx context.Context, event models.Event) {
	var err error
	switch event.Kind {
	case models.EventIntentDiscovered:
		if event.Intent == nil {
			err = fmt.Errorf("event %s carries no intent", event.ID)
			break
		}
		err = e.intents.Handle(ctx, *event.Intent)
	case models.EventIntentDeferred:
		e.scheduler.Schedule(event.OrderID, event.Delay, event.Reason)
	case models.EventExecutionApproved:
		err = e.orders.HandleExecutionApproved(ctx, event.OrderID)
	case models.EventExecutionStarted:
		err = e.orders.HandleExecutionStarted(ctx, event.OrderID)
	case models.EventTxConfirmed:
		err = e.txs.HandleConfirmed(ctx, event)
	case models.EventTxFailed:
		err = e.txs.HandleFailed(ctx, event)
	case models.EventPostFillReady:
		err = e.settlements.HandlePostFillReady(ctx, event.OrderID)
	case models.EventMonitoringStarted:
		if !e.monitors.Start(event.OrderID, event.TxHash) {
			e.logger.Debug("Order %s is already monitored", event.OrderID)
		}
	case models.EventClaimReady:
		err = e.settlements.HandleClaimReady(ctx, event.OrderID)
	case models.EventOrderFailed:
		e.monitors.Stop(event.OrderID)
		e.scheduler.Cancel(event.OrderID)
	}

	if err != nil && ctx.Err() == nil {
		e.logger.Error("Handling %s for order %s failed: %v", event.Kind, eventKey(event), err)
	}
}

func (e *Engine) reevaluate(ctx context.Context, orderID string) {
	if err := e.intents.Reevaluate(ctx, orderID); err != nil {
		if errors.Is(err, handlers.ErrNotPending) {
			e.logger.Debug("Deferred order %s moved on: %v", orderID, err)
			return
		}
		e.logger.Error("Re-evaluation of order %s failed: %v", orderID, err)
	}
}

// Reevaluate re-runs the execution gates of a pending order
func (e *Engine) Reevaluate(ctx context.Context, orderID string) error {
	return e.intents.Reevaluate(ctx, orderID)
}

// Order returns a stored order
func (e *Engine) Order(ctx context.Context, orderID string) (*models.Order, error) {
	return e.machine.GetOrder(ctx, orderID)
}

// Machine returns the order state machine
func (e *Engine) Machine() *statemachine.Machine {
	return e.machine
}

// Status is a snapshot of the engine for the admin API
type Status struct {
	Ready          bool                       `json:"ready"`
	Uptime         string                     `json:"uptime,omitempty"`
	Orders         map[models.OrderStatus]int `json:"orders"`
	ActiveMonitors int                        `json:"active_monitors"`
	DeferredOrders int                        `json:"deferred_orders"`
	PendingClaims  int                        `json:"pending_claims"`
	InFlightTxs    int                        `json:"in_flight_txs"`
}

// Status reports order counts and the engine's queues
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	counts, err := e.machine.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	s := &Status{
		Ready:          e.Ready(),
		Orders:         counts,
		ActiveMonitors: e.monitors.Active(),
		DeferredOrders: len(e.scheduler.Pending()),
		PendingClaims:  e.claims.Len(),
		InFlightTxs:    e.tracker.InFlight(),
	}
	if s.Ready {
		s.Uptime = time.Since(e.started).Round(time.Second).String()
	}
	return s, nil
}

// Ready reports whether the engine has started
func (e *Engine) Ready() bool {
	return e.ready.Load()
}
