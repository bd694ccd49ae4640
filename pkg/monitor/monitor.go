// Package monitor runs one settlement polling loop per post-filled order
package monitor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

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

// Manager owns the settlement monitors. Each monitor waits for the fill proof,
// then for claimability, and gives up after the monitoring timeout.
type Manager struct {
	machine   *statemachine.Machine
	registry  *protocol.Registry
	publisher Publisher
	timeout   time.Duration
	logger    logger.Logger

	mu       sync.Mutex
	ctx      context.Context
	monitors map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a monitor manager with the overall per-order timeout
func NewManager(machine *statemachine.Machine, registry *protocol.Registry, pub Publisher, timeout time.Duration, log logger.Logger) *Manager {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Manager{
		machine:   machine,
		registry:  registry,
		publisher: pub,
		timeout:   timeout,
		logger:    log,
		ctx:       context.Background(),
		monitors:  make(map[string]context.CancelFunc),
	}
}

// Bind sets the parent context of monitors started afterwards
func (m *Manager) Bind(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
}

// Start launches the monitor of an order. It returns false if one is already running.
func (m *Manager) Start(orderID, fillTxHash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.monitors[orderID]; running {
		return false
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.monitors[orderID] = cancel
	metrics.ActiveMonitors.Set(float64(len(m.monitors)))
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.remove(orderID)
		defer cancel()
		m.run(ctx, orderID, fillTxHash)
	}()
	return true
}

// Stop cancels an order's monitor. The order itself is left as is.
func (m *Manager) Stop(orderID string) {
	m.mu.Lock()
	cancel, ok := m.monitors[orderID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every monitor and waits for them to exit
func (m *Manager) StopAll() {
	m.mu.Lock()
	for _, cancel := range m.monitors {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Active returns the number of running monitors
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.monitors)
}

// IsMonitoring reports whether an order has a running monitor
func (m *Manager) IsMonitoring(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.monitors[orderID]
	return ok
}

func (m *Manager) remove(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.monitors, orderID)
	metrics.ActiveMonitors.Set(float64(len(m.monitors)))
}

// PollBudget is the number of polls that fit in timeout at interval
func PollBudget(timeout, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	return int(math.Ceil(float64(timeout) / float64(interval)))
}

func (m *Manager) run(ctx context.Context, orderID, fillTxHash string) {
	order, err := m.machine.GetOrder(ctx, orderID)
	if err != nil {
		m.logger.Error("Monitor for order %s could not load it: %v", orderID, err)
		return
	}
	if order.Status != models.StatusPostFilled {
		m.logger.Debug("Order %s is %s, nothing to monitor", orderID, order.Status)
		return
	}
	if fillTxHash == "" {
		fillTxHash = order.FillTxHash
	}

	settlement, err := m.registry.Settlement(order.Settlement)
	if err != nil {
		m.logger.Error("Monitor for order %s: %v", orderID, err)
		m.fail(ctx, orderID, "monitor failed: "+err.Error())
		return
	}

	interval := settlement.PollInterval()
	budget := PollBudget(m.timeout, interval)
	deadline := time.Now().Add(m.timeout)
	proof := order.FillProof

	m.logger.Info("Monitoring settlement of order %s (%d polls every %s)", orderID, budget, interval)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for polls := 1; polls <= budget; polls++ {
		if ctx.Err() != nil {
			return
		}

		attested := false
		if proof == nil {
			p, err := settlement.GetAttestation(ctx, order, fillTxHash)
			switch {
			case err != nil:
				metrics.MonitorPolls.WithLabelValues("error").Inc()
				if m.unclaimable(ctx, orderID, err) {
					return
				}
				m.logger.Error("Attestation lookup for order %s failed: %v", orderID, err)
			case p == nil:
				metrics.MonitorPolls.WithLabelValues("pending").Inc()
			default:
				metrics.MonitorPolls.WithLabelValues("attested").Inc()
				if _, err := m.machine.AttachProof(ctx, orderID, p); err != nil {
					m.logger.Error("Failed to store proof for order %s: %v", orderID, err)
				} else {
					proof = p
					order.FillProof = p
					attested = true
					m.logger.Info("Order %s fill attested at block %d", orderID, p.BlockNumber)
				}
			}
		} else {
			claimable, err := settlement.CanClaim(ctx, order, proof)
			switch {
			case err != nil:
				metrics.MonitorPolls.WithLabelValues("error").Inc()
				if m.unclaimable(ctx, orderID, err) {
					return
				}
				m.logger.Error("Claimability check for order %s failed: %v", orderID, err)
			case claimable:
				metrics.MonitorPolls.WithLabelValues("claimable").Inc()
				m.settle(ctx, orderID)
				return
			default:
				metrics.MonitorPolls.WithLabelValues("pending").Inc()
			}
		}

		if polls == budget || !time.Now().Before(deadline) {
			break
		}
		// a fresh proof is checked for claimability right away
		if attested {
			continue
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	if ctx.Err() != nil {
		return
	}
	m.logger.Notice("Order %s settlement not claimable within %s", orderID, m.timeout)
	if m.fail(ctx, orderID, models.ReasonTimedOut) {
		event := models.NewEvent(models.EventMonitoringTimeout, orderID)
		event.Reason = models.ReasonTimedOut
		m.publish(event)
	}
}

func (m *Manager) settle(ctx context.Context, orderID string) {
	if _, err := m.machine.Transition(ctx, orderID, models.StatusPostFilled, models.StatusSettled); err != nil {
		if errors.Is(err, statemachine.ErrInvalidTransition) {
			m.logger.Debug("Order %s moved on before settling: %v", orderID, err)
			return
		}
		m.logger.Error("Failed to settle order %s: %v", orderID, err)
		return
	}
	m.logger.Info("Order %s settled, ready to claim", orderID)
	m.publish(models.NewEvent(models.EventClaimReady, orderID))
}

// unclaimable fails the order at once when err says the settlement can never pay the solver
func (m *Manager) unclaimable(ctx context.Context, orderID string, err error) bool {
	reason, ok := protocol.IsUnclaimable(err)
	if !ok {
		return false
	}
	m.logger.Notice("Order %s settlement is unclaimable: %s", orderID, reason)
	reason = "settlement failed: " + reason
	if m.fail(ctx, orderID, reason) {
		event := models.NewEvent(models.EventOrderFailed, orderID)
		event.Reason = reason
		m.publish(event)
	}
	return true
}

func (m *Manager) fail(ctx context.Context, orderID, reason string) bool {
	if _, err := m.machine.Fail(ctx, orderID, models.StatusPostFilled, reason); err != nil {
		m.logger.Error("Failed to fail order %s: %v", orderID, err)
		return false
	}
	return true
}

func (m *Manager) publish(event models.Event) {
	if err := m.publisher.Publish(event); err != nil {
		m.logger.Debug("Publishing %s for order %s: %v", event.Kind, event.OrderID, err)
	}
}
