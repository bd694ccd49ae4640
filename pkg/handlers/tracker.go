package handlers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/delivery"
	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// Tracker waits for submitted transactions and turns their outcome into
// tx_confirmed or tx_failed events. Only one wait runs per hash.
type Tracker struct {
	delivery      delivery.Delivery
	publisher     Publisher
	confirmations uint64
	timeout       time.Duration
	logger        logger.Logger

	mu       sync.Mutex
	ctx      context.Context
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewTracker creates a tracker. A zero timeout waits until the bound context ends.
func NewTracker(d delivery.Delivery, pub Publisher, confirmations uint64, timeout time.Duration, log logger.Logger) *Tracker {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Tracker{
		delivery:      d,
		publisher:     pub,
		confirmations: confirmations,
		timeout:       timeout,
		logger:        log,
		ctx:           context.Background(),
		inflight:      make(map[string]struct{}),
	}
}

// Bind sets the context confirmation waits run under. Cancelling it abandons
// pending waits without reporting an outcome.
func (t *Tracker) Bind(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = ctx
}

// Track starts waiting for hash in the background
func (t *Tracker) Track(orderID string, stage models.TxStage, hash string, chainID uint64) {
	t.mu.Lock()
	if _, busy := t.inflight[hash]; busy {
		t.mu.Unlock()
		return
	}
	t.inflight[hash] = struct{}{}
	ctx := t.ctx
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.inflight, hash)
			t.mu.Unlock()
		}()
		t.wait(ctx, orderID, stage, hash, chainID)
	}()
}

// wait reports the outcome of hash. A confirmation timeout is not an outcome:
// the receipt is looked up once and the wait starts over while it is missing.
func (t *Tracker) wait(ctx context.Context, orderID string, stage models.TxStage, hash string, chainID uint64) {
	for {
		waitCtx, cancel := ctx, context.CancelFunc(func() {})
		if t.timeout > 0 {
			waitCtx, cancel = context.WithTimeout(ctx, t.timeout)
		}
		receipt, err := t.delivery.WaitForConfirmation(waitCtx, hash, chainID, t.confirmations)
		cancel()

		switch {
		case err == nil:
			t.report(orderID, stage, hash, chainID, receipt, "")
			return
		case ctx.Err() != nil:
			t.logger.DebugWithChain(chainID, "Stopped waiting for %s of order %s", hash, orderID)
			return
		case !errors.Is(err, context.DeadlineExceeded):
			t.report(orderID, stage, hash, chainID, nil, err.Error())
			return
		}

		receipt, err = t.delivery.GetReceipt(ctx, hash, chainID)
		if err == nil {
			t.report(orderID, stage, hash, chainID, receipt, "")
			return
		}
		t.logger.NoticeWithChain(chainID, "No confirmation of %s for order %s within %s, waiting again: %v", hash, orderID, t.timeout, err)
	}
}

// Requery looks up the receipt of an already submitted transaction. A mined
// receipt is reported right away; otherwise a fresh wait is started, also
// when the lookup itself fails. It reports whether the receipt was found.
func (t *Tracker) Requery(ctx context.Context, orderID string, stage models.TxStage, hash string, chainID uint64) (bool, error) {
	receipt, err := t.delivery.GetReceipt(ctx, hash, chainID)
	if err != nil {
		if !errors.Is(err, delivery.ErrReceiptNotFound) {
			t.logger.ErrorWithChain(chainID, "Receipt lookup for %s of order %s failed, waiting instead: %v", hash, orderID, err)
		}
		t.Track(orderID, stage, hash, chainID)
		return false, nil
	}
	t.report(orderID, stage, hash, chainID, receipt, "")
	return true, nil
}

func (t *Tracker) report(orderID string, stage models.TxStage, hash string, chainID uint64, receipt *models.TransactionReceipt, failure string) {
	chain := strconv.FormatUint(chainID, 10)

	var event models.Event
	switch {
	case receipt != nil && receipt.Success:
		event = models.NewEvent(models.EventTxConfirmed, orderID)
		metrics.Transactions.WithLabelValues(string(stage), chain, "confirmed").Inc()
	case receipt != nil:
		event = models.NewEvent(models.EventTxFailed, orderID)
		event.Reason = "transaction reverted"
		metrics.Transactions.WithLabelValues(string(stage), chain, "reverted").Inc()
	default:
		event = models.NewEvent(models.EventTxFailed, orderID)
		event.Reason = failure
		metrics.Transactions.WithLabelValues(string(stage), chain, "error").Inc()
	}
	event.Stage = stage
	event.TxHash = hash
	event.ChainID = chainID
	event.Receipt = receipt

	if err := t.publisher.Publish(event); err != nil {
		t.logger.Error("Failed to publish %s for %s: %v", event.Kind, hash, err)
	}
}

// InFlight returns the number of running waits
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// Wait blocks until every running wait has returned
func (t *Tracker) Wait() {
	t.wg.Wait()
}
