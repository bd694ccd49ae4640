package engine

import (
	"context"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
)

// ClaimBatcher collects pre-claimed orders and claims them together, either
// when the batch is full or when the interval elapses
type ClaimBatcher struct {
	size     int
	interval time.Duration
	process  func(ctx context.Context, orderIDs []string)
	logger   logger.Logger

	mu      sync.Mutex
	pending []string
	queued  map[string]struct{}
	full    chan struct{}
}

// NewClaimBatcher creates a batcher
func NewClaimBatcher(size int, interval time.Duration, process func(ctx context.Context, orderIDs []string), log logger.Logger) *ClaimBatcher {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &ClaimBatcher{
		size:     size,
		interval: interval,
		process:  process,
		logger:   log,
		queued:   make(map[string]struct{}),
		full:     make(chan struct{}, 1),
	}
}

// Enqueue adds an order to the next batch. An order already waiting is not added twice.
func (b *ClaimBatcher) Enqueue(orderID string) {
	b.mu.Lock()
	if _, ok := b.queued[orderID]; ok {
		b.mu.Unlock()
		return
	}
	b.queued[orderID] = struct{}{}
	b.pending = append(b.pending, orderID)
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of orders waiting for a claim
func (b *ClaimBatcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run flushes batches until ctx is cancelled. Orders still waiting at
// shutdown are picked up by recovery on the next start.
func (b *ClaimBatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.full:
			b.flush(ctx)
		}
	}
}

func (b *ClaimBatcher) flush(ctx context.Context) {
	for {
		batch := b.take()
		if len(batch) == 0 {
			return
		}
		b.logger.Info("Claiming batch of %d orders", len(batch))
		b.process(ctx, batch)
		if len(batch) < b.size {
			return
		}
	}
}

func (b *ClaimBatcher) take() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.pending)
	if n > b.size {
		n = b.size
	}
	batch := append([]string(nil), b.pending[:n]...)
	b.pending = b.pending[n:]
	for _, id := range batch {
		delete(b.queued, id)
	}
	return batch
}
