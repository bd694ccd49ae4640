package chainclient

import (
	"context"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
)

// DefaultGasUpdateInterval is how often tracked gas prices are refreshed
const DefaultGasUpdateInterval = 15 * time.Second

// GasPriceTracker periodically refreshes the gas price of every client
type GasPriceTracker struct {
	clients  []*Client
	interval time.Duration
	logger   logger.Logger

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewGasPriceTracker creates a tracker for clients
func NewGasPriceTracker(clients []*Client, interval time.Duration, log logger.Logger) *GasPriceTracker {
	if interval <= 0 {
		interval = DefaultGasUpdateInterval
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &GasPriceTracker{
		clients:  clients,
		interval: interval,
		logger:   log,
	}
}

// Start begins the periodic updates. Calling it on a running tracker does nothing.
func (t *GasPriceTracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}
	t.stopChan = make(chan struct{})
	t.done = make(chan struct{})
	t.running = true

	go t.run(ctx, t.stopChan, t.done)
}

// Stop halts the updates and waits for the running refresh to return
func (t *GasPriceTracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	close(t.stopChan)
	done := t.done
	t.running = false
	t.mu.Unlock()

	<-done
}

// IsRunning returns whether the tracker is running
func (t *GasPriceTracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *GasPriceTracker) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.update(ctx)
	for {
		select {
		case <-ticker.C:
			t.update(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *GasPriceTracker) update(ctx context.Context) {
	for _, c := range t.clients {
		if _, err := c.UpdateGasPrice(ctx); err != nil {
			t.logger.ErrorWithChain(c.ChainID, "Failed to update gas price: %v", err)
		}
	}
}
