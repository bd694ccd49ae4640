package engine

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// shardBuffer is the job buffer of each worker
const shardBuffer = 100

// workerPool runs a fixed number of workers. Jobs with the same key always
// land on the same worker, so events of one order are handled in order.
type workerPool struct {
	shards []chan models.Event
	handle func(ctx context.Context, event models.Event)
	wg     sync.WaitGroup
	logger logger.Logger
}

func newWorkerPool(size int, handle func(ctx context.Context, event models.Event), log logger.Logger) *workerPool {
	if size <= 0 {
		size = 1
	}
	p := &workerPool{
		shards: make([]chan models.Event, size),
		handle: handle,
		logger: log,
	}
	for i := range p.shards {
		p.shards[i] = make(chan models.Event, shardBuffer)
	}
	return p
}

func (p *workerPool) start(ctx context.Context) {
	p.logger.Notice("Starting worker pool with %d workers", len(p.shards))
	for i, jobs := range p.shards {
		p.wg.Add(1)
		go p.worker(ctx, i, jobs)
	}
}

// submit queues the event on its shard. It blocks while the shard is full.
func (p *workerPool) submit(ctx context.Context, event models.Event) bool {
	select {
	case p.shards[p.shardFor(eventKey(event))] <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// close stops accepting jobs and waits for queued ones to drain
func (p *workerPool) close() {
	for _, jobs := range p.shards {
		close(jobs)
	}
	p.wg.Wait()
}

func (p *workerPool) worker(ctx context.Context, id int, jobs <-chan models.Event) {
	defer p.wg.Done()
	p.logger.Debug("Starting worker %d", id)
	for event := range jobs {
		if ctx.Err() != nil {
			continue
		}
		p.handle(ctx, event)
	}
	p.logger.Debug("Worker %d shutting down", id)
}

func (p *workerPool) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// eventKey is the order an event belongs to, or the intent for discovery events
func eventKey(event models.Event) string {
	if event.OrderID != "" {
		return event.OrderID
	}
	if event.Intent != nil {
		return event.Intent.ID
	}
	return event.ID
}
