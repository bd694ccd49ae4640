package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/metrics"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

// maxSchedulerWait caps how long the scheduler sleeps between checks
const maxSchedulerWait = 10 * time.Second

// Scheduler re-evaluates deferred orders once their backoff has elapsed.
// An order has at most one pending job; deferring it again reschedules it.
type Scheduler struct {
	reevaluate func(ctx context.Context, orderID string)
	logger     logger.Logger
	now        func() time.Time

	mu   sync.Mutex
	jobs map[string]*models.DeferredJob
	wake chan struct{}
}

// NewScheduler creates a scheduler that hands due orders to reevaluate
func NewScheduler(reevaluate func(ctx context.Context, orderID string), log logger.Logger) *Scheduler {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Scheduler{
		reevaluate: reevaluate,
		logger:     log,
		now:        time.Now,
		jobs:       make(map[string]*models.DeferredJob),
		wake:       make(chan struct{}, 1),
	}
}

// Schedule queues a re-evaluation of orderID after delay
func (s *Scheduler) Schedule(orderID string, delay time.Duration, reason string) {
	s.mu.Lock()
	job, ok := s.jobs[orderID]
	if !ok {
		job = &models.DeferredJob{OrderID: orderID}
		s.jobs[orderID] = job
	}
	job.Attempt++
	job.NextAttempt = s.now().Add(delay)
	job.Reason = reason
	size := len(s.jobs)
	s.mu.Unlock()

	metrics.DeferredQueueSize.Set(float64(size))
	s.logger.Info("Deferring order %s for %v (attempt #%d): %s", orderID, delay, job.Attempt, reason)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel drops any pending job for orderID
func (s *Scheduler) Cancel(orderID string) {
	s.mu.Lock()
	delete(s.jobs, orderID)
	size := len(s.jobs)
	s.mu.Unlock()
	metrics.DeferredQueueSize.Set(float64(size))
}

// Pending returns the queued jobs ordered by next attempt
func (s *Scheduler) Pending() []models.DeferredJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]models.DeferredJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].NextAttempt.Before(jobs[j].NextAttempt)
	})
	return jobs
}

// Run fires due jobs until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(maxSchedulerWait)
	defer timer.Stop()

	for {
		timer.Reset(s.dispatchDue(ctx))
		select {
		case <-ctx.Done():
			s.logger.Info("Deferred scheduler shutting down")
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatchDue fires every due job and returns how long to wait for the next one
func (s *Scheduler) dispatchDue(ctx context.Context) time.Duration {
	now := s.now()
	var due []models.DeferredJob
	wait := maxSchedulerWait

	s.mu.Lock()
	for id, job := range s.jobs {
		if !job.NextAttempt.After(now) {
			due = append(due, *job)
			delete(s.jobs, id)
			continue
		}
		if until := job.NextAttempt.Sub(now); until < wait {
			wait = until
		}
	}
	size := len(s.jobs)
	s.mu.Unlock()

	metrics.DeferredQueueSize.Set(float64(size))
	for _, job := range due {
		s.logger.Debug("Re-evaluating deferred order %s (attempt #%d)", job.OrderID, job.Attempt)
		s.reevaluate(ctx, job.OrderID)
	}
	return wait
}
