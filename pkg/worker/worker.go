package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sandchest/control/pkg/leader"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/metrics"
)

// Handler runs one tick of a policy worker: query a bounded candidate
// set once, act row by row, and report how many rows were acted on.
type Handler func(ctx context.Context) (int, error)

// Worker is one named, interval-scheduled background job.
type Worker struct {
	Name     string
	Interval time.Duration // nominal period; also sets the lock TTL
	Cron     string        // optional cron spec; overrides the ticker
	Handler  Handler
}

// cronLockTTL covers cron-driven workers, which have no tick interval
// to derive a lock lifetime from.
const cronLockTTL = 10 * time.Minute

// LockTTL is the leader-lock lifetime for this worker: twice the tick
// interval, so a holder that misses one tick keeps leadership but a
// crashed holder is dispossessed within two intervals.
func (w *Worker) LockTTL() time.Duration {
	if w.Interval == 0 {
		return cronLockTTL
	}
	return 2 * w.Interval
}

// Scheduler runs all policy workers as independent loops inside one
// process. Every replica runs the identical scheduler; the leader lock
// decides whose tick actually executes.
type Scheduler struct {
	instanceID string
	locks      *leader.Locks
	workers    []*Worker
	cron       *cron.Cron
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewScheduler creates a scheduler for this process instance.
func NewScheduler(instanceID string, locks *leader.Locks) *Scheduler {
	return &Scheduler{
		instanceID: instanceID,
		locks:      locks,
		cron:       cron.New(),
		stopCh:     make(chan struct{}),
	}
}

// Register adds workers to the scheduler. Call before Start.
func (s *Scheduler) Register(workers ...*Worker) {
	s.workers = append(s.workers, workers...)
}

// Start launches one loop per registered worker. Workers with a cron
// spec are driven by the shared cron runner; the rest get a ticker.
func (s *Scheduler) Start() {
	for _, w := range s.workers {
		if w.Cron != "" {
			w := w
			if _, err := s.cron.AddFunc(w.Cron, func() { s.runTick(w) }); err != nil {
				logger := log.WithWorker(w.Name)
				logger.Error().Err(err).Str("spec", w.Cron).Msg("invalid cron spec, worker not scheduled")
			}
			continue
		}
		s.wg.Add(1)
		go s.runLoop(w)
	}
	s.cron.Start()
	logger := log.WithComponent("scheduler")
	logger.Info().
		Str("instance_id", s.instanceID).
		Int("workers", len(s.workers)).
		Msg("worker scheduler started")
}

// Stop signals all loops to stop scheduling new ticks and waits for
// in-flight ticks to complete. Ticks are drained, not aborted, so a
// sandbox is never left half-transitioned.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	s.wg.Wait()
}

func (s *Scheduler) runLoop(w *Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runTick(w)
		case <-s.stopCh:
			return
		}
	}
}

// runTick executes one leader-gated tick. A panicking handler is
// confined to its own tick; a failing worker never stops other workers
// or the process.
func (s *Scheduler) runTick(w *Worker) {
	logger := log.WithWorker(w.Name)
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerTicksTotal.WithLabelValues(w.Name, "panic").Inc()
			logger.Error().Interface("panic", r).Msg("worker tick panicked")
		}
	}()

	// The tick context is independent of Stop so an in-flight tick can
	// drain; the timeout only guards against a wedged downstream call.
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout(w))
	defer cancel()

	if !s.locks.AcquireOrRenew(ctx, w.Name, s.instanceID, w.LockTTL()) {
		metrics.WorkerLeader.WithLabelValues(w.Name).Set(0)
		metrics.WorkerTicksTotal.WithLabelValues(w.Name, "skipped").Inc()
		return
	}
	metrics.WorkerLeader.WithLabelValues(w.Name).Set(1)

	timer := metrics.NewTimer()
	processed, err := w.Handler(ctx)
	timer.ObserveDuration(metrics.WorkerTickDuration.WithLabelValues(w.Name))

	if err != nil {
		metrics.WorkerTicksTotal.WithLabelValues(w.Name, "error").Inc()
		logger.Error().Err(err).Msg("worker tick failed")
		return
	}

	metrics.WorkerTicksTotal.WithLabelValues(w.Name, "ok").Inc()
	if processed > 0 {
		metrics.WorkerRowsProcessed.WithLabelValues(w.Name).Add(float64(processed))
		logger.Info().Int("processed", processed).Msg("worker tick completed")
	} else {
		logger.Debug().Msg("worker tick completed, nothing to do")
	}
}

func tickTimeout(w *Worker) time.Duration {
	if w.Interval == 0 {
		return cronLockTTL
	}
	timeout := 2 * w.Interval
	if timeout < time.Minute {
		timeout = time.Minute
	}
	return timeout
}
