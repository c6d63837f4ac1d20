package worker

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/leader"
	"github.com/sandchest/control/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func TestSchedulerRunsWorker(t *testing.T) {
	locks := leader.NewLocks(coordination.NewMemoryStore())
	s := NewScheduler("inst-1", locks)

	var ticks atomic.Int64
	s.Register(&Worker{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Handler: func(ctx context.Context) (int, error) {
			ticks.Add(1)
			return 0, nil
		},
	})

	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.Greater(t, ticks.Load(), int64(0), "worker must have ticked")

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after Stop")
}

func TestTickSkippedWhenNotLeader(t *testing.T) {
	store := coordination.NewMemoryStore()
	locks := leader.NewLocks(store)

	// Another instance already holds this worker's lock.
	require.True(t, locks.AcquireOrRenew(context.Background(), "gated", "other-instance", time.Hour))

	s := NewScheduler("inst-1", locks)
	ran := false
	w := &Worker{
		Name:     "gated",
		Interval: time.Second,
		Handler: func(ctx context.Context) (int, error) {
			ran = true
			return 0, nil
		},
	}
	s.Register(w)

	s.runTick(w)
	assert.False(t, ran, "non-leader tick must be skipped")
}

func TestPanicConfinedToTick(t *testing.T) {
	locks := leader.NewLocks(coordination.NewMemoryStore())
	s := NewScheduler("inst-1", locks)

	calls := 0
	w := &Worker{
		Name:     "flaky",
		Interval: time.Second,
		Handler: func(ctx context.Context) (int, error) {
			calls++
			if calls == 1 {
				panic("boom")
			}
			return 0, nil
		},
	}
	s.Register(w)

	assert.NotPanics(t, func() { s.runTick(w) })
	assert.NotPanics(t, func() { s.runTick(w) })
	assert.Equal(t, 2, calls, "worker keeps running after a panicking tick")
}

func TestHandlerErrorDoesNotStopWorker(t *testing.T) {
	locks := leader.NewLocks(coordination.NewMemoryStore())
	s := NewScheduler("inst-1", locks)

	calls := 0
	w := &Worker{
		Name:     "erroring",
		Interval: time.Second,
		Handler: func(ctx context.Context) (int, error) {
			calls++
			return 0, context.DeadlineExceeded
		},
	}
	s.Register(w)

	s.runTick(w)
	s.runTick(w)
	assert.Equal(t, 2, calls)
}

func TestStopDrainsInflightTick(t *testing.T) {
	locks := leader.NewLocks(coordination.NewMemoryStore())
	s := NewScheduler("inst-1", locks)

	started := make(chan struct{})
	var finished atomic.Bool
	s.Register(&Worker{
		Name:     "slow",
		Interval: 10 * time.Millisecond,
		Handler: func(ctx context.Context) (int, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return 1, nil
		},
	})

	s.Start()
	<-started
	s.Stop()

	assert.True(t, finished.Load(), "Stop must wait for the in-flight tick")
}

func TestStopIdempotent(t *testing.T) {
	locks := leader.NewLocks(coordination.NewMemoryStore())
	s := NewScheduler("inst-1", locks)
	s.Register(&Worker{
		Name:     "noop",
		Interval: time.Hour,
		Handler:  func(ctx context.Context) (int, error) { return 0, nil },
	})

	s.Start()
	s.Stop()
	assert.NotPanics(t, func() { s.Stop() })
}

func TestLockTTL(t *testing.T) {
	ticker := &Worker{Name: "t", Interval: 30 * time.Second}
	assert.Equal(t, time.Minute, ticker.LockTTL())

	cronW := &Worker{Name: "c", Cron: "@every 1h"}
	assert.Equal(t, cronLockTTL, cronW.LockTTL())
}
