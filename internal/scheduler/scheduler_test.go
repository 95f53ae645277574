package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tweetfwd/internal/forwarder"
	logx "tweetfwd/pkg/logx"
)

type fakeRunner struct {
	interval  time.Duration
	hold      time.Duration
	runs      atomic.Int64
	asked     atomic.Int64
	active    atomic.Int64
	maxActive atomic.Int64
	finished  atomic.Int64
}

func (f *fakeRunner) NextInterval(context.Context) time.Duration {
	f.asked.Add(1)
	return f.interval
}

func (f *fakeRunner) RunCycle(ctx context.Context) (forwarder.CycleReport, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	f.runs.Add(1)
	select {
	case <-time.After(f.hold):
	case <-ctx.Done():
		return forwarder.CycleReport{}, ctx.Err()
	}
	f.finished.Add(1)
	return forwarder.CycleReport{Tracked: 1}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunsRepeatedlyWithoutOverlap(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{interval: 20 * time.Millisecond, hold: 50 * time.Millisecond}
	s := New(r, Config{FirstRunDelay: 10 * time.Millisecond}, logx.Nop())
	s.Start(context.Background())

	waitFor(t, func() bool { return r.finished.Load() >= 3 })
	s.Stop(context.Background())

	if got := r.maxActive.Load(); got != 1 {
		t.Fatalf("expected at most one active cycle, saw %d", got)
	}
	if r.asked.Load() < 3 {
		t.Fatalf("interval should be recomputed every cycle, asked %d times", r.asked.Load())
	}
	snap := s.Snapshot()
	if snap.Runs < 3 || snap.LastReport == nil || snap.LastReport.Tracked != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Interval != r.interval {
		t.Fatalf("snapshot interval %v want %v", snap.Interval, r.interval)
	}
}

func TestStopWaitsForRunningCycle(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{interval: time.Hour, hold: 100 * time.Millisecond}
	s := New(r, Config{FirstRunDelay: time.Millisecond}, logx.Nop())
	s.Start(context.Background())

	waitFor(t, func() bool { return r.runs.Load() == 1 })
	s.Stop(context.Background())
	if r.finished.Load() != 1 {
		t.Fatalf("Stop returned before the running cycle finished")
	}
}

func TestStopCancelsCycleWhenContextExpires(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{interval: time.Hour, hold: time.Hour}
	s := New(r, Config{FirstRunDelay: time.Millisecond}, logx.Nop())
	s.Start(context.Background())
	waitFor(t, func() bool { return r.runs.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Stop(ctx)
	waitFor(t, func() bool { return r.active.Load() == 0 })
	if r.finished.Load() != 0 {
		t.Fatalf("cycle should have been canceled")
	}
}

func TestIntervalScheduleHonorsFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Now()
	var mu sync.Mutex
	calls := 0
	sched := &intervalSchedule{first: now.Add(time.Minute), next: func() time.Duration {
		mu.Lock()
		calls++
		mu.Unlock()
		return 5 * time.Minute
	}}
	if got := sched.Next(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("first run: got %v", got)
	}
	later := now.Add(2 * time.Minute)
	if got := sched.Next(later); !got.Equal(later.Add(5 * time.Minute)) {
		t.Fatalf("later run: got %v", got)
	}
	if calls != 1 {
		t.Fatalf("next should be consulted once, got %d", calls)
	}
}
