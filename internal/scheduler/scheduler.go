// Package scheduler triggers forwarder cycles on a self-adjusting interval.
//
// The delay after each cycle start is asked from the Runner, so the cadence
// follows the number of tracked accounts. Overlapping runs are skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tweetfwd/internal/forwarder"
	logx "tweetfwd/pkg/logx"
)

// Runner is the job being scheduled.
type Runner interface {
	NextInterval(ctx context.Context) time.Duration
	RunCycle(ctx context.Context) (forwarder.CycleReport, error)
}

type Config struct {
	// FirstRunDelay is the delay before the first cycle after Start.
	FirstRunDelay time.Duration
	// IntervalTimeout bounds the NextInterval call.
	IntervalTimeout time.Duration
}

// Snapshot is a point-in-time view for status pages.
type Snapshot struct {
	Running    bool                   `json:"running"`
	Runs       uint64                 `json:"runs"`
	LastStart  time.Time              `json:"last_start,omitempty"`
	LastReport *forwarder.CycleReport `json:"last_report,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
	Next       time.Time              `json:"next,omitempty"`
	Interval   time.Duration          `json:"interval"`
}

type Service struct {
	r   Runner
	log logx.Logger
	cfg Config

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	state  Snapshot
}

func New(r Runner, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.FirstRunDelay <= 0 {
		cfg.FirstRunDelay = time.Second
	}
	if cfg.IntervalTimeout <= 0 {
		cfg.IntervalTimeout = 5 * time.Second
	}
	return &Service{r: r, cfg: cfg, log: log}
}

// intervalSchedule asks for a fresh delay every time cron plans the next run.
type intervalSchedule struct {
	first time.Time
	next  func() time.Duration
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return t.Add(s.next())
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	sched := &intervalSchedule{first: time.Now().Add(s.cfg.FirstRunDelay), next: s.interval}
	s.c.Schedule(sched, cron.FuncJob(s.tick))
	s.c.Start()
	s.log.Info("scheduler started", logx.Duration("first_run_in", s.cfg.FirstRunDelay))
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, s.cfg.IntervalTimeout)
	defer cancel()
	d := s.r.NextInterval(ctx)
	s.mu.Lock()
	s.state.Interval = d
	s.mu.Unlock()
	s.log.Debug("next cycle planned", logx.Duration("in", d))
	return d
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.state.Running = true
	s.state.Runs++
	s.state.LastStart = time.Now()
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	rep, err := s.r.RunCycle(ctx)

	s.mu.Lock()
	s.state.Running = false
	if !errors.Is(err, forwarder.ErrCycleRunning) {
		s.state.LastReport = &rep
	}
	s.state.LastError = ""
	if err != nil {
		s.state.LastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, forwarder.ErrCycleRunning):
		s.log.Debug("cycle skipped, previous one still running")
	case errors.Is(err, context.Canceled):
		s.log.Info("cycle canceled")
	default:
		s.log.Error("cycle failed", logx.Err(err))
	}
}

// Snapshot returns the current state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	out, c := s.state, s.c
	s.mu.Unlock()
	// Entries talks to the cron loop, which may itself be waiting on s.mu
	// inside interval().
	if c != nil {
		if es := c.Entries(); len(es) > 0 {
			out.Next = es[0].Next
		}
	}
	return out
}

// Stop stops triggering and waits for a running cycle to finish. If ctx
// expires first, the running cycle is canceled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out, canceling running cycle")
	}
	cancel()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// cronLogger routes cron's logr-style calls into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
