// Package app wires configuration, storage, the upstream source, the
// Telegram transport and the forwarder into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tweetfwd/internal/commands"
	"tweetfwd/internal/config"
	"tweetfwd/internal/delivery"
	"tweetfwd/internal/eventbus"
	"tweetfwd/internal/forwarder"
	"tweetfwd/internal/httpapi"
	rtsup "tweetfwd/internal/runtime/supervisor"
	"tweetfwd/internal/scheduler"
	"tweetfwd/internal/storage"
	kit "tweetfwd/internal/transport"
	telegram "tweetfwd/internal/transport/telegram/adapter"
	"tweetfwd/internal/transport/telegram/router"
	logx "tweetfwd/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	events *eventbus.Recorder
	store  storage.Store

	adapter *telegram.Adapter
	dl      *delivery.Telegram
	job     *forwarder.Job
	sched   *scheduler.Service
	router  *router.Router
	cmds    *commands.Handlers
	http    *httpapi.Server // nil when disabled

	updates chan kit.Update
}

// New loads the config and constructs every component without starting
// any of them.
func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("info")
	cfgm := config.NewManager(cfgPath, bootLog.With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rc, err := mapConfig(cfg)
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(rc.adapter, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(rc.logging, ad)
	ad.SetLogger(log.With(logx.String("comp", "telegram")))

	store, err := storage.Open(rc.storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	src, err := newSource(rc.source, log.With(logx.String("comp", "source")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	dl := delivery.NewTelegram(ad, rc.delivery, log.With(logx.String("comp", "delivery")))
	job := forwarder.New(store, src, dl, rc.forwarder, log.With(logx.String("comp", "forwarder")), forwarder.WithBus(bus))
	sched := scheduler.New(job, rc.scheduler, log.With(logx.String("comp", "scheduler")))

	rt := router.New(ad, router.Config{}, log.With(logx.String("comp", "router")))
	rt.SetAdmins(rc.admins)
	cmds := commands.New(store, src, log,
		commands.WithHelp(rt.Commands),
		commands.WithStatus(func() (time.Time, time.Duration, bool) {
			s := sched.Snapshot()
			return s.Next, s.Interval, s.Running
		}),
	)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		events:  eventbus.NewRecorder(),
		store:   store,
		adapter: ad,
		dl:      dl,
		job:     job,
		sched:   sched,
		router:  rt,
		cmds:    cmds,
		updates: make(chan kit.Update, 256),
	}
	if rc.httpOn {
		a.http = httpapi.New(rc.http, httpapi.Deps{
			Store:     store,
			Scheduler: sched.Snapshot,
			Events:    a.events,
		}, log.With(logx.String("comp", "http")))
	}
	return a, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("router.menu", func(c context.Context) {
		a.router.Register(c, a.cmds.Commands())
	})
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	a.sup.Go0("eventbus.recorder", func(c context.Context) { a.events.Run(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)

	a.sched.Start(a.sup.Context())

	if a.http != nil {
		a.sup.Go("http.serve", a.http.Run)
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the hot-reloadable sections of next.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Summarize(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rc, err := mapConfig(next)
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}

	a.logs.Apply(rc.logging)
	a.job.Apply(rc.forwarder)
	a.dl.Apply(rc.delivery)
	a.router.SetAdmins(rc.admins)

	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(ch.Restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: ch.Sections})
}

// Stop shuts components down in dependency order, bounding each step.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// The scheduler goes first so no new cycle starts while the rest unwinds.
	a.step(ctx, "scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, p)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
