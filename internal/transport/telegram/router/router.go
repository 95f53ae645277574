package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "tweetfwd/internal/runtime/supervisor"
	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

// Command is a single slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // 0 uses the router default
	Handle      HandlerFunc
}

// Request is what a handler sees for one incoming command.
type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	IsGroup bool
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Adapter kit.Adapter
}

// Reply sends HTML text back to the originating chat.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = max(2, runtime.NumCPU())
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return c
}

// Router maps incoming messages to commands and runs them on a bounded
// worker pool.
type Router struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter

	mu     sync.RWMutex
	byName map[string]*Command
	list   []*Command
	admins []int64

	jobs chan func()
}

func New(adapter kit.Adapter, cfg Config, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Router{
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		byName:  map[string]*Command{},
		jobs:    make(chan func(), cfg.QueueSize),
	}
}

// SetAdmins replaces the user IDs allowed to run admin-only commands.
func (r *Router) SetAdmins(ids []int64) {
	cp := slices.Clone(ids)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.admins, id)
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.list))
	for _, c := range r.list {
		out = append(out, *c)
	}
	return out
}

// Register replaces the command set and publishes the platform menu when
// the adapter supports it.
func (r *Router) Register(ctx context.Context, cmds []Command) {
	byName := map[string]*Command{}
	list := make([]*Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		list = append(list, &cc)
		byName[name] = &cc
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = &cc
				}
			}
		}
	}

	r.mu.Lock()
	r.byName = byName
	r.list = list
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok && ctx != nil {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(mctx, menuCommands(list)); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}
}

// Run dispatches updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := range r.cfg.Workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(i, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.route(sup.Context(), up.Message)
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	cmd := r.byName[word]
	r.mu.RUnlock()
	if cmd == nil {
		// Groups see every slash command; only answer unknown ones in private.
		if !msg.IsGroup {
			_, _ = r.adapter.SendText(ctx, to, "Unknown command. Try /help", nil)
		}
		return
	}
	if cmd.Access == AccessAdminOnly && !r.isAdmin(msg.FromID) {
		_, _ = r.adapter.SendText(ctx, to, "unauthorized", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Chat:    to,
		FromID:  msg.FromID,
		IsGroup: msg.IsGroup,
		Command: cmd.Name,
		Args:    parts[1:],
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.ChatID(msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
		MWReplyOnError(),
	)

	select {
	case r.jobs <- func() { _ = h(ctx, req) }:
	default:
		_, _ = r.adapter.SendText(ctx, to, "busy, try again", nil)
	}
}
