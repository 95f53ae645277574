// Package forwarder runs the fetch, dedupe and dispatch cycle: it polls
// tracked accounts, stores unseen posts, fans them out to subscribers and
// cleans up accounts and chats that can no longer be served.
package forwarder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tweetfwd/internal/delivery"
	"tweetfwd/internal/eventbus"
	"tweetfwd/internal/source"
	"tweetfwd/internal/storage"
	logx "tweetfwd/pkg/logx"
)

var ErrCycleRunning = errors.New("forwarder: cycle already running")

// Store is the persistence the job needs.
type Store interface {
	CountTrackedAccounts(ctx context.Context) (int, error)
	TrackedAccounts(ctx context.Context) ([]storage.Account, error)
	TouchAccounts(ctx context.Context, ids []int64, at time.Time) error
	RefreshLastPostIDs(ctx context.Context, ids []int64) (map[int64]int64, error)
	DeleteAccount(ctx context.Context, id int64) error

	PostExists(ctx context.Context, id int64) (bool, error)
	InsertPosts(ctx context.Context, posts []storage.Post) (int, error)
	LatestPost(ctx context.Context, accountID int64) (storage.Post, error)
	PostsAfter(ctx context.Context, accountID, afterID int64) ([]storage.Post, error)

	SubscribersOf(ctx context.Context, accountID int64) ([]storage.Subscriber, error)
	Unsubscribe(ctx context.Context, chatID, accountID int64) (bool, error)
	SetDeliveredCursor(ctx context.Context, chatID, accountID, postID int64) error

	MarkChatPendingDeletion(ctx context.Context, chatID int64) error
	PendingDeletionChats(ctx context.Context) ([]storage.Chat, error)
	DeleteChat(ctx context.Context, chatID int64) error
}

type Config struct {
	Limits Limits
	// FetchWorkers bounds concurrent fetches. 1 means sequential.
	FetchWorkers int
	// DeliveryWorkers bounds concurrently served subscribers.
	DeliveryWorkers int
	// InsertBatch is the number of posts buffered before a flush.
	InsertBatch int
	// FetchTimeout bounds a single account fetch; 0 disables.
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	c.Limits = c.Limits.withDefaults()
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 1
	}
	if c.DeliveryWorkers <= 0 {
		c.DeliveryWorkers = 4
	}
	if c.InsertBatch <= 0 {
		c.InsertBatch = 100
	}
	return c
}

// CycleReport summarizes one run. Duplicates counts fetched posts that were
// not stored: already known, or their account was deleted mid-cycle.
type CycleReport struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Tracked         int           `json:"tracked"`
	Fetched         int           `json:"fetched"`
	FetchFailed     int           `json:"fetch_failed"`
	RateLimited     bool          `json:"rate_limited"`
	NotStarted      int           `json:"not_started"`
	NewPosts        int           `json:"new_posts"`
	Duplicates      int           `json:"duplicates"`
	Delivered       int           `json:"delivered"`
	DeliveryFailed  int           `json:"delivery_failed"`
	AccountsRemoved int           `json:"accounts_removed"`
	ChatsRemoved    int           `json:"chats_removed"`
	Err             string        `json:"error,omitempty"`
}

type Option func(*Job)

func WithBus(b eventbus.Bus) Option { return func(j *Job) { j.bus = b } }

func WithClock(now func() time.Time) Option { return func(j *Job) { j.now = now } }

// Job is one forwarder instance. RunCycle is not reentrant.
type Job struct {
	store Store
	src   source.Client
	dl    delivery.Deliverer
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu  sync.RWMutex
	cfg Config

	running atomic.Bool
}

func New(store Store, src source.Client, dl delivery.Deliverer, cfg Config, log logx.Logger, opts ...Option) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	j := &Job{
		store: store,
		src:   src,
		dl:    dl,
		log:   log,
		now:   time.Now,
		cfg:   cfg.withDefaults(),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Apply replaces tuning; it takes effect from the next cycle.
func (j *Job) Apply(cfg Config) {
	j.mu.Lock()
	j.cfg = cfg.withDefaults()
	j.mu.Unlock()
}

func (j *Job) config() Config {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cfg
}

// NextInterval computes the delay before the next cycle from the current
// number of tracked accounts. On storage errors it falls back to the full
// window.
func (j *Job) NextInterval(ctx context.Context) time.Duration {
	cfg := j.config()
	n, err := j.store.CountTrackedAccounts(ctx)
	if err != nil {
		j.log.Warn("count tracked accounts failed", logx.Err(err))
		return cfg.Limits.Window
	}
	return Interval(n, cfg.Limits)
}

// RunCycle performs one fetch, ingest, fan-out and cleanup pass.
func (j *Job) RunCycle(ctx context.Context) (rep CycleReport, err error) {
	if !j.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleRunning
	}
	defer j.running.Store(false)

	cfg := j.config()
	rep.StartedAt = j.now()
	defer func() {
		rep.Duration = j.now().Sub(rep.StartedAt)
		if err != nil {
			rep.Err = err.Error()
		}
		j.publish(eventbus.TypeCycle, rep)
	}()

	accounts, err := j.store.TrackedAccounts(ctx)
	if err != nil {
		return rep, err
	}
	rep.Tracked = len(accounts)
	j.log.Debug("cycle started", logx.Int("tracked", len(accounts)))

	results := j.fetchAll(ctx, cfg, accounts)
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	var (
		updated []storage.Account
		marks   []removal
	)
	for _, r := range results {
		if !r.started {
			rep.NotStarted++
			continue
		}
		log := j.log.With(logx.Handle(r.account.Handle))
		if r.err == nil {
			rep.Fetched++
			updated = append(updated, r.account)
			continue
		}
		rep.FetchFailed++
		switch source.KindOf(r.err) {
		case source.KindRateLimited:
			rep.RateLimited = true
			log.Warn("rate limited, no further fetches this cycle", logx.Err(r.err))
		case source.KindForbidden:
			log.Warn("account is protected, scheduling removal", logx.Err(r.err))
			marks = append(marks, removal{account: r.account, reason: reasonProtected})
		case source.KindNotFound:
			log.Warn("account not found, scheduling removal", logx.Err(r.err))
			marks = append(marks, removal{account: r.account, reason: reasonNotFound})
		default:
			log.Error("fetch failed", logx.Err(r.err))
		}
	}

	if err := j.ingest(ctx, cfg, results, &rep); err != nil {
		return rep, err
	}

	if len(updated) > 0 {
		ids := make([]int64, len(updated))
		for i, a := range updated {
			ids[i] = a.ID
		}
		if err := j.store.TouchAccounts(ctx, ids, j.now()); err != nil {
			return rep, err
		}
		cursors, err := j.store.RefreshLastPostIDs(ctx, ids)
		if err != nil {
			return rep, err
		}
		for i := range updated {
			updated[i].LastPostID = cursors[updated[i].ID]
		}
		if err := j.fanOut(ctx, cfg, updated, &rep); err != nil {
			return rep, err
		}
	} else if len(accounts) > 0 {
		j.log.Info("no account fetched successfully, skipping delivery")
	}

	if err := j.cleanup(ctx, marks, &rep); err != nil {
		return rep, err
	}

	j.log.Info("cycle finished",
		logx.Int("tracked", rep.Tracked),
		logx.Int("fetched", rep.Fetched),
		logx.Int("new_posts", rep.NewPosts),
		logx.Int("delivered", rep.Delivered),
		logx.Bool("rate_limited", rep.RateLimited),
	)
	return rep, nil
}

// ingest normalizes fetched posts and stores the unseen ones, in account
// order, flushing every InsertBatch posts.
func (j *Job) ingest(ctx context.Context, cfg Config, results []fetchResult, rep *CycleReport) error {
	seen := map[int64]struct{}{}
	batch := make([]storage.Post, 0, cfg.InsertBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := j.store.InsertPosts(ctx, batch)
		if err != nil {
			return err
		}
		rep.NewPosts += n
		rep.Duplicates += len(batch) - n
		batch = batch[:0]
		return nil
	}

	for _, r := range results {
		if !r.started || r.err != nil {
			continue
		}
		for _, p := range r.posts {
			if _, dup := seen[p.ID]; dup {
				rep.Duplicates++
				j.log.Warn("duplicate post in cycle", logx.Handle(r.account.Handle), logx.Int64("post_id", p.ID))
				continue
			}
			seen[p.ID] = struct{}{}

			exists, err := j.store.PostExists(ctx, p.ID)
			if err != nil {
				return err
			}
			if exists {
				rep.Duplicates++
				j.log.Warn("post already stored", logx.Handle(r.account.Handle), logx.Int64("post_id", p.ID))
				continue
			}

			n := normalize(p)
			if n.SkippedLinks > 0 {
				j.log.Debug("skipped invalid link spans", logx.Int64("post_id", p.ID), logx.Int("count", n.SkippedLinks))
			}
			batch = append(batch, storage.Post{
				ID:        p.ID,
				AccountID: r.account.ID,
				Text:      n.Text,
				CreatedAt: p.CreatedAt,
				MediaURL:  n.MediaURL,
			})
			if len(batch) >= cfg.InsertBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

func (j *Job) publish(typ string, data any) {
	if j.bus == nil {
		return
	}
	j.bus.Publish(eventbus.Event{Type: typ, Time: j.now(), Data: data})
}
