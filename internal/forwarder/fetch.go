package forwarder

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"tweetfwd/internal/source"
	"tweetfwd/internal/storage"
)

type fetchResult struct {
	account storage.Account
	started bool
	posts   []source.Post
	err     error
}

// fetchAll fetches accounts in order with at most FetchWorkers in flight.
// After a rate-limit response no further fetch is started. Results keep
// the input order.
func (j *Job) fetchAll(ctx context.Context, cfg Config, accounts []storage.Account) []fetchResult {
	results := make([]fetchResult, len(accounts))
	for i, a := range accounts {
		results[i].account = a
	}

	var halted atomic.Bool
	var g errgroup.Group
	g.SetLimit(cfg.FetchWorkers)
	for i := range accounts {
		if halted.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if halted.Load() || ctx.Err() != nil {
				return nil
			}
			r := &results[i]
			r.started = true
			r.posts, r.err = j.fetchOne(ctx, cfg, r.account)
			if source.KindOf(r.err) == source.KindRateLimited {
				halted.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (j *Job) fetchOne(ctx context.Context, cfg Config, a storage.Account) ([]source.Post, error) {
	if cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.FetchTimeout)
		defer cancel()
	}
	if a.LastPostID == 0 {
		return j.src.FetchLatest(ctx, a.Handle)
	}
	return j.src.FetchSince(ctx, a.Handle, a.LastPostID)
}
