package forwarder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"tweetfwd/internal/delivery"
	"tweetfwd/internal/storage"
	logx "tweetfwd/pkg/logx"
)

// fanOut delivers new posts of the updated accounts to their subscribers.
// Each subscriber is served by one goroutine, so its posts go out in order.
// Cursors advance even when a send fails: delivery is at most once.
func (j *Job) fanOut(ctx context.Context, cfg Config, updated []storage.Account, rep *CycleReport) error {
	var (
		delivered, failed atomic.Int64
		gone              sync.Map // chat id -> struct{}, chats marked during this pass
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.DeliveryWorkers)

	for _, acct := range updated {
		subs, err := j.store.SubscribersOf(gctx, acct.ID)
		if err != nil {
			_ = g.Wait()
			return err
		}
		for _, sub := range subs {
			if sub.ChatPendingDeletion {
				continue
			}
			g.Go(func() error {
				ok, bad, err := j.serveSubscriber(gctx, acct, sub, &gone)
				delivered.Add(int64(ok))
				failed.Add(int64(bad))
				return err
			})
		}
	}
	err := g.Wait()
	rep.Delivered += int(delivered.Load())
	rep.DeliveryFailed += int(failed.Load())
	return err
}

// serveSubscriber returns counts of sent and failed posts. Only storage
// errors are returned.
func (j *Job) serveSubscriber(ctx context.Context, acct storage.Account, sub storage.Subscriber, gone *sync.Map) (ok, bad int, err error) {
	log := j.log.With(logx.Handle(acct.Handle), logx.ChatID(sub.ChatID))

	var posts []storage.Post
	cursor := acct.LastPostID
	switch {
	case sub.LastDeliveredPostID == 0:
		p, err := j.store.LatestPost(ctx, acct.ID)
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("no stored posts for new subscriber")
			return 0, 0, nil
		}
		if err != nil {
			return 0, 0, err
		}
		posts = []storage.Post{p}
		cursor = p.ID
	case acct.LastPostID > sub.LastDeliveredPostID:
		posts, err = j.store.PostsAfter(ctx, acct.ID, sub.LastDeliveredPostID)
		if err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, nil
	}

	chat := storage.Chat{ID: sub.ChatID, Timezone: sub.ChatTimezone}
	for _, p := range posts {
		if _, marked := gone.Load(sub.ChatID); marked {
			break
		}
		derr := j.dl.Deliver(ctx, chat, acct.Handle, p)
		if derr == nil {
			ok++
			continue
		}
		bad++
		if ctx.Err() != nil {
			break
		}
		if delivery.Unreachable(derr) {
			log.Warn("chat unreachable, scheduling removal", logx.Err(derr), logx.String("kind", delivery.KindOf(derr).String()))
			if _, loaded := gone.LoadOrStore(sub.ChatID, struct{}{}); !loaded {
				if err := j.store.MarkChatPendingDeletion(ctx, sub.ChatID); err != nil && !errors.Is(err, storage.ErrNotFound) {
					return ok, bad, err
				}
			}
			break
		}
		log.Error("delivery failed", logx.Int64("post_id", p.ID), logx.Err(derr))
	}

	if err := j.store.SetDeliveredCursor(context.WithoutCancel(ctx), sub.ChatID, acct.ID, cursor); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return ok, bad, err
	}
	return ok, bad, nil
}
