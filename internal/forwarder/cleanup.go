package forwarder

import (
	"context"
	"fmt"

	"tweetfwd/internal/delivery"
	"tweetfwd/internal/eventbus"
	"tweetfwd/internal/storage"
	logx "tweetfwd/pkg/logx"
)

type removalReason int

const (
	reasonNotFound removalReason = iota
	reasonProtected
)

func (r removalReason) String() string {
	if r == reasonProtected {
		return "protected"
	}
	return "not_found"
}

func (r removalReason) notice(handle string) string {
	switch r {
	case reasonProtected:
		return fmt.Sprintf("Your subscription to @%s was removed because that profile is protected and can't be fetched.", handle)
	default:
		return fmt.Sprintf("Your subscription to @%s was removed because that profile doesn't exist anymore. Maybe the account's name changed?", handle)
	}
}

type removal struct {
	account storage.Account
	reason  removalReason
}

// AccountRemoved is published for every account dropped by cleanup.
type AccountRemoved struct {
	Handle   string `json:"handle"`
	Reason   string `json:"reason"`
	Notified int    `json:"notified"`
}

// ChatRemoved is published for every swept chat.
type ChatRemoved struct {
	ChatID int64 `json:"chat_id"`
}

// cleanup removes the accounts marked this cycle, telling each reachable
// subscriber why, then sweeps chats pending deletion.
func (j *Job) cleanup(ctx context.Context, marks []removal, rep *CycleReport) error {
	for _, m := range marks {
		n, err := j.removeAccount(ctx, m)
		if err != nil {
			return err
		}
		rep.AccountsRemoved++
		j.publish(eventbus.TypeAccountRemoved, AccountRemoved{Handle: m.account.Handle, Reason: m.reason.String(), Notified: n})
	}

	chats, err := j.store.PendingDeletionChats(ctx)
	if err != nil {
		return err
	}
	for _, c := range chats {
		if err := j.store.DeleteChat(ctx, c.ID); err != nil {
			return err
		}
		rep.ChatsRemoved++
		j.log.Info("chat removed", logx.ChatID(c.ID))
		j.publish(eventbus.TypeChatRemoved, ChatRemoved{ChatID: c.ID})
	}
	return nil
}

func (j *Job) removeAccount(ctx context.Context, m removal) (notified int, err error) {
	a := m.account
	log := j.log.With(logx.Handle(a.Handle), logx.String("reason", m.reason.String()))

	subs, err := j.store.SubscribersOf(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	text := m.reason.notice(a.Handle)
	for _, sub := range subs {
		if sub.ChatPendingDeletion {
			continue
		}
		if _, err := j.store.Unsubscribe(ctx, sub.ChatID, a.ID); err != nil {
			return notified, err
		}
		nerr := j.dl.Notify(ctx, sub.ChatID, text)
		switch {
		case nerr == nil:
			notified++
		case delivery.Unreachable(nerr):
			log.Warn("chat unreachable while notifying, scheduling removal", logx.ChatID(sub.ChatID), logx.Err(nerr))
			if err := j.store.MarkChatPendingDeletion(ctx, sub.ChatID); err != nil {
				return notified, err
			}
		default:
			log.Error("removal notice failed", logx.ChatID(sub.ChatID), logx.Err(nerr))
		}
	}

	if err := j.store.DeleteAccount(ctx, a.ID); err != nil {
		return notified, err
	}
	log.Info("account removed", logx.Int("subscribers", len(subs)), logx.Int("notified", notified))
	return notified, nil
}
