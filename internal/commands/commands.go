// Package commands implements the chat command surface: subscribing to
// accounts, listing and exporting subscriptions, and per-chat settings.
package commands

import (
	"context"
	"time"

	"tweetfwd/internal/source"
	"tweetfwd/internal/storage"
	"tweetfwd/internal/transport/telegram/router"
	logx "tweetfwd/pkg/logx"
)

// Store is the persistence subset used by the command handlers.
type Store interface {
	EnsureAccount(ctx context.Context, handle string) (storage.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (storage.Account, error)
	DeleteOrphanAccounts(ctx context.Context) (int, error)
	LatestPost(ctx context.Context, accountID int64) (storage.Post, error)

	EnsureChat(ctx context.Context, chatID int64) (storage.Chat, error)
	GetChat(ctx context.Context, chatID int64) (storage.Chat, error)
	SetChatTimezone(ctx context.Context, chatID int64, tz string) error
	DeleteChat(ctx context.Context, chatID int64) error

	Subscribe(ctx context.Context, chatID, accountID int64) (bool, error)
	Unsubscribe(ctx context.Context, chatID, accountID int64) (bool, error)
	SubscriptionsOf(ctx context.Context, chatID int64) ([]storage.Subscriber, error)

	Stats(ctx context.Context) (storage.Stats, error)
}

// StatusFunc reports scheduler state for /stats; nil hides that section.
type StatusFunc func() (next time.Time, interval time.Duration, running bool)

// maxHandlesPerCommand caps /sub and /unsub argument lists.
const maxHandlesPerCommand = 50

type Handlers struct {
	store  Store
	source source.Client
	log    logx.Logger
	status StatusFunc
	help   func() []router.Command
}

type Option func(*Handlers)

// WithStatus enables the scheduler section of /stats.
func WithStatus(fn StatusFunc) Option { return func(h *Handlers) { h.status = fn } }

// WithHelp sets the command list rendered by /help and /start.
func WithHelp(fn func() []router.Command) Option { return func(h *Handlers) { h.help = fn } }

func New(store Store, src source.Client, log logx.Logger, opts ...Option) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handlers{store: store, source: src, log: log.With(logx.String("comp", "commands"))}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Commands returns the command table in menu order.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "introduction", Handle: h.cmdStart},
		{Name: "help", Description: "list commands", Usage: "/help", Handle: h.cmdHelp},
		{Name: "sub", Description: "subscribe to accounts", Usage: "/sub <handle> [handle...]", Timeout: 2 * time.Minute, Handle: h.cmdSub},
		{Name: "unsub", Description: "unsubscribe from accounts", Usage: "/unsub <handle> [handle...]", Handle: h.cmdUnsub},
		{Name: "list", Description: "show subscriptions", Handle: h.cmdList},
		{Name: "export", Description: "export subscriptions as a /sub command", Handle: h.cmdExport},
		{Name: "all", Description: "latest post of every subscription", Handle: h.cmdAll},
		{Name: "wipe", Description: "forget this chat and its subscriptions", Handle: h.cmdWipe},
		{Name: "timezone", Aliases: []string{"set_timezone"}, Description: "set the timezone for post times", Usage: "/timezone <Area/City>", Handle: h.cmdTimezone},
		{Name: "stats", Description: "forwarder statistics", Access: router.AccessAdminOnly, Handle: h.cmdStats},
	}
}
