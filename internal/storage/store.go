package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "tweetfwd/pkg/logx"
)

// Store is the persistence API used by the forwarder, the command surface
// and the status API.
type Store interface {
	// Accounts.
	EnsureAccount(ctx context.Context, handle string) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (Account, error)
	// TrackedAccounts lists accounts with at least one subscriber, least
	// recently fetched first (never-fetched accounts lead; ties by ID).
	TrackedAccounts(ctx context.Context) ([]Account, error)
	CountTrackedAccounts(ctx context.Context) (int, error)
	TouchAccounts(ctx context.Context, ids []int64, at time.Time) error
	// RefreshLastPostIDs sets each account's LastPostID to its max stored
	// post ID and returns the resulting cursors. Accounts without posts keep
	// their cursor.
	RefreshLastPostIDs(ctx context.Context, ids []int64) (map[int64]int64, error)
	// DeleteAccount removes the account with its posts and subscribers.
	DeleteAccount(ctx context.Context, id int64) error
	// DeleteOrphanAccounts removes accounts without subscribers.
	DeleteOrphanAccounts(ctx context.Context) (int, error)

	// Posts.
	PostExists(ctx context.Context, id int64) (bool, error)
	// InsertPosts inserts posts, silently skipping IDs that already exist
	// and posts whose account has been deleted.
	InsertPosts(ctx context.Context, posts []Post) (inserted int, err error)
	LatestPost(ctx context.Context, accountID int64) (Post, error)
	// PostsAfter returns the account's posts with ID > afterID, oldest first.
	PostsAfter(ctx context.Context, accountID, afterID int64) ([]Post, error)

	// Chats.
	EnsureChat(ctx context.Context, chatID int64) (Chat, error)
	GetChat(ctx context.Context, chatID int64) (Chat, error)
	SetChatTimezone(ctx context.Context, chatID int64, tz string) error
	MarkChatPendingDeletion(ctx context.Context, chatID int64) error
	PendingDeletionChats(ctx context.Context) ([]Chat, error)
	// DeleteChat removes the chat with its subscribers.
	DeleteChat(ctx context.Context, chatID int64) error

	// Subscribers.
	Subscribe(ctx context.Context, chatID, accountID int64) (created bool, err error)
	Unsubscribe(ctx context.Context, chatID, accountID int64) (removed bool, err error)
	// SubscribersOf lists an account's subscribers ordered by chat ID.
	SubscribersOf(ctx context.Context, accountID int64) ([]Subscriber, error)
	// SubscriptionsOf lists a chat's subscriptions ordered by handle.
	SubscriptionsOf(ctx context.Context, chatID int64) ([]Subscriber, error)
	SetDeliveredCursor(ctx context.Context, chatID, accountID, postID int64) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "memory":
		return OpenMemory(cfg.Path, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

// NormalizeHandle canonicalizes an account handle ("@Foo " -> "foo").
func NormalizeHandle(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(h)
}
