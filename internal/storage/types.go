package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values: "sqlite" (default), "postgres", "memory".
type Config struct {
	Driver      string
	Path        string        // sqlite file, or memory snapshot file (optional)
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Account is a tracked upstream profile.
type Account struct {
	ID     int64
	Handle string
	// LastFetchedAt is zero until the first successful fetch.
	LastFetchedAt time.Time
	// LastPostID is the newest stored post ID for this account, 0 if none.
	LastPostID int64
	CreatedAt  time.Time
}

// Post is immutable once stored; ID is the upstream post ID.
type Post struct {
	ID        int64
	AccountID int64
	Text      string
	CreatedAt time.Time
	MediaURL  string
}

// Chat is a delivery destination.
type Chat struct {
	ID              int64
	PendingDeletion bool
	Timezone        string
	CreatedAt       time.Time
}

// Subscriber pairs a chat with an account and carries its own delivery cursor.
//
// Handle and the Chat* fields are read-only projections filled by queries.
type Subscriber struct {
	ChatID              int64
	AccountID           int64
	LastDeliveredPostID int64
	CreatedAt           time.Time

	Handle              string
	ChatPendingDeletion bool
	ChatTimezone        string
}

// Stats is a cheap row-count summary for status pages.
type Stats struct {
	Accounts        int `json:"accounts"`
	TrackedAccounts int `json:"tracked_accounts"`
	Posts           int `json:"posts"`
	Chats           int `json:"chats"`
	PendingChats    int `json:"pending_chats"`
	Subscribers     int `json:"subscribers"`
}
