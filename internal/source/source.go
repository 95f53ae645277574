// Package source defines the upstream fetch contract and its classified errors.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client fetches posts for a single account handle.
type Client interface {
	// FetchLatest returns the account's single most recent post.
	FetchLatest(ctx context.Context, handle string) ([]Post, error)
	// FetchSince returns posts newer than sinceID, in any order.
	FetchSince(ctx context.Context, handle string, sinceID int64) ([]Post, error)
	// LookupAccount resolves a handle to its profile.
	LookupAccount(ctx context.Context, handle string) (Profile, error)
}

// Post is an upstream post before normalization.
type Post struct {
	ID        int64
	Text      string // raw text, may contain HTML entities
	CreatedAt time.Time
	Links     []Link
	MediaURL  string // explicit attached media, if any
}

// Link is a shortened link recorded in Post.Text by rune span [Start, End).
type Link struct {
	Expanded string
	Start    int
	End      int
}

type Profile struct {
	Handle    string
	Name      string
	Protected bool
}

// Kind classifies fetch failures.
type Kind int

const (
	KindOther Kind = iota
	KindRateLimited
	KindForbidden
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "other"
	}
}

// Error is returned by Client implementations for upstream failures.
type Error struct {
	Kind   Kind
	Status int // HTTP status when known
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("source %s (http %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err; unclassified errors are KindOther.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}

// KindForStatus maps an HTTP status to a failure kind.
func KindForStatus(status int) Kind {
	switch status {
	case 429:
		return KindRateLimited
	case 401, 403:
		return KindForbidden
	case 404:
		return KindNotFound
	default:
		return KindOther
	}
}

// Config selects and configures a Client.
type Config struct {
	Provider    string // "twitter" (default) or "nitter"
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
	UserAgent   string
}
