package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPhoto sends an image by URL with an optional caption.
	SendPhoto(ctx context.Context, to ChatTarget, photoURL, caption string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is a single entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// FailureKind classifies a send failure by what it says about the destination.
type FailureKind int

const (
	FailureOther FailureKind = iota
	// FailureChatGone: the chat no longer exists under this id
	// (deleted, or a group migrated to a supergroup).
	FailureChatGone
	// FailureUnauthorized: the bot was removed, blocked or lost access.
	FailureUnauthorized
)

func (k FailureKind) String() string {
	switch k {
	case FailureChatGone:
		return "chat_gone"
	case FailureUnauthorized:
		return "unauthorized"
	default:
		return "other"
	}
}

// SendError wraps an adapter error with its classification.
type SendError struct {
	Kind FailureKind
	Err  error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return "send failed: " + e.Kind.String()
	}
	return e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// FailureOf returns the classification carried by err, or FailureOther.
func FailureOf(err error) FailureKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureOther
}

// Unreachable reports whether err means the chat can no longer be reached.
func Unreachable(err error) bool {
	k := FailureOf(err)
	return k == FailureChatGone || k == FailureUnauthorized
}
