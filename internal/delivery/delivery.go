// Package delivery sends stored posts and service notices to chats.
//
// Every failure is classified by KindOf so callers can tell an unreachable
// chat apart from a transient send error. Nothing is retried.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tweetfwd/internal/storage"
	kit "tweetfwd/internal/transport"
	logx "tweetfwd/pkg/logx"
	"tweetfwd/pkg/tgui"
)

// Deliverer is the delivery contract consumed by the forwarder.
type Deliverer interface {
	// Deliver renders and sends one post on behalf of handle.
	Deliver(ctx context.Context, chat storage.Chat, handle string, p storage.Post) error
	// Notify sends a plain-text service notice.
	Notify(ctx context.Context, chatID int64, text string) error
}

type Kind int

const (
	KindOther Kind = iota
	KindChatGone
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindChatGone:
		return "chat_gone"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "other"
	}
}

// KindOf classifies a delivery error.
func KindOf(err error) Kind {
	switch kit.FailureOf(err) {
	case kit.FailureChatGone:
		return KindChatGone
	case kit.FailureUnauthorized:
		return KindUnauthorized
	default:
		return KindOther
	}
}

// Unreachable reports whether err means the chat should be scheduled for removal.
func Unreachable(err error) bool {
	k := KindOf(err)
	return k == KindChatGone || k == KindUnauthorized
}

var ErrNoAdapter = errors.New("delivery: no adapter")

type Config struct {
	// RatePerSec bounds sends across all chats. Default 25.
	RatePerSec float64
	// SendTimeout bounds a single Bot API call. Default 10s.
	SendTimeout time.Duration
}

// Telegram delivers through a transport adapter.
type Telegram struct {
	log logx.Logger

	mu      sync.Mutex
	ad      kit.Adapter
	limiter *rate.Limiter
	timeout time.Duration

	locMu sync.Mutex
	locs  map[string]*time.Location
}

var _ Deliverer = (*Telegram)(nil)

func NewTelegram(ad kit.Adapter, cfg Config, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Telegram{ad: ad, log: log, locs: map[string]*time.Location{}}
	t.Apply(cfg)
	return t
}

// Apply swaps rate and timeout settings in place.
func (t *Telegram) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	t.mu.Lock()
	if t.limiter == nil {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	} else {
		t.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		t.limiter.SetBurst(burst)
	}
	t.timeout = cfg.SendTimeout
	t.mu.Unlock()
}

func (t *Telegram) snapshot() (kit.Adapter, *rate.Limiter, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ad, t.limiter, t.timeout
}

func (t *Telegram) Deliver(ctx context.Context, chat storage.Chat, handle string, p storage.Post) error {
	card := tgui.PostCard(handle, p.ID, p.Text, p.CreatedAt, t.location(chat.Timezone)).String()
	to := kit.ChatTarget{ChatID: chat.ID}

	if p.MediaURL != "" {
		caption := card
		if tgui.RuneLen(caption) > tgui.CaptionLimit {
			caption = ""
		}
		err := t.send(ctx, func(c context.Context, ad kit.Adapter) error {
			_, err := ad.SendPhoto(c, to, p.MediaURL, caption, &kit.SendOptions{ParseMode: "HTML"})
			return err
		})
		switch {
		case err == nil && caption != "":
			return nil
		case err != nil && (Unreachable(err) || ctx.Err() != nil):
			return err
		case err != nil:
			t.log.Debug("photo send failed, falling back to text",
				logx.ChatID(chat.ID), logx.Int64("post_id", p.ID), logx.Err(err))
		}
	}

	return t.send(ctx, func(c context.Context, ad kit.Adapter) error {
		_, err := ad.SendText(c, to, card, &kit.SendOptions{ParseMode: "HTML", DisablePreview: p.MediaURL == ""})
		return err
	})
}

func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) error {
	return t.send(ctx, func(c context.Context, ad kit.Adapter) error {
		_, err := ad.SendText(c, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	})
}

func (t *Telegram) send(ctx context.Context, fn func(context.Context, kit.Adapter) error) error {
	ad, lim, timeout := t.snapshot()
	if ad == nil {
		return ErrNoAdapter
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx, ad)
}

// location resolves an IANA zone name, falling back to UTC.
func (t *Telegram) location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	t.locMu.Lock()
	defer t.locMu.Unlock()
	if loc, ok := t.locs[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.log.Debug("unknown chat timezone", logx.String("tz", name), logx.Err(err))
		loc = time.UTC
	}
	t.locs[name] = loc
	return loc
}
