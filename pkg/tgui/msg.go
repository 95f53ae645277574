package tgui

import (
	"context"
	"strings"

	kit "tweetfwd/internal/transport"
)

// Message is rendered text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions

	// More are follow-up messages sent after Text with the same options.
	More []string
}

// Send delivers the message and any follow-ups through the adapter.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	ref, err := ad.SendText(ctx, to, m.Text, m.Opt)
	if err != nil {
		return ref, err
	}
	for _, t := range m.More {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, err := ad.SendText(ctx, to, t, m.Opt); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

// Builder assembles a reply line by line.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	disablePreview bool
	lines          []string
	more           []string
}

func New() *Builder {
	return &Builder{disablePreview: true}
}

func (b *Builder) DisablePreview(v bool) *Builder {
	b.disablePreview = v
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
	} else {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Line adds an escaped line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// RawLine appends already-safe HTML.
func (b *Builder) RawLine(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// KV adds a "• key: value" row with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

// Code adds an inline code line.
func (b *Builder) Code(s string) *Builder {
	if s = strings.TrimSpace(s); s != "" {
		b.lines = append(b.lines, Code(s).String())
	}
	return b
}

// Split starts a follow-up message; lines added so far form the current one.
func (b *Builder) Split() *Builder {
	if len(b.lines) == 0 {
		return b
	}
	b.more = append(b.more, strings.Trim(strings.Join(b.lines, "\n"), "\n"))
	b.lines = b.lines[:0]
	return b
}

func (b *Builder) Build() Message {
	parts := append([]string(nil), b.more...)
	if len(b.lines) > 0 {
		parts = append(parts, strings.Trim(strings.Join(b.lines, "\n"), "\n"))
	}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: b.disablePreview}
	if len(parts) == 0 {
		return Message{Opt: opt}
	}
	return Message{Text: parts[0], Opt: opt, More: parts[1:]}
}
