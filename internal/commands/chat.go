package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tweetfwd/internal/storage"
	"tweetfwd/internal/transport/telegram/router"
	"tweetfwd/pkg/tgui"
)

func (h *Handlers) cmdStart(ctx context.Context, req *router.Request) error {
	if _, err := h.store.EnsureChat(ctx, req.Chat.ChatID); err != nil {
		return err
	}
	b := tgui.New().
		Title("👋", "Hello!").
		Line("I forward new posts from the accounts this chat subscribes to.").
		Line("Start with /sub followed by one or more handles, e.g. /sub golang").
		Blank()
	h.appendHelp(b)
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handlers) cmdHelp(ctx context.Context, req *router.Request) error {
	b := tgui.New().Title("", "Commands")
	h.appendHelp(b)
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handlers) appendHelp(b *tgui.Builder) {
	cmds := h.Commands()
	if h.help != nil {
		cmds = h.help()
	}
	for _, c := range cmds {
		if c.Access == router.AccessAdminOnly {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.RawLine(tgui.JoinH(" ", tgui.Code(usage), tgui.Esc(c.Description)))
	}
}

func (h *Handlers) cmdList(ctx context.Context, req *router.Request) error {
	subs, err := h.store.SubscriptionsOf(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return req.Reply(ctx, "You have no subscriptions. Use /sub to add some.")
	}
	b := tgui.New().Title("", fmt.Sprintf("Subscriptions (%d)", len(subs)))
	for _, s := range subs {
		b.RawLine(tgui.JoinH(" ", tgui.Esc("•"), tgui.Link("@"+s.Handle, "https://twitter.com/"+s.Handle)))
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handlers) cmdExport(ctx context.Context, req *router.Request) error {
	subs, err := h.store.SubscriptionsOf(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return req.Reply(ctx, "You have no subscriptions to export.")
	}
	handles := make([]string, 0, len(subs))
	for _, s := range subs {
		handles = append(handles, s.Handle)
	}
	b := tgui.New().
		Line("Send this in any chat to copy these subscriptions:").
		Code("/sub " + strings.Join(handles, " "))
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// cmdAll shows the newest stored post of each subscription.
func (h *Handlers) cmdAll(ctx context.Context, req *router.Request) error {
	subs, err := h.store.SubscriptionsOf(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return req.Reply(ctx, "You have no subscriptions. Use /sub to add some.")
	}
	loc := chatLocation(subs[0].ChatTimezone)

	b := tgui.New()
	for i, s := range subs {
		p, err := h.store.LatestPost(ctx, s.AccountID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			b.RawLine(tgui.JoinH("\n", tgui.B("@"+s.Handle), tgui.I("no posts yet")))
		case err != nil:
			return err
		default:
			b.RawLine(tgui.PostCard(s.Handle, p.ID, p.Text, p.CreatedAt, loc))
		}
		if i < len(subs)-1 {
			b.Split()
		}
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handlers) cmdWipe(ctx context.Context, req *router.Request) error {
	err := h.store.DeleteChat(ctx, req.Chat.ChatID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if _, err := h.store.DeleteOrphanAccounts(ctx); err != nil {
		return err
	}
	return req.Reply(ctx, "All data about this chat has been removed. Use /start to begin again.")
}

func (h *Handlers) cmdTimezone(ctx context.Context, req *router.Request) error {
	chat, err := h.store.EnsureChat(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(req.Args) == 0 {
		tz := chat.Timezone
		if tz == "" {
			tz = "UTC"
		}
		return req.Reply(ctx, tgui.JoinH(" ", tgui.Esc("Current timezone:"), tgui.Code(tz),
			tgui.Esc("\nChange it with /timezone <Area/City>, e.g. /timezone Europe/Berlin")).String())
	}

	name := strings.TrimSpace(req.Args[0])
	loc, err := time.LoadLocation(name)
	if err != nil || name == "" || strings.EqualFold(name, "local") {
		return router.Userf("Unknown timezone %q. Use a name like Europe/Berlin or UTC.", name)
	}
	if err := h.store.SetChatTimezone(ctx, req.Chat.ChatID, loc.String()); err != nil {
		return err
	}
	now := time.Now().In(loc).Format("15:04 MST")
	return req.Reply(ctx, tgui.JoinH(" ", tgui.Esc("Timezone set to"), tgui.Code(loc.String()), tgui.Esc("(now "+now+")")).String())
}

func (h *Handlers) cmdStats(ctx context.Context, req *router.Request) error {
	st, err := h.store.Stats(ctx)
	if err != nil {
		return err
	}
	b := tgui.New().Title("📊", "Forwarder").
		KV("tracked accounts", fmt.Sprint(st.TrackedAccounts)).
		KV("accounts", fmt.Sprint(st.Accounts)).
		KV("posts", fmt.Sprint(st.Posts)).
		KV("chats", fmt.Sprint(st.Chats)).
		KV("pending chats", fmt.Sprint(st.PendingChats)).
		KV("subscriptions", fmt.Sprint(st.Subscribers))
	if h.status != nil {
		next, every, running := h.status()
		b.Blank().Title("⏱", "Scheduler").KV("interval", every.String()).KV("running", fmt.Sprint(running))
		if !next.IsZero() {
			b.KV("next run", next.UTC().Format(time.RFC3339))
		}
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// chatLocation resolves a stored timezone, falling back to UTC.
func chatLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
