package commands

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"

	"tweetfwd/internal/source"
	"tweetfwd/internal/storage"
	"tweetfwd/internal/transport/telegram/router"
	logx "tweetfwd/pkg/logx"
	"tweetfwd/pkg/tgui"
)

var handleRe = regexp.MustCompile(`^[a-z0-9_]{1,15}$`)

// parseHandles normalizes, validates and dedupes command arguments.
// Arguments may be separated by spaces or commas.
func parseHandles(args []string) (valid, invalid []string) {
	seen := map[string]bool{}
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			raw := strings.TrimSpace(part)
			if raw == "" {
				continue
			}
			h := storage.NormalizeHandle(raw)
			if !handleRe.MatchString(h) {
				invalid = append(invalid, raw)
				continue
			}
			if !seen[h] {
				seen[h] = true
				valid = append(valid, h)
			}
		}
	}
	return valid, invalid
}

type subOutcome int

const (
	subAdded subOutcome = iota
	subAlready
	subNotFound
	subProtected
	subFailed
)

func (h *Handlers) cmdSub(ctx context.Context, req *router.Request) error {
	handles, invalid := parseHandles(req.Args)
	if len(handles) == 0 && len(invalid) == 0 {
		return router.Userf("Usage: /sub <handle> [handle...]")
	}
	if len(handles) > maxHandlesPerCommand {
		return router.Userf("Too many accounts, at most %d per command.", maxHandlesPerCommand)
	}
	if _, err := h.store.EnsureChat(ctx, req.Chat.ChatID); err != nil {
		return err
	}

	groups := map[subOutcome][]string{}
	for _, handle := range handles {
		out, err := h.subscribeOne(ctx, req.Chat.ChatID, handle)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			req.Logger.Warn("subscribe failed", logx.Handle(handle), logx.Err(err))
		}
		groups[out] = append(groups[out], "@"+handle)
	}
	groups[subNotFound] = append(groups[subNotFound], invalid...)

	b := tgui.New()
	section := func(title string, items []string) {
		if len(items) > 0 {
			b.Title("", title).Bullets(items...).Blank()
		}
	}
	section("Subscribed", groups[subAdded])
	section("Already subscribed", groups[subAlready])
	section("Not found", groups[subNotFound])
	section("Protected (can't be fetched)", groups[subProtected])
	section("Failed, try again later", groups[subFailed])
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handlers) subscribeOne(ctx context.Context, chatID int64, handle string) (subOutcome, error) {
	acct, err := h.store.GetAccountByHandle(ctx, handle)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Unknown locally; check upstream before tracking it.
		p, lerr := h.source.LookupAccount(ctx, handle)
		if lerr != nil {
			switch source.KindOf(lerr) {
			case source.KindNotFound:
				return subNotFound, nil
			case source.KindForbidden:
				return subProtected, nil
			default:
				return subFailed, lerr
			}
		}
		if p.Protected {
			return subProtected, nil
		}
		if ph := storage.NormalizeHandle(p.Handle); ph != "" {
			handle = ph
		}
		acct, err = h.store.EnsureAccount(ctx, handle)
		if err != nil {
			return subFailed, err
		}
	case err != nil:
		return subFailed, err
	}

	created, err := h.store.Subscribe(ctx, chatID, acct.ID)
	if err != nil {
		return subFailed, err
	}
	if !created {
		return subAlready, nil
	}
	return subAdded, nil
}

func (h *Handlers) cmdUnsub(ctx context.Context, req *router.Request) error {
	handles, invalid := parseHandles(req.Args)
	if len(handles) == 0 && len(invalid) == 0 {
		return router.Userf("Usage: /unsub <handle> [handle...]")
	}
	if len(handles) > maxHandlesPerCommand {
		return router.Userf("Too many accounts, at most %d per command.", maxHandlesPerCommand)
	}

	var removed, missing []string
	for _, handle := range handles {
		acct, err := h.store.GetAccountByHandle(ctx, handle)
		if errors.Is(err, storage.ErrNotFound) {
			missing = append(missing, "@"+handle)
			continue
		}
		if err != nil {
			return err
		}
		ok, err := h.store.Unsubscribe(ctx, req.Chat.ChatID, acct.ID)
		if err != nil {
			return err
		}
		if ok {
			removed = append(removed, "@"+handle)
		} else {
			missing = append(missing, "@"+handle)
		}
	}
	missing = append(missing, invalid...)

	if len(removed) > 0 {
		n, err := h.store.DeleteOrphanAccounts(ctx)
		if err != nil {
			req.Logger.Warn("orphan account prune failed", logx.Err(err))
		} else if n > 0 {
			req.Logger.Debug("orphan accounts pruned", logx.Int("count", n))
		}
	}

	b := tgui.New()
	if len(removed) > 0 {
		b.Title("", "Unsubscribed").Bullets(removed...).Blank()
	}
	if len(missing) > 0 {
		b.Title("", "Not subscribed").Bullets(slices.Compact(missing)...)
	}
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}
