package config

import (
	"slices"
	"strings"

	logx "tweetfwd/pkg/logx"
)

// Change summarizes a reload for logging. Attrs never carry secrets.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares two configs section by section.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)
	if tokenChanged || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) || !slices.Equal(ot.AdminIDs, nt.AdminIDs) {
		mark("telegram", tokenChanged || ot.PollTimeout != nt.PollTimeout,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
			logx.Int("telegram.admin_count", len(nt.AdminIDs)),
		)
	}

	if os0, ns := oldCfg.Source, newCfg.Source; os0 != ns {
		mark("source", true,
			logx.String("source.provider", ns.Provider),
			logx.Bool("source.credentials_changed", os0.BearerToken != ns.BearerToken),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		nl := newCfg.Logging
		mark("logging", false,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	if oldCfg.Forwarder != newCfg.Forwarder {
		nf := newCfg.Forwarder
		mark("forwarder", false,
			logx.Int("forwarder.rate_limit_count", nf.RateLimitCount),
			logx.String("forwarder.rate_limit_window", nf.RateLimitWindow),
			logx.String("forwarder.min_interval", nf.MinInterval),
			logx.Int("forwarder.fetch_workers", nf.FetchWorkers),
			logx.Int("forwarder.delivery_workers", nf.DeliveryWorkers),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oh, nh := oldCfg.HTTP, newCfg.HTTP; oh != nh {
		mark("http", true, logx.Bool("http.enabled", nh.Enabled), logx.String("http.addr", nh.Addr))
	}
	return ch
}
