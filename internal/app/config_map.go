package app

import (
	"errors"
	"strings"
	"time"

	"tweetfwd/internal/config"
	"tweetfwd/internal/delivery"
	"tweetfwd/internal/forwarder"
	"tweetfwd/internal/httpapi"
	"tweetfwd/internal/scheduler"
	"tweetfwd/internal/source"
	"tweetfwd/internal/source/nitter"
	"tweetfwd/internal/source/twitter"
	"tweetfwd/internal/storage"
	telegram "tweetfwd/internal/transport/telegram/adapter"
	logx "tweetfwd/pkg/logx"
)

// runtimeConfig is config.Config with durations parsed and defaults applied.
type runtimeConfig struct {
	adapter   telegram.Config
	logging   logx.Config
	source    source.Config
	storage   storage.Config
	forwarder forwarder.Config
	delivery  delivery.Config
	scheduler scheduler.Config
	http      httpapi.Config
	httpOn    bool
	admins    []int64
}

func mapConfig(cfg *config.Config) (runtimeConfig, error) {
	if cfg == nil {
		return runtimeConfig{}, errors.New("config is nil")
	}
	var (
		rc   runtimeConfig
		errs []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := config.Duration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	rc.adapter = telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second),
	}
	rc.admins = cfg.Telegram.AdminIDs

	l := cfg.Logging
	rc.logging = logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}

	s := cfg.Source
	rc.source = source.Config{
		Provider:    strings.ToLower(strings.TrimSpace(s.Provider)),
		BaseURL:     strings.TrimSpace(s.BaseURL),
		BearerToken: strings.TrimSpace(s.BearerToken),
		Timeout:     dur("source.timeout", s.Timeout, 20*time.Second),
		UserAgent:   s.UserAgent,
	}

	st := cfg.Storage
	rc.storage = storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(st.Driver)),
		Path:        strings.TrimSpace(st.Path),
		DSN:         strings.TrimSpace(st.DSN),
		BusyTimeout: dur("storage.busy_timeout", st.BusyTimeout, 0),
	}

	f := cfg.Forwarder
	rc.forwarder = forwarder.Config{
		Limits: forwarder.Limits{
			RateLimitCount: f.RateLimitCount,
			Window:         dur("forwarder.rate_limit_window", f.RateLimitWindow, forwarder.DefaultWindow),
			MinInterval:    dur("forwarder.min_interval", f.MinInterval, forwarder.DefaultMinInterval),
		},
		FetchWorkers:    f.FetchWorkers,
		DeliveryWorkers: f.DeliveryWorkers,
		InsertBatch:     f.InsertBatch,
		FetchTimeout:    dur("forwarder.fetch_timeout", f.FetchTimeout, 0),
	}
	rc.delivery = delivery.Config{RatePerSec: f.DeliveryRatePerSec}
	rc.scheduler = scheduler.Config{
		FirstRunDelay: dur("forwarder.first_run_delay", f.FirstRunDelay, 5*time.Second),
	}

	rc.httpOn = cfg.HTTP.Enabled
	rc.http = httpapi.Config{Addr: strings.TrimSpace(cfg.HTTP.Addr), Token: cfg.HTTP.Token, Pprof: cfg.HTTP.Pprof}

	return rc, errors.Join(errs...)
}

// newSource builds the configured upstream client.
func newSource(cfg source.Config, log logx.Logger) (source.Client, error) {
	switch cfg.Provider {
	case "", "twitter":
		return twitter.New(cfg, log)
	case "nitter":
		return nitter.New(cfg, log)
	default:
		return nil, errors.New("unknown source provider: " + cfg.Provider)
	}
}
