package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "tweetfwd/pkg/logx"
)

// Duration parses a duration string; empty or zero yields def.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks values that cannot be caught by decoding alone.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := Duration(path, raw, 0)
		add(err)
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)

	switch strings.ToLower(strings.TrimSpace(c.Source.Provider)) {
	case "", "twitter":
		if strings.TrimSpace(c.Source.BearerToken) == "" {
			add(errors.New("source.bearer_token is required for the twitter provider"))
		}
	case "nitter":
		if strings.TrimSpace(c.Source.BaseURL) == "" {
			add(errors.New("source.base_url is required for the nitter provider"))
		}
	default:
		add(fmt.Errorf("source.provider: unknown provider %q", c.Source.Provider))
	}
	dur("source.timeout", c.Source.Timeout)

	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}
	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		add(errors.New("logging.telegram.chat_id is required when telegram logging is enabled"))
	}

	f := c.Forwarder
	if f.RateLimitCount < 0 || f.FetchWorkers < 0 || f.DeliveryWorkers < 0 || f.InsertBatch < 0 || f.DeliveryRatePerSec < 0 {
		add(errors.New("forwarder: counts and rates must be >= 0"))
	}
	dur("forwarder.rate_limit_window", f.RateLimitWindow)
	dur("forwarder.min_interval", f.MinInterval)
	dur("forwarder.fetch_timeout", f.FetchTimeout)
	dur("forwarder.first_run_delay", f.FirstRunDelay)

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path is required for sqlite"))
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
	case "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	return errors.Join(errs...)
}
