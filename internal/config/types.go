package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "15m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Source    SourceConfig    `json:"source"`
	Logging   LoggingConfig   `json:"logging"`
	Forwarder ForwarderConfig `json:"forwarder"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminIDs may run /stats; empty disables it.
	AdminIDs []int64 `json:"admin_ids,omitempty"`
}

// SourceConfig selects where posts are fetched from.
//
//	provider: "twitter" (default, needs bearer_token) or "nitter" (needs base_url)
type SourceConfig struct {
	Provider    string `json:"provider"`
	BaseURL     string `json:"base_url,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ForwarderConfig tunes the fetch and delivery cycle. Every field is hot
// reloadable.
//
// Defaults: rate_limit_count 300, rate_limit_window "15m", min_interval
// "60s", fetch_workers 1, delivery_workers 4, insert_batch 100,
// delivery_rate_per_sec 25, first_run_delay "5s".
type ForwarderConfig struct {
	RateLimitCount     int     `json:"rate_limit_count,omitempty"`
	RateLimitWindow    string  `json:"rate_limit_window,omitempty"`
	MinInterval        string  `json:"min_interval,omitempty"`
	FetchWorkers       int     `json:"fetch_workers,omitempty"`
	FetchTimeout       string  `json:"fetch_timeout,omitempty"`
	DeliveryWorkers    int     `json:"delivery_workers,omitempty"`
	DeliveryRatePerSec float64 `json:"delivery_rate_per_sec,omitempty"`
	InsertBatch        int     `json:"insert_batch,omitempty"`
	FirstRunDelay      string  `json:"first_run_delay,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tweetfwd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the read-only status API.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	// Token, when set, is required as a bearer token.
	Token string `json:"token,omitempty"`
	// Pprof exposes /debug/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}
