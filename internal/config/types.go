package config

// Config is the whole bot configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
// Unknown keys are rejected at load time so typos surface early.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Coupang  CoupangConfig  `json:"coupang,omitempty"`
	Watch    WatchConfig    `json:"watch"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (Go duration string).
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// CoupangConfig tunes the scraping client. Zero values fall back to the
// site defaults, so the whole section is optional.
type CoupangConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	AffiliateID string `json:"affiliate_id,omitempty"`
}

// WatchConfig controls the availability polling loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "300s"
//   - fetch_timeout: "1s"
//   - max_concurrent: 4
//
// Cron, when set, replaces the fixed interval with a cron spec
// (5-field, 6-field with seconds, or a @every/@hourly descriptor).
type WatchConfig struct {
	Enabled       bool   `json:"enabled"`
	Interval      string `json:"interval,omitempty"`
	Cron          string `json:"cron,omitempty"`
	FetchTimeout  string `json:"fetch_timeout,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
}

// NotifierConfig controls the notification fan-out.
//
// Defaults: queue_size 256, rate_per_sec 3, send_timeout "10s".
// If the whole section is omitted, the notifier is enabled.
type NotifierConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./restockbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
