package config

// Config is the on-disk configuration. JSON, YAML and TOML files decode
// into the same struct; unknown keys are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1h").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Source  SourceConfig  `json:"source"`

	// Assets is the static asset table (symbol and decimals per id).
	Assets []AssetConfig `json:"assets"`
	// Monitored is the ordered classification list; the first entry an
	// order touches wins.
	Monitored []MonitoredConfig `json:"monitored"`

	Summary   SummaryConfig   `json:"summary"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Telegram  TelegramConfig  `json:"telegram"`
	History   HistoryConfig   `json:"history"`
	Dashboard DashboardConfig `json:"dashboard"`

	// ExplorerURL is a printf pattern for position links ("%s" is the key).
	ExplorerURL string `json:"explorer_url,omitempty"`
	// AnnounceExisting reports every position of the first snapshot.
	AnnounceExisting bool `json:"announce_existing,omitempty"`
	// Timezone for cron schedules (IANA name); empty means local.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig points at the snapshot endpoint.
//
// Schedule accepts "10s", "every 10s", "interval 1m", "cron */10 * * * * *"
// or a plain cron expression.
type SourceConfig struct {
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`
	MaxBytes int64             `json:"max_bytes,omitempty"`
	Schedule string            `json:"schedule,omitempty"`
}

type AssetConfig struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type MonitoredConfig struct {
	ID       string `json:"id"`
	Detailed bool   `json:"detailed"`
	// Quote is the asset buy volume is counted in. Buys funded with any
	// other asset count as orders only.
	Quote string `json:"quote"`
}

type SummaryConfig struct {
	Interval string `json:"interval,omitempty"`
	// Notify also sends summaries to the chat. Omitted means true.
	Notify *bool `json:"notify,omitempty"`
}

type DeliveryConfig struct {
	MinInterval       string `json:"min_interval,omitempty"`
	DefaultRetryAfter string `json:"default_retry_after,omitempty"`
	SendTimeout       string `json:"send_timeout,omitempty"`
	BacklogWarn       int    `json:"backlog_warn,omitempty"`
	// DryRun logs messages instead of sending them.
	DryRun bool `json:"dry_run,omitempty"`
}

type TelegramConfig struct {
	Token          string `json:"token"`
	ChatID         int64  `json:"chat_id"`
	ThreadID       int    `json:"thread_id,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	APIURL         string `json:"api_url,omitempty"`
	HTTPTimeout    string `json:"http_timeout,omitempty"`
}

// HistoryConfig controls the snapshot store.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./data/history.db", "every": "1h" }
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	Retention   string `json:"retention,omitempty"`
	Every       string `json:"every,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type DashboardConfig struct {
	Enabled       bool    `json:"enabled"`
	Addr          string  `json:"addr,omitempty"`
	RatePerSecond float64 `json:"rate_per_second,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	TrustProxy    bool    `json:"trust_proxy,omitempty"`
	MessageCap    int     `json:"message_cap,omitempty"`
	ReadTimeout   string  `json:"read_timeout,omitempty"`
	WriteTimeout  string  `json:"write_timeout,omitempty"`
	IdleTimeout   string  `json:"idle_timeout,omitempty"`
}

// NotifySummary resolves the omitted-means-true default.
func (s SummaryConfig) NotifySummary() bool {
	return s.Notify == nil || *s.Notify
}
