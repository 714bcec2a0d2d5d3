package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dcawatch/internal/schedule"
)

// ParseDurationField parses a Go duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// DefaultSchedule is the poll cadence when source.schedule is empty.
const DefaultSchedule = "10s"

// applyDefaults fills values that have no zero-value meaning.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	// A logger without sinks would swallow everything.
	if !cfg.Logging.Console && !cfg.Logging.File.Enabled {
		cfg.Logging.Console = true
	}
	if strings.TrimSpace(cfg.Source.Schedule) == "" {
		cfg.Source.Schedule = DefaultSchedule
	}
	if strings.TrimSpace(cfg.History.Driver) == "" {
		cfg.History.Driver = "memory"
	}
}

// Validate reports every problem it finds, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(cfg.Source.URL) == "" {
		add(errors.New("source.url is required"))
	}
	if err := schedule.Check(cfg.Source.Schedule); err != nil {
		add(fmt.Errorf("source.schedule: %w", err))
	}
	dur("source.timeout", cfg.Source.Timeout)
	if cfg.Source.MaxBytes < 0 {
		add(errors.New("source.max_bytes must be >= 0"))
	}

	seenAsset := make(map[string]bool, len(cfg.Assets))
	for i, a := range cfg.Assets {
		p := fmt.Sprintf("assets[%d]", i)
		if strings.TrimSpace(a.ID) == "" {
			add(fmt.Errorf("%s.id is required", p))
		}
		if strings.TrimSpace(a.Symbol) == "" {
			add(fmt.Errorf("%s.symbol is required", p))
		}
		if a.Decimals < 0 || a.Decimals > 36 {
			add(fmt.Errorf("%s.decimals out of range: %d", p, a.Decimals))
		}
		if seenAsset[a.ID] {
			add(fmt.Errorf("%s: duplicate id %q", p, a.ID))
		}
		seenAsset[a.ID] = true
	}

	if len(cfg.Monitored) == 0 {
		add(errors.New("monitored: at least one asset is required"))
	}
	seenMon := make(map[string]bool, len(cfg.Monitored))
	for i, m := range cfg.Monitored {
		p := fmt.Sprintf("monitored[%d]", i)
		if strings.TrimSpace(m.ID) == "" {
			add(fmt.Errorf("%s.id is required", p))
		}
		if seenMon[m.ID] {
			add(fmt.Errorf("%s: duplicate id %q", p, m.ID))
		}
		seenMon[m.ID] = true
		switch q := strings.TrimSpace(m.Quote); {
		case q == "":
			add(fmt.Errorf("%s.quote is required", p))
		case q == m.ID:
			add(fmt.Errorf("%s.quote must differ from id", p))
		}
	}

	dur("summary.interval", cfg.Summary.Interval)
	dur("delivery.min_interval", cfg.Delivery.MinInterval)
	dur("delivery.default_retry_after", cfg.Delivery.DefaultRetryAfter)
	dur("delivery.send_timeout", cfg.Delivery.SendTimeout)

	if !cfg.Delivery.DryRun {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add(errors.New("telegram.token is required (or set TELEGRAM_BOT_TOKEN)"))
		}
		if cfg.Telegram.ChatID == 0 {
			add(errors.New("telegram.chat_id is required (or set TELEGRAM_CHAT_ID)"))
		}
	}
	dur("telegram.http_timeout", cfg.Telegram.HTTPTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.History.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.History.Path) == "" {
			add(fmt.Errorf("history.path is required for driver %q", cfg.History.Driver))
		}
	default:
		add(fmt.Errorf("history.driver: unknown driver %q", cfg.History.Driver))
	}
	dur("history.retention", cfg.History.Retention)
	dur("history.every", cfg.History.Every)
	dur("history.busy_timeout", cfg.History.BusyTimeout)

	if cfg.Dashboard.RatePerSecond < 0 {
		add(errors.New("dashboard.rate_per_second must be >= 0"))
	}
	dur("dashboard.read_timeout", cfg.Dashboard.ReadTimeout)
	dur("dashboard.write_timeout", cfg.Dashboard.WriteTimeout)
	dur("dashboard.idle_timeout", cfg.Dashboard.IdleTimeout)

	if n := strings.Count(cfg.ExplorerURL, "%"); n > 1 || (n == 1 && !strings.Contains(cfg.ExplorerURL, "%s")) {
		add(fmt.Errorf("explorer_url: expected at most one %%s verb, got %q", cfg.ExplorerURL))
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("timezone: %w", err))
		}
	}

	return errors.Join(errs...)
}
