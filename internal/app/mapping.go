package app

import (
	"strings"
	"time"

	"dcawatch/internal/asset"
	"dcawatch/internal/config"
	"dcawatch/internal/dashboard"
	"dcawatch/internal/delivery"
	"dcawatch/internal/history"
	"dcawatch/internal/monitor"
	"dcawatch/internal/position"
	"dcawatch/internal/source/rest"
	"dcawatch/internal/transport/telegram"
	"dcawatch/pkg/logx"
)

// Config sections are validated before they reach these mappers, so parse
// errors here only happen when a mapper is called on an unvalidated config.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSourceConfig(cfg *config.Config) (rest.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 30*time.Second)
	if err != nil {
		return rest.Config{}, err
	}
	return rest.Config{
		URL:      strings.TrimSpace(cfg.Source.URL),
		Headers:  cfg.Source.Headers,
		Timeout:  timeout,
		MaxBytes: cfg.Source.MaxBytes,
	}, nil
}

func mapAssets(cfg *config.Config) *asset.Registry {
	entries := make([]asset.Entry, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		entries = append(entries, asset.Entry{ID: a.ID, Symbol: a.Symbol, Decimals: a.Decimals})
	}
	return asset.NewRegistry(entries...)
}

func mapMonitored(cfg *config.Config) []position.MonitoredAsset {
	out := make([]position.MonitoredAsset, 0, len(cfg.Monitored))
	for _, m := range cfg.Monitored {
		out = append(out, position.MonitoredAsset{ID: m.ID, Detailed: m.Detailed, Quote: m.Quote})
	}
	return out
}

func mapSummaryInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("summary.interval", cfg.Summary.Interval, position.DefaultSummaryInterval)
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	minInterval, err := config.ParseDurationOrDefault("delivery.min_interval", cfg.Delivery.MinInterval, delivery.DefaultMinInterval)
	if err != nil {
		return delivery.Config{}, err
	}
	retry, err := config.ParseDurationOrDefault("delivery.default_retry_after", cfg.Delivery.DefaultRetryAfter, delivery.DefaultRetryAfter)
	if err != nil {
		return delivery.Config{}, err
	}
	send, err := config.ParseDurationField("delivery.send_timeout", cfg.Delivery.SendTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		MinInterval:       minInterval,
		DefaultRetryAfter: retry,
		SendTimeout:       send,
		BacklogWarn:       cfg.Delivery.BacklogWarn,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationField("telegram.http_timeout", cfg.Telegram.HTTPTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		ChatID:         cfg.Telegram.ChatID,
		ThreadID:       cfg.Telegram.ThreadID,
		ParseMode:      cfg.Telegram.ParseMode,
		DisablePreview: cfg.Telegram.DisablePreview,
		APIURL:         cfg.Telegram.APIURL,
		HTTPTimeout:    timeout,
	}, nil
}

func mapHistoryConfig(cfg *config.Config) (history.Config, error) {
	retention, err := config.ParseDurationOrDefault("history.retention", cfg.History.Retention, history.DefaultRetention)
	if err != nil {
		return history.Config{}, err
	}
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", cfg.History.BusyTimeout, time.Second)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.History.Driver)),
		Path:        strings.TrimSpace(cfg.History.Path),
		Retention:   retention,
		BusyTimeout: busy,
	}, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	every, err := config.ParseDurationOrDefault("history.every", cfg.History.Every, monitor.DefaultHistoryEvery)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		NotifySummary: cfg.Summary.NotifySummary(),
		HistoryEvery:  every,
	}, nil
}

func mapDashboardConfig(cfg *config.Config) (dashboard.Config, error) {
	d := cfg.Dashboard
	read, err := config.ParseDurationOrDefault("dashboard.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return dashboard.Config{}, err
	}
	// 0 keeps websocket streams open.
	write, err := config.ParseDurationField("dashboard.write_timeout", d.WriteTimeout)
	if err != nil {
		return dashboard.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("dashboard.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return dashboard.Config{}, err
	}
	return dashboard.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		RatePerSecond: d.RatePerSecond,
		Burst:         d.Burst,
		TrustProxy:    d.TrustProxy,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func loadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}
