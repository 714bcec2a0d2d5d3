package config

import (
	"reflect"
	"strings"

	"dcawatch/pkg/logx"
)

// hotSections apply without a restart.
var hotSections = map[string]bool{
	"logging":  true,
	"summary":  true,
	"delivery": true,
}

// SummarizeChange lists the changed top-level sections in a stable order
// and returns log fields describing them. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs, logx.String("source.schedule", newCfg.Source.Schedule))
	}
	if !reflect.DeepEqual(oldCfg.Assets, newCfg.Assets) {
		changed = append(changed, "assets")
		attrs = append(attrs, logx.Int("assets.count", len(newCfg.Assets)))
	}
	if !reflect.DeepEqual(oldCfg.Monitored, newCfg.Monitored) {
		changed = append(changed, "monitored")
		attrs = append(attrs, logx.Int("monitored.count", len(newCfg.Monitored)))
	}
	if !reflect.DeepEqual(oldCfg.Summary, newCfg.Summary) {
		changed = append(changed, "summary")
		attrs = append(attrs,
			logx.String("summary.interval", newCfg.Summary.Interval),
			logx.Bool("summary.notify", newCfg.Summary.NotifySummary()),
		)
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.min_interval", newCfg.Delivery.MinInterval),
			logx.String("delivery.default_retry_after", newCfg.Delivery.DefaultRetryAfter),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
		)
	}
	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs, logx.String("history.driver", newCfg.History.Driver))
	}
	if oldCfg.Dashboard != newCfg.Dashboard {
		changed = append(changed, "dashboard")
		attrs = append(attrs,
			logx.Bool("dashboard.enabled", newCfg.Dashboard.Enabled),
			logx.String("dashboard.addr", newCfg.Dashboard.Addr),
		)
	}
	if strings.TrimSpace(oldCfg.ExplorerURL) != strings.TrimSpace(newCfg.ExplorerURL) ||
		oldCfg.AnnounceExisting != newCfg.AnnounceExisting ||
		oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "general")
	}
	if len(changed) > 0 {
		attrs = append(attrs, logx.Strs("changed", changed))
	}
	return changed, attrs
}

// NeedsRestart returns the changed sections that only take effect after a
// restart.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !hotSections[s] {
			out = append(out, s)
		}
	}
	return out
}
