package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dcawatch/internal/asset"
	"dcawatch/internal/config"
	"dcawatch/internal/history"
	"dcawatch/pkg/logx"
)

// seedHistory fills the configured history store with a week of hourly
// points for every monitored asset.
func seedHistory(ctx context.Context, cfgPath string) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.History.Driver))
	if driver != "file" && driver != "sqlite" && driver != "sqlite3" {
		return errors.New("seeding needs a persistent history driver (file or sqlite)")
	}
	retention, err := config.ParseDurationOrDefault("history.retention", cfg.History.Retention, history.DefaultRetention)
	if err != nil {
		return err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	store, err := history.Open(history.Config{Driver: driver, Path: cfg.History.Path, Retention: retention}, log)
	if err != nil {
		return err
	}
	defer store.Close()

	entries := make([]asset.Entry, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		entries = append(entries, asset.Entry{ID: a.ID, Symbol: a.Symbol, Decimals: a.Decimals})
	}
	reg := asset.NewRegistry(entries...)
	symbols := make([]string, 0, len(cfg.Monitored))
	for _, m := range cfg.Monitored {
		symbols = append(symbols, reg.Resolve(m.ID).Symbol)
	}

	n, err := history.Seed(ctx, store, symbols, time.Now(), 7*24*time.Hour, time.Hour, nil)
	if err != nil {
		return err
	}
	log.Info(fmt.Sprintf("seeded %d history points", n), logx.Strs("assets", symbols))
	return nil
}
