package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"dcawatch/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	cfg Config
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &sqliteStore{db: db, cfg: cfg, log: log}, nil
}

func (s *sqliteStore) Persist(ctx context.Context, asset string, snap Snapshot) error {
	if snap.At.IsZero() {
		snap.At = s.cfg.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history(asset, at, buy_orders, sell_orders, buy_volume, sell_volume) VALUES(?,?,?,?,?,?)`,
		asset, snap.At.UnixMilli(), snap.BuyOrders, snap.SellOrders, snap.BuyVolume.String(), snap.SellVolume.String(),
	); err != nil {
		return err
	}
	cutoff := s.cfg.Now().Add(-s.cfg.Retention).UnixMilli()
	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE at <= ?`, cutoff); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Load(ctx context.Context, asset string, p Period) ([]Snapshot, error) {
	cutoff := s.cfg.Now().Add(-p.Window()).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, buy_orders, sell_orders, buy_volume, sell_volume FROM history
		 WHERE asset = ? AND at > ? ORDER BY at ASC, id ASC`, asset, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			ms       int64
			snap     Snapshot
			buy, sel string
		)
		if err := rows.Scan(&ms, &snap.BuyOrders, &snap.SellOrders, &buy, &sel); err != nil {
			return nil, err
		}
		snap.At = time.UnixMilli(ms)
		if snap.BuyVolume, err = decimal.NewFromString(buy); err != nil {
			return nil, fmt.Errorf("history row buy_volume: %w", err)
		}
		if snap.SellVolume, err = decimal.NewFromString(sel); err != nil {
			return nil, fmt.Errorf("history row sell_volume: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
