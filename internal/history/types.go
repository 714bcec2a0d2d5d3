package history

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownPeriod = errors.New("unknown history period")
	ErrClosed        = errors.New("history store closed")
)

// Snapshot is one aggregate point for an asset. Volumes are in display
// units.
type Snapshot struct {
	At         time.Time       `json:"timestamp"`
	BuyOrders  int             `json:"buyOrders"`
	SellOrders int             `json:"sellOrders"`
	BuyVolume  decimal.Decimal `json:"buyVolume"`
	SellVolume decimal.Decimal `json:"sellVolume"`
}

type Period string

const (
	Daily  Period = "daily"
	Weekly Period = "weekly"
)

// Window is how far back a period reaches.
func (p Period) Window() time.Duration {
	switch p {
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ParsePeriod accepts "daily" and "weekly"; empty means daily.
func ParsePeriod(s string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(s))) {
	case "", Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	default:
		return "", ErrUnknownPeriod
	}
}

// Store is an append-only history with capped retention.
type Store interface {
	Persist(ctx context.Context, asset string, s Snapshot) error
	// Load returns the asset's snapshots inside the period, oldest first.
	Load(ctx context.Context, asset string, p Period) ([]Snapshot, error)
	Close() error
}

type Config struct {
	Driver    string
	Path      string
	Retention time.Duration
	// BusyTimeout applies to sqlite only.
	BusyTimeout time.Duration
	Now         func() time.Time
}

const DefaultRetention = 7 * 24 * time.Hour

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Volume converts a raw integer amount to display units.
func Volume(v *big.Int, decimals int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}
