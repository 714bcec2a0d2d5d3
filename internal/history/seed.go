package history

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// Seed writes synthetic points for each symbol every step over the span
// ending at end. It exists to populate dashboards in development and
// returns the number of points written.
func Seed(ctx context.Context, s Store, symbols []string, end time.Time, span, step time.Duration, rng *rand.Rand) (int, error) {
	if step <= 0 {
		step = time.Hour
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(end.UnixNano()))
	}
	n := 0
	for at := end.Add(-span); !at.After(end); at = at.Add(step) {
		for _, sym := range symbols {
			snap := Snapshot{
				At:         at,
				BuyOrders:  rng.Intn(10) + 1,
				SellOrders: rng.Intn(20) + 5,
				BuyVolume:  decimal.NewFromInt(rng.Int63n(50000) + 10000),
				SellVolume: decimal.NewFromInt(rng.Int63n(100000) + 50000),
			}
			if err := s.Persist(ctx, sym, snap); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
