package position

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dcawatch/pkg/logx"
)

// ErrFetch wraps every snapshot source failure returned by Poll.
var ErrFetch = errors.New("fetch snapshot")

// Source returns the complete current set of positions on every call.
type Source interface {
	FetchSnapshot(ctx context.Context) ([]RawRecord, error)
}

type SourceFunc func(ctx context.Context) ([]RawRecord, error)

func (f SourceFunc) FetchSnapshot(ctx context.Context) ([]RawRecord, error) { return f(ctx) }

type EventKind int

const (
	Created EventKind = iota + 1
	Closed
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChangeEvent reports a position appearing in or disappearing from the
// tracked set. For Closed events Position is the last known state.
type ChangeEvent struct {
	Kind           EventKind
	Position       Position
	Classification Classification
}

// Detailed reports whether the event's asset wants per-event notifications.
func (e ChangeEvent) Detailed() bool { return e.Classification.Asset.Detailed }

// AssetSummary aggregates one monitored asset over one snapshot.
type AssetSummary struct {
	Asset      MonitoredAsset
	BuyOrders  int
	SellOrders int
	// BuyVolume is in units of Asset.Quote; zero when there is no quote.
	BuyVolume *big.Int
	// SellVolume is in units of the monitored asset.
	SellVolume *big.Int
}

type Summary struct {
	At     time.Time
	Assets []AssetSummary
}

// Result is the outcome of one successful poll.
type Result struct {
	At time.Time
	// Baseline is set on the first poll when existing positions are not
	// announced.
	Baseline   bool
	Events     []ChangeEvent
	SummaryDue bool
	Summary    Summary
	Violations []error
	Tracked    *TrackedSet
}

type Config struct {
	Assets          []MonitoredAsset
	SummaryInterval time.Duration
	// AnnounceExisting reports every position of the first snapshot as
	// Created instead of silently baselining.
	AnnounceExisting bool
	Logger           logx.Logger
	Now              func() time.Time
}

const DefaultSummaryInterval = 60 * time.Second

// Tracker owns the tracked set and the summary clock. Polls are serialised
// internally; Tracked may be called from any goroutine.
type Tracker struct {
	assets           []MonitoredAsset
	announceExisting bool
	log              logx.Logger
	now              func() time.Time
	interval         atomic.Int64

	mu          sync.Mutex
	started     bool
	lastSummary time.Time

	tracked atomic.Pointer[TrackedSet]
}

func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		assets:           append([]MonitoredAsset(nil), cfg.Assets...),
		announceExisting: cfg.AnnounceExisting,
		log:              cfg.Logger,
		now:              cfg.Now,
	}
	if t.now == nil {
		t.now = time.Now
	}
	t.SetSummaryInterval(cfg.SummaryInterval)
	t.tracked.Store(emptySet)
	return t
}

// SetSummaryInterval changes the summary cadence; non-positive values reset
// it to DefaultSummaryInterval.
func (t *Tracker) SetSummaryInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultSummaryInterval
	}
	t.interval.Store(int64(d))
}

func (t *Tracker) SummaryInterval() time.Duration { return time.Duration(t.interval.Load()) }

func (t *Tracker) Assets() []MonitoredAsset { return append([]MonitoredAsset(nil), t.assets...) }

// Tracked returns the set published by the last successful poll.
func (t *Tracker) Tracked() *TrackedSet { return t.tracked.Load() }

// Poll fetches a snapshot and applies it. A fetch failure leaves all state
// untouched and returns an error wrapping ErrFetch.
func (t *Tracker) Poll(ctx context.Context, src Source) (Result, error) {
	records, err := src.FetchSnapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return t.Apply(t.now(), records), nil
}

// Apply diffs records against the tracked set, publishes the new set and
// decides whether a summary is due.
func (t *Tracker) Apply(now time.Time, records []RawRecord) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := Result{At: now}
	prev := t.tracked.Load()
	next := make(map[string]tracked, len(records))
	// held are tracked keys whose current record is corrupt. They keep their
	// last good state so they neither close nor reappear, and they are left
	// out of the summary.
	held := map[string]bool{}
	for _, rec := range records {
		p, err := Parse(rec)
		if err != nil {
			res.Violations = append(res.Violations, err)
			t.log.Warn("dropping invalid position", logx.Err(err))
			var inv *InvariantError
			if errors.As(err, &inv) && inv.Key != "" {
				if _, ok := prev.byKey[inv.Key]; ok {
					held[inv.Key] = true
				}
			}
			continue
		}
		cls, ok := Classify(t.assets, p)
		if !ok {
			continue
		}
		if _, dup := next[p.Key]; dup {
			t.log.Warn("duplicate position key in snapshot", logx.String("key", p.Key))
		}
		next[p.Key] = tracked{pos: p, cls: cls}
	}
	for k := range held {
		if _, ok := next[k]; ok {
			delete(held, k)
			continue
		}
		next[k] = prev.byKey[k]
	}
	set := newTrackedSet(now, next)

	if !t.started && !t.announceExisting {
		res.Baseline = true
	} else {
		for _, k := range prev.keys {
			if _, ok := next[k]; !ok {
				old := prev.byKey[k]
				res.Events = append(res.Events, ChangeEvent{Kind: Closed, Position: old.pos, Classification: old.cls})
			}
		}
		for _, k := range set.keys {
			if _, ok := prev.byKey[k]; !ok {
				cur := next[k]
				res.Events = append(res.Events, ChangeEvent{Kind: Created, Position: cur.pos, Classification: cur.cls})
			}
		}
	}

	interval := t.SummaryInterval()
	if t.lastSummary.IsZero() || now.Sub(t.lastSummary) >= interval {
		res.SummaryDue = true
		t.lastSummary = now
		res.Summary = summarize(now, t.assets, set, held)
	}

	t.started = true
	t.tracked.Store(set)
	res.Tracked = set
	return res
}

// summarize aggregates set, skipping the keys in skip. Buy volume only
// counts positions funded with the asset's quote; without a quote it stays
// zero.
func summarize(now time.Time, assets []MonitoredAsset, set *TrackedSet, skip map[string]bool) Summary {
	out := Summary{At: now, Assets: make([]AssetSummary, len(assets))}
	idx := make(map[string]int, len(assets))
	for i, a := range assets {
		out.Assets[i] = AssetSummary{Asset: a, BuyVolume: new(big.Int), SellVolume: new(big.Int)}
		if _, seen := idx[a.ID]; !seen {
			idx[a.ID] = i
		}
	}
	for _, k := range set.keys {
		if skip[k] {
			continue
		}
		e := set.byKey[k]
		i, ok := idx[e.cls.Asset.ID]
		if !ok {
			continue
		}
		s := &out.Assets[i]
		switch e.cls.Direction {
		case Buying:
			s.BuyOrders++
			if s.Asset.Quote != "" && e.pos.InputAsset == s.Asset.Quote {
				s.BuyVolume.Add(s.BuyVolume, e.pos.Remaining())
			}
		case Selling:
			s.SellOrders++
			s.SellVolume.Add(s.SellVolume, e.pos.Remaining())
		}
	}
	return out
}

type tracked struct {
	pos Position
	cls Classification
}

// TrackedSet is an immutable view of the positions retained by one poll.
type TrackedSet struct {
	at    time.Time
	byKey map[string]tracked
	keys  []string
}

var emptySet = &TrackedSet{byKey: map[string]tracked{}}

func newTrackedSet(at time.Time, m map[string]tracked) *TrackedSet {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &TrackedSet{at: at, byKey: m, keys: keys}
}

// At is when the set was built; zero before the first successful poll.
func (s *TrackedSet) At() time.Time { return s.at }

func (s *TrackedSet) Len() int { return len(s.keys) }

// Keys returns the keys in ascending order.
func (s *TrackedSet) Keys() []string { return append([]string(nil), s.keys...) }

func (s *TrackedSet) Get(key string) (Position, Classification, bool) {
	e, ok := s.byKey[key]
	return e.pos, e.cls, ok
}

// Entry pairs a tracked position with its classification.
type Entry struct {
	Position       Position
	Classification Classification
}

// Entries returns every tracked position ordered by key.
func (s *TrackedSet) Entries() []Entry {
	out := make([]Entry, 0, len(s.keys))
	for _, k := range s.keys {
		e := s.byKey[k]
		out = append(out, Entry{Position: e.pos, Classification: e.cls})
	}
	return out
}
