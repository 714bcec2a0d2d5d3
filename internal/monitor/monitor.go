// Package monitor is the poll step: fetch a snapshot, diff it, turn the
// outcome into notifications and keep the read-side state current.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"dcawatch/internal/asset"
	"dcawatch/internal/eventbus"
	"dcawatch/internal/history"
	"dcawatch/internal/position"
	"dcawatch/internal/render"
	"dcawatch/pkg/logx"
)

// Enqueuer accepts notification text without blocking.
type Enqueuer interface {
	Enqueue(text string) string
}

// SummarySink receives every rendered summary.
type SummarySink interface {
	SetSummary(text string, s position.Summary)
}

type Config struct {
	// NotifySummary also sends summaries to the notification channel.
	NotifySummary bool
	// HistoryEvery is the minimum spacing of persisted history points.
	HistoryEvery time.Duration
	// PersistTimeout bounds one history write.
	PersistTimeout time.Duration
}

const (
	DefaultHistoryEvery   = time.Hour
	DefaultPersistTimeout = 5 * time.Second
)

type Deps struct {
	Tracker  *position.Tracker
	Source   position.Source
	Renderer *render.Renderer
	Assets   asset.Resolver
	Queue    Enqueuer
	Summary  SummarySink
	History  history.Store
	Bus      eventbus.Bus
	Log      logx.Logger
	Now      func() time.Time
}

type Monitor struct {
	cfg    Config
	d      Deps
	notify atomic.Bool

	mu          sync.Mutex
	lastPersist time.Time
	lastErr     error
	polls       uint64
	failures    uint64
}

func New(cfg Config, d Deps) *Monitor {
	if cfg.HistoryEvery <= 0 {
		cfg.HistoryEvery = DefaultHistoryEvery
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	if d.Assets == nil {
		d.Assets = asset.NewRegistry()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	m := &Monitor{cfg: cfg, d: d}
	m.notify.Store(cfg.NotifySummary)
	return m
}

// SetNotifySummary toggles sending summaries to the notification channel.
func (m *Monitor) SetNotifySummary(on bool) { m.notify.Store(on) }

// Poll runs one step. Fetch failures are logged and swallowed so the
// scheduler keeps going; only cancellation is returned.
func (m *Monitor) Poll(ctx context.Context) error {
	res, err := m.d.Tracker.Poll(ctx, m.d.Source)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.mu.Lock()
		m.failures++
		m.lastErr = err
		m.mu.Unlock()
		m.d.Log.Warn("poll failed, keeping previous positions", logx.Err(err))
		m.d.Bus.Publish(eventbus.Event{Type: eventbus.PollFailed, Data: err.Error()})
		return nil
	}

	m.mu.Lock()
	m.polls++
	m.lastErr = nil
	m.mu.Unlock()

	m.handle(ctx, res)
	return nil
}

func (m *Monitor) handle(ctx context.Context, res position.Result) {
	if res.Baseline {
		m.d.Log.Info("baseline established", logx.Int("positions", res.Tracked.Len()))
	}

	for _, ev := range res.Events {
		log := m.d.Log.With(
			logx.String("key", ev.Position.Key),
			logx.String("kind", ev.Kind.String()),
			logx.String("asset", m.d.Assets.Resolve(ev.Classification.Asset.ID).Symbol),
			logx.String("direction", ev.Classification.Direction.String()),
		)
		if !ev.Detailed() {
			log.Debug("position change (summary only)")
			continue
		}
		log.Info("position change")
		m.d.Queue.Enqueue(m.d.Renderer.Change(ev))
	}

	m.d.Bus.Publish(eventbus.Event{Type: eventbus.PollCompleted, Time: res.At, Data: PollStats{
		At:         res.At,
		Tracked:    res.Tracked.Len(),
		Events:     len(res.Events),
		Violations: len(res.Violations),
	}})

	if !res.SummaryDue {
		return
	}
	text := m.d.Renderer.Summary(res.Summary)
	if m.notify.Load() {
		m.d.Queue.Enqueue(text)
	}
	if m.d.Summary != nil {
		m.d.Summary.SetSummary(text, res.Summary)
	}
	m.d.Bus.Publish(eventbus.Event{Type: eventbus.SummaryReady, Time: res.At, Data: text})
	m.persist(ctx, res.Summary)
}

// persist writes one history point per monitored asset, at most once per
// HistoryEvery.
func (m *Monitor) persist(ctx context.Context, s position.Summary) {
	if m.d.History == nil {
		return
	}
	now := m.d.Now()
	m.mu.Lock()
	if !m.lastPersist.IsZero() && now.Sub(m.lastPersist) < m.cfg.HistoryEvery {
		m.mu.Unlock()
		return
	}
	m.lastPersist = now
	m.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, m.cfg.PersistTimeout)
	defer cancel()

	var errs []error
	for _, a := range s.Assets {
		info := m.d.Assets.Resolve(a.Asset.ID)
		quoteDecimals := 0
		if a.Asset.Quote != "" {
			quoteDecimals = m.d.Assets.Resolve(a.Asset.Quote).Decimals
		}
		snap := history.Snapshot{
			At:         s.At,
			BuyOrders:  a.BuyOrders,
			SellOrders: a.SellOrders,
			BuyVolume:  history.Volume(a.BuyVolume, quoteDecimals),
			SellVolume: history.Volume(a.SellVolume, info.Decimals),
		}
		if err := m.d.History.Persist(pctx, info.Symbol, snap); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.d.Log.Warn("history persist failed", logx.Err(err))
	}
}

// PollStats is the payload of poll.completed events.
type PollStats struct {
	At         time.Time `json:"at"`
	Tracked    int       `json:"tracked"`
	Events     int       `json:"events"`
	Violations int       `json:"violations"`
}

// Health reports poll counters and the last fetch error, if any.
type Health struct {
	Polls     uint64 `json:"polls"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

func (m *Monitor) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Health{Polls: m.polls, Failures: m.failures}
	if m.lastErr != nil {
		h.LastError = m.lastErr.Error()
	}
	return h
}
