// Package app wires the tracker, delivery queue, history store, dashboard
// and scheduler from one config file and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dcawatch/internal/asset"
	"dcawatch/internal/config"
	"dcawatch/internal/dashboard"
	"dcawatch/internal/delivery"
	"dcawatch/internal/eventbus"
	"dcawatch/internal/history"
	"dcawatch/internal/monitor"
	"dcawatch/internal/position"
	"dcawatch/internal/render"
	rtsup "dcawatch/internal/runtime/supervisor"
	"dcawatch/internal/schedule"
	"dcawatch/internal/source/rest"
	"dcawatch/internal/transport"
	"dcawatch/internal/transport/telegram"
	"dcawatch/pkg/logx"
)

const pollJob = "positions.poll"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	tally *eventbus.Tally
	store history.Store

	tx       transport.Transmitter
	queue    *delivery.Queue
	assets   *asset.Registry
	renderer *render.Renderer
	tracker  *position.Tracker
	mon      *monitor.Monitor
	dash     *dashboard.Server
	sched    *schedule.Runner

	startedAt time.Time
}

type Option func(*options)

type options struct {
	tx      transport.Transmitter
	source  position.Source
	history history.Store
	logOut  *logx.Logger
}

// WithTransmitter replaces the configured notification channel.
func WithTransmitter(tx transport.Transmitter) Option {
	return func(o *options) { o.tx = tx }
}

// WithSource replaces the configured snapshot source.
func WithSource(src position.Source) Option {
	return func(o *options) { o.source = src }
}

// WithHistory uses store instead of opening the configured driver. The app
// owns store from then on and closes it on Stop or on a failed New.
func WithHistory(store history.Store) Option {
	return func(o *options) { o.history = store }
}

// WithLogger routes logs to log instead of the configured sinks.
func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.logOut = &log }
}

func New(cfgPath string, opts ...Option) (_ *App, err error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var (
		logSvc *logx.Service
		root   logx.Logger
	)
	if o.logOut != nil {
		root = *o.logOut
	} else {
		logSvc, root = logx.New(mapLogConfig(cfg))
	}
	log := root.Component("app")
	comp := root.Component

	bus := eventbus.New()

	store := o.history
	if store == nil {
		hcfg, err := mapHistoryConfig(cfg)
		if err != nil {
			return nil, err
		}
		if store, err = history.Open(hcfg, comp("history")); err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		if store != nil {
			log.Info("history enabled", logx.String("driver", hcfg.Driver))
		}
	}
	defer func() {
		if err == nil {
			return
		}
		if store != nil {
			_ = store.Close()
		}
		if logSvc != nil {
			_ = logSvc.Close()
		}
	}()

	tx := o.tx
	if tx == nil {
		if cfg.Delivery.DryRun {
			tx = transport.LogTransmitter{Log: comp("dryrun")}
		} else {
			tcfg, err := mapTelegramConfig(cfg)
			if err != nil {
				return nil, err
			}
			ad, err := telegram.New(tcfg, comp("telegram"))
			if err != nil {
				return nil, err
			}
			tx = ad
		}
	}

	src := o.source
	if src == nil {
		scfg, err := mapSourceConfig(cfg)
		if err != nil {
			return nil, err
		}
		rc, err := rest.New(scfg)
		if err != nil {
			return nil, err
		}
		src = rc
	}

	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	queue := delivery.New(dcfg, tx, comp("delivery"), bus)

	assets := mapAssets(cfg)
	renderer := render.New(cfg.ExplorerURL, assets)
	interval, err := mapSummaryInterval(cfg)
	if err != nil {
		return nil, err
	}
	tracker := position.NewTracker(position.Config{
		Assets:           mapMonitored(cfg),
		SummaryInterval:  interval,
		AnnounceExisting: cfg.AnnounceExisting,
		Logger:           comp("tracker"),
	})

	dashCfg, err := mapDashboardConfig(cfg)
	if err != nil {
		return nil, err
	}
	state := dashboard.NewState(cfg.Dashboard.MessageCap)
	queue.OnMessage(state.Record)

	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(mcfg, monitor.Deps{
		Tracker:  tracker,
		Source:   src,
		Renderer: renderer,
		Assets:   assets,
		Queue:    queue,
		Summary:  state,
		History:  store,
		Bus:      bus,
		Log:      comp("monitor"),
	})

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		tally:    eventbus.NewTally(),
		store:    store,
		tx:       tx,
		queue:    queue,
		assets:   assets,
		renderer: renderer,
		tracker:  tracker,
		mon:      mon,
		sched:    schedule.New(comp("schedule"), loadLocation(cfg.Timezone)),
	}
	a.dash = dashboard.New(dashCfg, dashboard.Deps{
		State:   state,
		Tracker: tracker,
		History: store,
		Assets:  assets,
		Status:  a.Status,
		Log:     comp("dashboard"),
	})

	if err := a.sched.Add(schedule.Job{
		Name:       pollJob,
		Schedule:   cfg.Source.Schedule,
		RunAtStart: true,
		Fn:         mon.Poll,
	}); err != nil {
		return nil, err
	}
	cfgm.SetLogger(comp("config"))
	return a, nil
}

// Done is closed when the app context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Dashboard exposes the query server (its bound address is useful in tests).
func (a *App) Dashboard() *dashboard.Server { return a.dash }

// Start brings components up in dependency order: delivery, dashboard,
// scheduler. The startup notice is queued before the first poll runs.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.startedAt = time.Now()
	runCtx := a.sup.Context()

	tally := a.tally.Attach(a.bus)
	a.sup.Go("eventbus.tally", func(c context.Context) error {
		tally(c)
		return nil
	})

	if err := a.queue.Start(runCtx); err != nil {
		return fmt.Errorf("start delivery: %w", err)
	}
	if err := a.dash.Start(runCtx); err != nil {
		return fmt.Errorf("start dashboard: %w", err)
	}

	a.queue.Enqueue(a.renderer.Startup(a.tracker.Assets()))
	a.sched.Start(runCtx)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("monitored", len(a.tracker.Assets())),
		logx.String("dashboard", a.dash.Addr()),
	)
	return nil
}

// applyConfig applies the hot-reloadable sections and warns about the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	changed, attrs := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	a.log.Debug("config change summary", attrs...)

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(next))
	}
	if dcfg, err := mapDeliveryConfig(next); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else {
		a.queue.Apply(dcfg)
	}
	if iv, err := mapSummaryInterval(next); err != nil {
		a.log.Warn("invalid summary interval; keeping previous", logx.Err(err))
	} else {
		a.tracker.SetSummaryInterval(iv)
	}
	a.mon.SetNotifySummary(next.Summary.NotifySummary())

	if restart := config.NeedsRestart(changed); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strs("sections", restart))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Data: changed})
	a.log.Info("config reloaded", logx.Strs("changed", changed))
}

// Status is the body of /api/status.
type Status struct {
	StartedAt   time.Time                      `json:"started_at"`
	Uptime      string                         `json:"uptime"`
	Tracked     int                            `json:"tracked"`
	Queue       delivery.Stats                 `json:"queue"`
	Monitor     monitor.Health                 `json:"monitor"`
	Events      map[string]eventbus.TallyEntry `json:"events"`
	EventsLost  uint64                         `json:"events_dropped"`
	Schedule    []schedule.NextRun             `json:"schedule"`
	Goroutines  []rtsup.Stats                  `json:"goroutines"`
	SummaryEach string                         `json:"summary_interval"`
}

func (a *App) Status() any {
	s := Status{
		StartedAt:   a.startedAt,
		Tracked:     a.tracker.Tracked().Len(),
		Queue:       a.queue.Stats(),
		Monitor:     a.mon.Health(),
		Events:      a.tally.Snapshot(),
		EventsLost:  a.bus.Dropped(),
		Schedule:    a.sched.Next(),
		Goroutines:  a.sup.Snapshot(),
		SummaryEach: a.tracker.SummaryInterval().String(),
	}
	if !a.startedAt.IsZero() {
		s.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	return s
}

// Stop shuts components down in reverse start order. Each step is bounded
// so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 3*time.Second, a.sched.Stop)
	step("dashboard", 2*time.Second, a.dash.Stop)
	step("delivery", 2*time.Second, a.queue.Stop)
	step("supervisor", 2*time.Second, a.sup.Stop)
	step("history", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Int("pending_unsent", len(a.queue.Pending())))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
