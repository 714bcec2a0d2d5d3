// Package schedule runs periodic jobs on robfig/cron with overlap
// protection: a job that is still running when its next tick fires is
// skipped, so runs of one job never overlap.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dcawatch/pkg/logx"
)

// Job is one scheduled function.
type Job struct {
	Name     string
	Schedule string
	// Timeout bounds a single run; 0 means none.
	Timeout time.Duration
	// RunAtStart fires the job once as soon as the runner starts.
	RunAtStart bool
	Fn         func(ctx context.Context) error
}

type entry struct {
	job     Job
	wrapped cron.Job
	id      cron.EntryID
}

type Runner struct {
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func New(log logx.Logger, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	parser := cronParser
	cl := cronLogger{log: log}
	return &Runner{
		log:    log,
		parser: parser,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
		),
		entries: map[string]*entry{},
		ctx:     context.Background(),
	}
}

// Add registers a job. Names must be unique.
func (r *Runner) Add(j Job) error {
	if j.Fn == nil {
		return errors.New("schedule: job func is nil")
	}
	spec, err := Parse(j.Schedule)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", j.Name, err)
	}

	var sched cron.Schedule
	switch spec.Kind {
	case KindInterval:
		sched = cron.Every(spec.Every)
	default:
		if sched, err = r.parser.Parse(spec.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", j.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[j.Name]; dup {
		return fmt.Errorf("schedule %s: already registered", j.Name)
	}
	cl := cronLogger{log: r.log}
	e := &entry{job: j}
	// The same wrapped job serves ticks and RunAtStart, so both share one
	// overlap guard.
	e.wrapped = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { r.run(e.job) }))
	e.id = r.c.Schedule(sched, e.wrapped)
	r.entries[j.Name] = e
	return nil
}

func (r *Runner) run(j Job) {
	r.mu.Lock()
	base := r.ctx
	r.mu.Unlock()
	if base.Err() != nil {
		return
	}
	ctx := base
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, j.Timeout)
		defer cancel()
	}
	start := time.Now()
	if err := j.Fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Warn("scheduled job failed", logx.String("job", j.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	r.log.Trace("scheduled job done", logx.String("job", j.Name), logx.Duration("took", time.Since(start)))
}

// Start begins ticking. Jobs run with a context derived from ctx.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	var now []*entry
	for _, e := range r.entries {
		if e.job.RunAtStart {
			now = append(now, e)
		}
	}
	r.mu.Unlock()

	r.c.Start()
	for _, e := range now {
		e := e
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			e.wrapped.Run()
		}()
	}
}

// Stop cancels running jobs and waits for them, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := r.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun is the next planned time of a job.
type NextRun struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

func (r *Runner) Next() []NextRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NextRun, 0, len(r.entries))
	for name, e := range r.entries {
		ce := r.c.Entry(e.id)
		out = append(out, NextRun{Name: name, Next: ce.Next, Prev: ce.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
