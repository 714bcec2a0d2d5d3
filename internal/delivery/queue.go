package delivery

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"dcawatch/internal/eventbus"
	rtsup "dcawatch/internal/runtime/supervisor"
	"dcawatch/internal/transport"
	"dcawatch/pkg/logx"
)

// Queue is safe for concurrent use. Exactly one drain goroutine consumes
// the pending list while the queue is running.
type Queue struct {
	log logx.Logger
	bus eventbus.Bus
	tx  transport.Transmitter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	cfg       Config
	pending   []*Message
	observers []func(Message)
	sup       *rtsup.Supervisor
	stopped   bool
	warned    bool
	stats     Stats

	// wake has capacity 1; a pending signal is enough to unpark the worker.
	wake chan struct{}

	// lastStart is owned by the drain goroutine.
	lastStart time.Time
}

type Option func(*Queue)

// WithClock replaces time.Now and the cancellable sleep. Tests use it to run
// the pacing logic on virtual time.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
		if sleep != nil {
			q.sleep = sleep
		}
	}
}

func New(cfg Config, tx transport.Transmitter, log logx.Logger, bus eventbus.Bus, opts ...Option) *Queue {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	q := &Queue{
		log:   log,
		bus:   bus,
		tx:    tx,
		now:   time.Now,
		sleep: sleepCtx,
		cfg:   cfg.withDefaults(),
		wake:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Apply swaps pacing settings; the worker picks them up before its next step.
func (q *Queue) Apply(cfg Config) {
	q.mu.Lock()
	q.cfg = cfg.withDefaults()
	q.mu.Unlock()
}

func (q *Queue) config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// OnMessage registers an observer for confirmed sends.
func (q *Queue) OnMessage(fn func(Message)) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.observers = append(q.observers, fn)
	q.mu.Unlock()
}

// Start launches the drain worker. Calling it on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	if q.sup != nil {
		q.mu.Unlock()
		return nil
	}
	q.sup = rtsup.New(ctx, rtsup.WithLogger(q.log))
	q.stats.Running = true
	sup := q.sup
	q.mu.Unlock()

	sup.GoRestart("delivery.drain", q.drain, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	q.signal()
	return nil
}

// Stop cancels the worker and waits for it, bounded by ctx. Messages still
// pending are logged and discarded.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	sup := q.sup
	q.sup = nil
	q.stopped = true
	q.stats.Running = false
	q.mu.Unlock()

	var err error
	if sup != nil {
		err = sup.Stop(ctx)
	}

	q.mu.Lock()
	left := len(q.pending)
	q.mu.Unlock()
	if left > 0 {
		q.log.Warn("delivery stopped with pending messages", logx.Int("pending", left))
	}
	return err
}

// Enqueue appends text to the tail and wakes the worker. It returns the
// message ID.
func (q *Queue) Enqueue(text string) string {
	m := &Message{ID: uuid.NewString(), Text: text, EnqueuedAt: q.now()}

	q.mu.Lock()
	q.pending = append(q.pending, m)
	n := len(q.pending)
	q.stats.Enqueued++
	warn := false
	if n > q.cfg.BacklogWarn && !q.warned {
		q.warned, warn = true, true
	} else if n <= q.cfg.BacklogWarn/2 {
		q.warned = false
	}
	stopped := q.stopped
	q.mu.Unlock()

	if warn {
		q.log.Warn("delivery backlog growing", logx.Int("pending", n))
	}
	if stopped {
		q.log.Debug("message queued after stop", logx.String("id", m.ID))
	}
	q.bus.Publish(eventbus.Event{Type: eventbus.DeliveryQueued, Time: m.EnqueuedAt, Data: Event{ID: m.ID, At: m.EnqueuedAt, Pending: n}})
	q.signal()
	return m.ID
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pending returns a copy of the messages waiting to be sent, head first.
func (q *Queue) Pending() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, 0, len(q.pending))
	for _, m := range q.pending {
		out = append(out, *m)
	}
	return out
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

func (q *Queue) popFront() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	m := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return m, true
}

func (q *Queue) pushFront(m *Message) {
	q.mu.Lock()
	q.pending = append([]*Message{m}, q.pending...)
	q.mu.Unlock()
}

func (q *Queue) pendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// drain is the single consumer. It parks on wake while the list is empty.
func (q *Queue) drain(ctx context.Context) error {
	for {
		m, ok := q.popFront()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		cfg := q.config()
		if !q.lastStart.IsZero() {
			if wait := cfg.MinInterval - q.now().Sub(q.lastStart); wait > 0 {
				if err := q.sleep(ctx, wait); err != nil {
					q.pushFront(m)
					return err
				}
			}
		}

		start := q.now()
		m.Attempts++
		err := q.transmit(ctx, cfg, m.Text)
		if err != nil && ctx.Err() != nil {
			// Shutdown interrupted the send; keep the message.
			q.pushFront(m)
			return ctx.Err()
		}

		if err == nil {
			q.lastStart = start
			m.SentAt = start
			q.onSent(*m)
			if err := q.sleep(ctx, cfg.MinInterval); err != nil {
				return err
			}
			continue
		}

		if hint, limited := transport.RetryAfter(err); limited {
			after := hint
			if after <= 0 {
				after = cfg.DefaultRetryAfter
			}
			m.RetryAfterHint = after
			q.pushFront(m)
			q.onRateLimited(*m, after, err)
			if err := q.sleep(ctx, after); err != nil {
				return err
			}
			continue
		}

		q.onDropped(*m, start, err)
	}
}

func (q *Queue) transmit(ctx context.Context, cfg Config, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("transmitter panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("transmitter panic: %v", r)
		}
	}()
	sendCtx := ctx
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	return q.tx.Transmit(sendCtx, text)
}

func (q *Queue) onSent(m Message) {
	q.mu.Lock()
	q.stats.Sent++
	q.stats.LastSentAt = m.SentAt
	obs := append(([]func(Message))(nil), q.observers...)
	q.mu.Unlock()

	for _, fn := range obs {
		q.notify(fn, m)
	}
	q.log.Debug("message sent", logx.String("id", m.ID), logx.Int("attempts", m.Attempts))
	q.bus.Publish(eventbus.Event{Type: eventbus.DeliverySent, Time: m.SentAt, Data: Event{ID: m.ID, At: m.SentAt, Pending: q.pendingLen(), Attempts: m.Attempts}})
}

func (q *Queue) notify(fn func(Message), m Message) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("message observer panicked", logx.String("id", m.ID), logx.Any("panic", r))
		}
	}()
	fn(m)
}

func (q *Queue) onRateLimited(m Message, after time.Duration, err error) {
	now := q.now()
	q.mu.Lock()
	q.stats.RateLimited++
	q.stats.BackoffUntil = now.Add(after)
	n := len(q.pending)
	q.mu.Unlock()

	q.log.Warn("delivery rate limited, backing off",
		logx.String("id", m.ID),
		logx.Duration("retry_after", after),
		logx.Int("pending", n),
		logx.Err(err),
	)
	q.bus.Publish(eventbus.Event{Type: eventbus.DeliveryRateLimited, Time: now, Data: Event{ID: m.ID, At: now, Pending: n, Attempts: m.Attempts, RetryAfter: after, Error: err.Error()}})
}

func (q *Queue) onDropped(m Message, at time.Time, err error) {
	q.mu.Lock()
	q.stats.Dropped++
	n := len(q.pending)
	q.mu.Unlock()

	status := transport.Status(err)
	q.log.Error("delivery failed, message dropped",
		logx.String("id", m.ID),
		logx.Int("status", status),
		logx.Time("at", at),
		logx.String("text", m.Text),
		logx.Err(err),
	)
	q.bus.Publish(eventbus.Event{Type: eventbus.DeliveryDropped, Time: at, Data: Event{ID: m.ID, At: at, Pending: n, Attempts: m.Attempts, Status: status, Error: err.Error()}})
}
