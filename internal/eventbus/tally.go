package eventbus

import (
	"context"
	"sync"
	"time"
)

// Tally counts events by type and remembers when each type was last seen.
// It backs the status endpoint.
type Tally struct {
	mu     sync.Mutex
	counts map[string]uint64
	last   map[string]time.Time
}

type TallyEntry struct {
	Count    uint64    `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

func NewTally() *Tally {
	return &Tally{counts: map[string]uint64{}, last: map[string]time.Time{}}
}

// Observe records a single event.
func (t *Tally) Observe(e Event) {
	t.mu.Lock()
	t.counts[e.Type]++
	if e.Time.After(t.last[e.Type]) {
		t.last[e.Type] = e.Time
	}
	t.mu.Unlock()
}

// Attach subscribes to bus immediately and returns the loop that drains
// the subscription. Events published between Attach and the loop starting
// are buffered, not lost.
func (t *Tally) Attach(bus Bus) func(ctx context.Context) {
	ch, unsub := bus.Subscribe(256)
	return func(ctx context.Context) {
		defer unsub()
		t.consume(ctx, ch)
	}
}

func (t *Tally) consume(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			t.Observe(e)
		}
	}
}

func (t *Tally) Snapshot() map[string]TallyEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TallyEntry, len(t.counts))
	for k, n := range t.counts {
		out[k] = TallyEntry{Count: n, LastSeen: t.last[k]}
	}
	return out
}
