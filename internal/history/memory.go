package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memStore struct {
	cfg Config

	mu     sync.Mutex
	data   map[string][]Snapshot
	closed bool
}

func newMemStore(cfg Config) *memStore {
	return &memStore{cfg: cfg, data: map[string][]Snapshot{}}
}

func (s *memStore) Persist(ctx context.Context, asset string, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.appendLocked(asset, snap)
	return nil
}

// appendLocked adds snap and drops every entry of every asset that fell out
// of the retention window.
func (s *memStore) appendLocked(asset string, snap Snapshot) {
	if snap.At.IsZero() {
		snap.At = s.cfg.Now()
	}
	s.data[asset] = append(s.data[asset], snap)
	cutoff := s.cfg.Now().Add(-s.cfg.Retention)
	for k, list := range s.data {
		s.data[k] = pruneBefore(list, cutoff)
	}
}

func pruneBefore(list []Snapshot, cutoff time.Time) []Snapshot {
	out := list[:0]
	for _, e := range list {
		if e.At.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) Load(ctx context.Context, asset string, p Period) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.loadLocked(asset, p), nil
}

func (s *memStore) loadLocked(asset string, p Period) []Snapshot {
	cutoff := s.cfg.Now().Add(-p.Window())
	out := make([]Snapshot, 0, len(s.data[asset]))
	for _, e := range s.data[asset] {
		if e.At.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
