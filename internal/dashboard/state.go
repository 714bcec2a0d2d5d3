package dashboard

import (
	"sync"
	"sync/atomic"
	"time"

	"dcawatch/internal/delivery"
	"dcawatch/internal/position"
)

const DefaultMessageCap = 50

// SentMessage is a delivered notification as the dashboard shows it.
type SentMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// LatestSummary is the last rendered summary.
type LatestSummary struct {
	Text    string           `json:"text"`
	At      time.Time        `json:"timestamp"`
	Summary position.Summary `json:"-"`
}

// State is the read side fed by the delivery queue and the monitor.
// Messages live in a fixed ring; older entries are overwritten.
type State struct {
	mu    sync.RWMutex
	ring  []SentMessage
	next  int
	count int

	summary atomic.Pointer[LatestSummary]

	// onRecord is invoked after a message is stored (live stream).
	onRecord func(SentMessage)
}

func NewState(capacity int) *State {
	if capacity <= 0 {
		capacity = DefaultMessageCap
	}
	return &State{ring: make([]SentMessage, capacity)}
}

// Record stores a delivered message. It matches delivery.Queue.OnMessage.
func (s *State) Record(m delivery.Message) {
	at := m.SentAt
	if at.IsZero() {
		at = time.Now()
	}
	sm := SentMessage{ID: m.ID, Text: m.Text, Timestamp: at}

	s.mu.Lock()
	s.ring[s.next] = sm
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	fn := s.onRecord
	s.mu.Unlock()

	if fn != nil {
		fn(sm)
	}
}

// Messages returns the stored messages, newest first.
func (s *State) Messages() []SentMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SentMessage, 0, s.count)
	for i := 1; i <= s.count; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out
}

// SetSummary implements monitor.SummarySink.
func (s *State) SetSummary(text string, sum position.Summary) {
	at := sum.At
	if at.IsZero() {
		at = time.Now()
	}
	s.summary.Store(&LatestSummary{Text: text, At: at, Summary: sum})
}

// Summary returns the latest summary or nil before the first one.
func (s *State) Summary() *LatestSummary { return s.summary.Load() }

func (s *State) setOnRecord(fn func(SentMessage)) {
	s.mu.Lock()
	s.onRecord = fn
	s.mu.Unlock()
}
