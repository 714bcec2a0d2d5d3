package delivery

import (
	"errors"
	"time"
)

var ErrStopped = errors.New("delivery queue stopped")

// Config controls pacing and backoff.
type Config struct {
	MinInterval       time.Duration
	DefaultRetryAfter time.Duration
	// SendTimeout bounds one Transmit call; 0 means no timeout.
	SendTimeout time.Duration
	// BacklogWarn logs a warning when the pending list grows past it.
	BacklogWarn int
}

const (
	DefaultMinInterval = time.Second
	DefaultRetryAfter  = 30 * time.Second
	DefaultBacklogWarn = 100
)

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = DefaultRetryAfter
	}
	if c.SendTimeout < 0 {
		c.SendTimeout = 0
	}
	if c.BacklogWarn <= 0 {
		c.BacklogWarn = DefaultBacklogWarn
	}
	return c
}

// Message is one queued notification.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	SentAt     time.Time `json:"sent_at,omitempty"`
	Attempts   int       `json:"attempts"`
	// RetryAfterHint is the last backoff the provider asked for.
	RetryAfterHint time.Duration `json:"retry_after_hint,omitempty"`
}

// Event is the payload of delivery.* bus events.
type Event struct {
	ID         string        `json:"id"`
	At         time.Time     `json:"at"`
	Pending    int           `json:"pending"`
	Attempts   int           `json:"attempts,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Status     int           `json:"status,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type Stats struct {
	Pending      int       `json:"pending"`
	Running      bool      `json:"running"`
	Enqueued     uint64    `json:"enqueued"`
	Sent         uint64    `json:"sent"`
	Dropped      uint64    `json:"dropped"`
	RateLimited  uint64    `json:"rate_limited"`
	LastSentAt   time.Time `json:"last_sent_at,omitempty"`
	BackoffUntil time.Time `json:"backoff_until,omitempty"`
}
