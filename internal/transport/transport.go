// Package transport defines the outbound notification channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dcawatch/pkg/logx"
)

// Transmitter delivers one notification. A nil error means the provider
// accepted the message.
type Transmitter interface {
	Transmit(ctx context.Context, text string) error
}

type TransmitterFunc func(ctx context.Context, text string) error

func (f TransmitterFunc) Transmit(ctx context.Context, text string) error { return f(ctx, text) }

// RateLimitedError means the provider asked us to back off.
// A zero RetryAfter means the provider gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// RateLimited wraps err with a retry-after hint.
func RateLimited(err error, after time.Duration) error {
	if after < 0 {
		after = 0
	}
	return &RateLimitedError{RetryAfter: after, Err: err}
}

// RetryAfter reports whether err is a rate-limit signal and its hint.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// RejectedError is a non-retryable provider failure. Status is the
// provider's status code when known.
type RejectedError struct {
	Status int
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("rejected: %v", e.Err)
	}
	return fmt.Sprintf("rejected (status %d): %v", e.Status, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Status extracts the provider status code from err, or 0.
func Status(err error) int {
	var rj *RejectedError
	if errors.As(err, &rj) {
		return rj.Status
	}
	return 0
}

// LogTransmitter only logs messages. It stands in for a real channel when
// no credentials are configured.
type LogTransmitter struct {
	Log logx.Logger
}

func (t LogTransmitter) Transmit(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Log.Info("dry-run notification", logx.String("text", text))
	return nil
}
