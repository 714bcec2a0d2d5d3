// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"dcawatch/internal/transport"
	"dcawatch/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
	// ThreadID targets a forum topic; 0 posts to the main chat.
	ThreadID       int
	ParseMode      string
	DisablePreview bool
	// APIURL overrides the Bot API endpoint.
	APIURL string
	// HTTPTimeout bounds each Bot API request; 0 keeps telebot's default.
	HTTPTimeout time.Duration
}

// Adapter sends text messages to a single chat.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	chat *tele.Chat
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tele.ModeHTML
	}
	settings := tele.Settings{
		Token: cfg.Token,
		URL:   cfg.APIURL,
		// Send-only: no getMe on start, no update polling.
		Offline: true,
	}
	if cfg.HTTPTimeout > 0 {
		settings.Client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b, chat: &tele.Chat{ID: cfg.ChatID}}, nil
}

// ErrPartialDelivery wraps failures after at least one chunk went out.
var ErrPartialDelivery = errors.New("message partially delivered")

// Transmit sends text, splitting messages over the Bot API size limit.
// Flood control is reported as *transport.RateLimitedError, other API
// failures as *transport.RejectedError. Once a chunk has been sent every
// failure is a *transport.RejectedError wrapping ErrPartialDelivery, so the
// queue never resends chunks the chat already has.
func (a *Adapter) Transmit(ctx context.Context, text string) error {
	chunks := splitText(text, textLimit, a.cfg.ParseMode)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := a.bot.Send(a.chat, chunk, &tele.SendOptions{
			ParseMode:             a.cfg.ParseMode,
			DisableWebPagePreview: a.cfg.DisablePreview,
			ThreadID:              a.cfg.ThreadID,
		})
		if err != nil {
			if i > 0 {
				a.log.Warn("message partially delivered", logx.Int("chunk", i), logx.Int("chunks", len(chunks)), logx.Err(err))
				cls := classify(err)
				status := transport.Status(cls)
				if _, ok := transport.RetryAfter(cls); ok {
					status = http.StatusTooManyRequests
				}
				return &transport.RejectedError{
					Status: status,
					Err:    fmt.Errorf("%w: chunk %d of %d: %w", ErrPartialDelivery, i+1, len(chunks), err),
				}
			}
			return classify(err)
		}
	}
	return nil
}

var (
	retryAfterRe = regexp.MustCompile(`retry after (\d+)`)
	statusRe     = regexp.MustCompile(`\((\d{3})\)\s*$`)
)

func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.RateLimited(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return transport.RateLimited(err, time.Duration(floodPtr.RetryAfter)*time.Second)
	}

	status := 0
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		status = apiErr.Code
	} else if m := statusRe.FindStringSubmatch(err.Error()); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	if status == http.StatusTooManyRequests {
		var after time.Duration
		if m := retryAfterRe.FindStringSubmatch(err.Error()); m != nil {
			n, _ := strconv.Atoi(m[1])
			after = time.Duration(n) * time.Second
		}
		return transport.RateLimited(err, after)
	}
	return &transport.RejectedError{Status: status, Err: err}
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes. It prefers newline
// boundaries and, for HTML, avoids cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
