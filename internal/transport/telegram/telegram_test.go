package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dcawatch/internal/transport"
	"dcawatch/pkg/logx"
)

type fakeBotAPI struct {
	mu    sync.Mutex
	texts []string
	// reply returns status and body for the n-th sendMessage call.
	reply func(n int) (int, string)
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/botTOKEN/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if got := fmt.Sprint(body["chat_id"]); got != "42" {
			t.Errorf("chat_id = %s", got)
		}
		f.mu.Lock()
		f.texts = append(f.texts, fmt.Sprint(body["text"]))
		n := len(f.texts)
		f.mu.Unlock()

		status, resp := http.StatusOK, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`
		if f.reply != nil {
			status, resp = f.reply(n)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}
}

func newTestAdapter(t *testing.T, api *fakeBotAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "TOKEN", ChatID: 42, APIURL: srv.URL, HTTPTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestTransmitSends(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)
	if err := a.Transmit(context.Background(), "hello"); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if len(api.texts) != 1 || api.texts[0] != "hello" {
		t.Fatalf("texts = %v", api.texts)
	}
}

func TestTransmitFloodIsRateLimited(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{reply: func(int) (int, string) {
		return http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`
	}}
	a := newTestAdapter(t, api)
	err := a.Transmit(context.Background(), "hello")
	d, ok := transport.RetryAfter(err)
	if !ok || d != 5*time.Second {
		t.Fatalf("err = %v, retry after = %v, %v", err, d, ok)
	}
}

func TestTransmitForbiddenIsRejected(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{reply: func(int) (int, string) {
		return http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	}}
	a := newTestAdapter(t, api)
	err := a.Transmit(context.Background(), "hello")
	var rj *transport.RejectedError
	if !errors.As(err, &rj) || rj.Status != 403 {
		t.Fatalf("err = %v", err)
	}
	if _, ok := transport.RetryAfter(err); ok {
		t.Fatalf("forbidden reported as rate limited")
	}
}

func TestTransmitSplitsLongText(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)
	line := strings.Repeat("x", 99) + "\n"
	if err := a.Transmit(context.Background(), strings.Repeat(line, 60)); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if len(api.texts) != 2 {
		t.Fatalf("chunks = %d", len(api.texts))
	}
}

func TestTransmitFloodAfterFirstChunkIsRejected(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{reply: func(n int) (int, string) {
		if n == 1 {
			return http.StatusOK, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`
		}
		return http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`
	}}
	a := newTestAdapter(t, api)
	line := strings.Repeat("x", 99) + "\n"
	err := a.Transmit(context.Background(), strings.Repeat(line, 60))
	if _, ok := transport.RetryAfter(err); ok {
		t.Fatalf("partial delivery reported as retryable: %v", err)
	}
	var rj *transport.RejectedError
	if !errors.As(err, &rj) || rj.Status != http.StatusTooManyRequests {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, ErrPartialDelivery) {
		t.Fatalf("err = %v, want ErrPartialDelivery", err)
	}
	if len(api.texts) != 2 {
		t.Fatalf("send attempts = %d", len(api.texts))
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatalf("empty token accepted")
	}
	if _, err := New(Config{Token: "t"}, logx.Nop()); err == nil {
		t.Fatalf("empty chat accepted")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %v", got)
	}

	got := splitText("aaaa\nbbbb\ncccc", 10, "")
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Fatalf("got %q", got)
	}

	html := "abcdefg <b>bold</b>"
	for _, chunk := range splitText(html, 10, "HTML") {
		if strings.Count(chunk, "<") != strings.Count(chunk, ">") {
			t.Fatalf("tag split across chunks: %q", chunk)
		}
	}
}
