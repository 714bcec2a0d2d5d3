// Package rest fetches position snapshots from an HTTP JSON endpoint.
//
// The endpoint returns the complete current set on every call, either as a
// JSON array or as {"positions": [...]}. Each element is flat
// ({"publicKey": ..., "inputMint": ...}) or nested the way program account
// listings are ({"publicKey": ..., "account": {"inputMint": ...}}).
// Amounts may be JSON strings or integer numbers.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dcawatch/internal/position"
)

type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// MaxBytes caps the response body; 0 means 64 MiB.
	MaxBytes int64
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rest: url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rest: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rest: unsupported url scheme %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// FetchSnapshot implements position.Source.
func (c *Client) FetchSnapshot(ctx context.Context) ([]position.RawRecord, error) {
	body, err := c.doGet(ctx)
	if err != nil {
		return nil, fmt.Errorf("rest: get snapshot: %w", err)
	}
	recs, err := Decode(body)
	if err != nil {
		return nil, fmt.Errorf("rest: decode snapshot: %w", err)
	}
	return recs, nil
}

func (c *Client) doGet(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

// Decode parses a snapshot document.
func Decode(body []byte) ([]position.RawRecord, error) {
	body = bytes.TrimSpace(body)
	var items []wireRecord
	switch {
	case len(body) == 0:
		return nil, errors.New("empty body")
	case body[0] == '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
	default:
		var env struct {
			Positions *[]wireRecord `json:"positions"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		if env.Positions == nil {
			return nil, errors.New(`missing "positions"`)
		}
		items = *env.Positions
	}

	out := make([]position.RawRecord, 0, len(items))
	for _, it := range items {
		out = append(out, it.raw())
	}
	return out, nil
}

type wireAccount struct {
	User           string   `json:"user"`
	InputMint      string   `json:"inputMint"`
	OutputMint     string   `json:"outputMint"`
	InDeposited    quantity `json:"inDeposited"`
	InWithdrawn    quantity `json:"inWithdrawn"`
	InAmountPerCyc quantity `json:"inAmountPerCycle"`
	CycleFrequency quantity `json:"cycleFrequency"`
}

type wireRecord struct {
	PublicKey string `json:"publicKey"`
	wireAccount
	Account *wireAccount `json:"account"`
}

func (w wireRecord) raw() position.RawRecord {
	a := w.wireAccount
	if w.Account != nil {
		a = *w.Account
	}
	return position.RawRecord{
		Key:            w.PublicKey,
		User:           a.User,
		InputAsset:     a.InputMint,
		OutputAsset:    a.OutputMint,
		Deposited:      string(a.InDeposited),
		Withdrawn:      string(a.InWithdrawn),
		AmountPerCycle: string(a.InAmountPerCyc),
		CycleFrequency: string(a.CycleFrequency),
	}
}

// quantity accepts "123" or 123 and keeps the digits verbatim so large
// values never pass through float64. Validation happens in position.Parse.
type quantity string

func (q *quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*q = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = quantity(s)
		return nil
	}
	*q = quantity(b)
	return nil
}
