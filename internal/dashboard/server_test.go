package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"dcawatch/internal/asset"
	"dcawatch/internal/delivery"
	"dcawatch/internal/history"
	"dcawatch/internal/position"
)

func TestStateRingNewestFirstAndCapped(t *testing.T) {
	st := NewState(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		st.Record(delivery.Message{ID: fmt.Sprint(i), Text: fmt.Sprintf("m%d", i), SentAt: base.Add(time.Duration(i) * time.Second)})
	}
	got := st.Messages()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"m4", "m3", "m2"} {
		if got[i].Text != want {
			t.Fatalf("messages[%d] = %q, want %q", i, got[i].Text, want)
		}
	}
}

func TestStateSummary(t *testing.T) {
	st := NewState(0)
	if st.Summary() != nil {
		t.Fatalf("summary before first set should be nil")
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st.SetSummary("📊 DCA Summary", position.Summary{At: at})
	got := st.Summary()
	if got == nil || got.Text != "📊 DCA Summary" || !got.At.Equal(at) {
		t.Fatalf("summary = %+v", got)
	}
}

type fakeHistory struct {
	points map[string][]history.Snapshot
}

func (f *fakeHistory) Persist(context.Context, string, history.Snapshot) error { return nil }
func (f *fakeHistory) Load(_ context.Context, a string, _ history.Period) ([]history.Snapshot, error) {
	return f.points[a], nil
}
func (f *fakeHistory) Close() error { return nil }

func newTestServer(t *testing.T, d Deps, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, d)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestMessagesAndSummaryEndpoints(t *testing.T) {
	st := NewState(50)
	s, ts := newTestServer(t, Deps{State: st}, Config{})

	var empty map[string]any
	if code := getJSON(t, ts.URL+"/api/summary", &empty); code != http.StatusOK || empty["summary"] != nil {
		t.Fatalf("empty summary: code=%d body=%v", code, empty)
	}

	for i := 0; i < 60; i++ {
		s.State().Record(delivery.Message{ID: fmt.Sprint(i), Text: fmt.Sprintf("m%d", i), SentAt: time.Unix(int64(i), 0)})
	}
	st.SetSummary("sum text", position.Summary{At: time.Unix(100, 0)})

	var msgs []SentMessage
	if code := getJSON(t, ts.URL+"/api/telegram-messages", &msgs); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(msgs) != 50 || msgs[0].Text != "m59" || msgs[49].Text != "m10" {
		t.Fatalf("messages = %d first=%q last=%q", len(msgs), msgs[0].Text, msgs[len(msgs)-1].Text)
	}

	var sum map[string]any
	getJSON(t, ts.URL+"/api/summary", &sum)
	if sum["summary"] != "sum text" {
		t.Fatalf("summary = %v", sum["summary"])
	}
}

func TestSummaryAssetsUseQuoteDecimals(t *testing.T) {
	reg := asset.NewRegistry(
		asset.Entry{ID: "LOGOSmint", Symbol: "LOGOS", Decimals: 6},
		asset.Entry{ID: "SOLmint", Symbol: "SOL", Decimals: 9},
	)
	st := NewState(0)
	_, ts := newTestServer(t, Deps{State: st, Assets: reg}, Config{})
	st.SetSummary("sum", position.Summary{At: time.Unix(1, 0), Assets: []position.AssetSummary{
		{
			Asset:      position.MonitoredAsset{ID: "LOGOSmint", Quote: "SOLmint"},
			BuyOrders:  1,
			BuyVolume:  big.NewInt(1_500_000_000),
			SellVolume: big.NewInt(2_000_000),
		},
		{
			Asset:      position.MonitoredAsset{ID: "SOLmint"},
			BuyOrders:  3,
			BuyVolume:  new(big.Int),
			SellVolume: new(big.Int),
		},
	}})

	var body struct {
		Assets []map[string]any `json:"assets"`
	}
	getJSON(t, ts.URL+"/api/summary", &body)
	if len(body.Assets) != 2 {
		t.Fatalf("assets = %v", body.Assets)
	}
	if body.Assets[0]["buyVolume"] != "1.5" || body.Assets[0]["sellVolume"] != "2" {
		t.Fatalf("quoted asset = %v", body.Assets[0])
	}
	if _, ok := body.Assets[1]["buyVolume"]; ok {
		t.Fatalf("unquoted asset reports buy volume: %v", body.Assets[1])
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h := &fakeHistory{points: map[string][]history.Snapshot{
		"LOGOS": {{At: time.Unix(10, 0), BuyOrders: 2, BuyVolume: decimal.RequireFromString("1.5"), SellVolume: decimal.Zero}},
	}}
	_, ts := newTestServer(t, Deps{History: h}, Config{})

	var pts []map[string]any
	if code := getJSON(t, ts.URL+"/api/history?asset=LOGOS&period=weekly", &pts); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(pts) != 1 || pts[0]["buyOrders"].(float64) != 2 || pts[0]["buyVolume"] != "1.5" {
		t.Fatalf("points = %v", pts)
	}

	if code := getJSON(t, ts.URL+"/api/history?asset=LOGOS&period=monthly", nil); code != http.StatusBadRequest {
		t.Fatalf("unknown period status = %d", code)
	}
	if code := getJSON(t, ts.URL+"/api/history", nil); code != http.StatusBadRequest {
		t.Fatalf("missing asset status = %d", code)
	}

	var none []any
	if code := getJSON(t, ts.URL+"/api/history?asset=CHAOS", &none); code != http.StatusOK || len(none) != 0 {
		t.Fatalf("unknown asset: code=%d body=%v", code, none)
	}
}

func TestHistoryDisabled(t *testing.T) {
	_, ts := newTestServer(t, Deps{}, Config{})
	if code := getJSON(t, ts.URL+"/api/history?asset=LOGOS", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", code)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	reg := asset.NewRegistry(
		asset.Entry{ID: "LOGOSmint", Symbol: "LOGOS", Decimals: 9},
		asset.Entry{ID: "USDCmint", Symbol: "USDC", Decimals: 6},
	)
	tr := position.NewTracker(position.Config{
		Assets:           []position.MonitoredAsset{{ID: "LOGOSmint", Detailed: true, Quote: "USDCmint"}},
		AnnounceExisting: true,
	})
	tr.Apply(time.Unix(0, 0), []position.RawRecord{{
		Key: "pos1", User: "u", InputAsset: "USDCmint", OutputAsset: "LOGOSmint",
		Deposited: "5000000", Withdrawn: "1000000", AmountPerCycle: "500000", CycleFrequency: "60",
	}})
	_, ts := newTestServer(t, Deps{Tracker: tr, Assets: reg}, Config{})

	var got []positionView
	getJSON(t, ts.URL+"/api/positions", &got)
	if len(got) != 1 {
		t.Fatalf("positions = %v", got)
	}
	p := got[0]
	if p.Asset != "LOGOS" || p.Direction != "buy" || p.Input != "USDC" || p.Remaining != "4" || p.AmountPerCycle != "0.5" {
		t.Fatalf("position = %+v", p)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Deps{Status: func() any { return map[string]int{"pending": 3} }}, Config{})
	var got map[string]int
	getJSON(t, ts.URL+"/api/status", &got)
	if got["pending"] != 3 {
		t.Fatalf("status = %v", got)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	now := time.Unix(1000, 0)
	_, ts := newTestServer(t, Deps{Now: func() time.Time { return now }}, Config{RatePerSecond: 1, Burst: 2, TrustProxy: true})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, getJSON(t, ts.URL+"/api/telegram-messages", nil))
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/telegram-messages", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("other client status = %d", resp.StatusCode)
	}
}

func TestRateLimitIgnoresForwardedHeadersByDefault(t *testing.T) {
	now := time.Unix(1000, 0)
	_, ts := newTestServer(t, Deps{Now: func() time.Time { return now }}, Config{RatePerSecond: 1, Burst: 1})

	var last int
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/telegram-messages", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("rotated forwarding headers status = %d", last)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5000"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(r, false); got != "192.0.2.1" {
		t.Fatalf("untrusted = %q", got)
	}
	if got := clientIP(r, true); got != "203.0.113.7" {
		t.Fatalf("trusted = %q", got)
	}
	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "203.0.113.8")
	if got := clientIP(r, true); got != "203.0.113.8" {
		t.Fatalf("real ip = %q", got)
	}
}

func TestWebsocketStreamsDeliveredMessages(t *testing.T) {
	st := NewState(10)
	st.Record(delivery.Message{ID: "old", Text: "earlier", SentAt: time.Unix(1, 0)})
	s, ts := newTestServer(t, Deps{State: st}, Config{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type    string        `json:"type"`
		Payload []SentMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if first.Type != "history" || len(first.Payload) != 1 || first.Payload[0].Text != "earlier" {
		t.Fatalf("history frame = %+v", first)
	}

	// The client registers before the history frame is queued.
	s.State().Record(delivery.Message{ID: "new", Text: "fresh", SentAt: time.Unix(2, 0)})

	var live struct {
		Type    string      `json:"type"`
		Payload SentMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if live.Type != "message" || live.Payload.Text != "fresh" {
		t.Fatalf("live frame = %+v", live)
	}
}

func TestServerStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatalf("no bound address")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("addr after stop = %q", s.Addr())
	}
}

func TestDisabledServerDoesNotListen(t *testing.T) {
	s := New(Config{Enabled: false}, Deps{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("disabled server bound %q", s.Addr())
	}
}
