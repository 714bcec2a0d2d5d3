// Package dashboard serves the read-only query surface: recent
// notifications, the latest summary, history points, tracked positions and
// runtime status, plus a websocket stream of delivered messages.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"dcawatch/internal/amount"
	"dcawatch/internal/asset"
	"dcawatch/internal/history"
	"dcawatch/internal/position"
	rtsup "dcawatch/internal/runtime/supervisor"
	"dcawatch/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	// RatePerSecond and Burst bound requests per client IP; 0 disables.
	RatePerSecond float64
	Burst         int
	// TrustProxy keys the limit on X-Forwarded-For or X-Real-IP. Set it
	// only behind a reverse proxy that overwrites those headers.
	TrustProxy bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

const DefaultAddr = "127.0.0.1:8080"

// StatusFunc returns the body of /api/status.
type StatusFunc func() any

type Deps struct {
	State   *State
	Hub     *Hub
	Tracker *position.Tracker
	History history.Store
	Assets  asset.Resolver
	Status  StatusFunc
	Log     logx.Logger
	Now     func() time.Time
}

type Server struct {
	cfg Config
	d   Deps
	lim *clientLimiter

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	sup  *rtsup.Supervisor
	addr string
}

func New(cfg Config, d Deps) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.State == nil {
		d.State = NewState(DefaultMessageCap)
	}
	if d.Hub == nil {
		d.Hub = NewHub(d.Log)
	}
	if d.Assets == nil {
		d.Assets = asset.NewRegistry()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.State.setOnRecord(d.Hub.Broadcast)

	s := &Server{cfg: cfg, d: d}
	if cfg.RatePerSecond > 0 {
		s.lim = newClientLimiter(cfg.RatePerSecond, cfg.Burst, cfg.TrustProxy, d.Now)
	}
	return s
}

// State returns the store the delivery queue and monitor write to.
func (s *Server) State() *State { return s.d.State }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/telegram-messages", s.handleMessages)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	api := rateLimit(s.lim, mux)
	root := http.NewServeMux()
	root.Handle("/", api)
	// The stream is long-lived; limiting applies to the upgrade only.
	root.Handle("GET /ws", rateLimit(s.lim, s.d.Hub.ServeWS(s.d.State.Messages)))
	return root
}

// Start binds the listener synchronously so address errors surface to the
// caller, then serves under a supervisor.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.d.Hub.reopen()
	sup := rtsup.New(ctx, rtsup.WithLogger(s.d.Log))
	s.srv, s.ln, s.sup = srv, ln, sup
	s.addr = ln.Addr().String()

	sup.Go("dashboard.serve", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.d.Log.Error("dashboard server exited", logx.Err(err))
			return err
		}
		return nil
	})
	s.d.Log.Info("dashboard started", logx.String("addr", s.addr))
	return nil
}

// Addr is the bound address, empty when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup, s.addr = nil, nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.d.Hub.Close()
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	if sup != nil {
		if werr := sup.Stop(ctx); err == nil && werr != nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	}
	s.d.Log.Info("dashboard stopped")
	return err
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.State.Messages())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum := s.d.State.Summary()
	if sum == nil {
		writeJSON(w, http.StatusOK, map[string]any{"summary": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":   sum.Text,
		"timestamp": sum.At,
		"assets":    s.summaryView(sum.Summary),
	})
}

type assetSummaryView struct {
	Asset      string `json:"asset"`
	Symbol     string `json:"symbol"`
	BuyOrders  int    `json:"buyOrders"`
	SellOrders int    `json:"sellOrders"`
	BuyVolume  string `json:"buyVolume,omitempty"`
	SellVolume string `json:"sellVolume"`
}

func (s *Server) summaryView(sum position.Summary) []assetSummaryView {
	out := make([]assetSummaryView, 0, len(sum.Assets))
	for _, a := range sum.Assets {
		info := s.d.Assets.Resolve(a.Asset.ID)
		v := assetSummaryView{
			Asset:      a.Asset.ID,
			Symbol:     info.Symbol,
			BuyOrders:  a.BuyOrders,
			SellOrders: a.SellOrders,
			SellVolume: amount.FormatUnits(a.SellVolume, info.Decimals),
		}
		if a.Asset.Quote != "" {
			v.BuyVolume = amount.FormatUnits(a.BuyVolume, s.d.Assets.Resolve(a.Asset.Quote).Decimals)
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sym := strings.TrimSpace(q.Get("asset"))
	if sym == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}
	period, err := history.ParsePeriod(q.Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.d.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	points, err := s.d.History.Load(r.Context(), sym, period)
	if err != nil {
		s.d.Log.Warn("history load failed", logx.String("asset", sym), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if points == nil {
		points = []history.Snapshot{}
	}
	writeJSON(w, http.StatusOK, points)
}

type positionView struct {
	Key            string `json:"key"`
	User           string `json:"user"`
	Asset          string `json:"asset"`
	Direction      string `json:"direction"`
	Input          string `json:"input"`
	Output         string `json:"output"`
	Remaining      string `json:"remaining"`
	AmountPerCycle string `json:"amountPerCycle"`
	CycleFrequency int64  `json:"cycleFrequency"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if s.d.Tracker == nil || s.d.Tracker.Tracked() == nil {
		writeJSON(w, http.StatusOK, []positionView{})
		return
	}
	entries := s.d.Tracker.Tracked().Entries()
	out := make([]positionView, 0, len(entries))
	for _, e := range entries {
		p := e.Position
		in := s.d.Assets.Resolve(p.InputAsset)
		outInfo := s.d.Assets.Resolve(p.OutputAsset)
		out = append(out, positionView{
			Key:            p.Key,
			User:           p.User,
			Asset:          s.d.Assets.Resolve(e.Classification.Asset.ID).Symbol,
			Direction:      e.Classification.Direction.String(),
			Input:          in.Symbol,
			Output:         outInfo.Symbol,
			Remaining:      amount.FormatUnits(p.Remaining(), in.Decimals),
			AmountPerCycle: amount.FormatUnits(p.AmountPerCycle, in.Decimals),
			CycleFrequency: p.CycleFrequency,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.d.Status == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.d.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
