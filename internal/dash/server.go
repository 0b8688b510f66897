package dash

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cross-arb-bot/internal/strategy"

	"go.uber.org/zap"
)

// Status is the operator-facing engine summary. Blocked carries the
// reason trading is gated off; an empty Blocked with an empty opportunity
// list means the market simply has no edge right now.
type Status struct {
	Running       bool               `json:"running"`
	Paused        bool               `json:"paused"`
	Blocked       string             `json:"blocked,omitempty"`
	EquityUSD     float64            `json:"equity_usd"`
	AllocationUSD float64            `json:"allocation_usd"`
	DailyPnLUSD   float64            `json:"daily_pnl_usd"`
	TotalPnLUSD   float64            `json:"total_pnl_usd"`
	Trades        int                `json:"trades"`
	Wins          int                `json:"wins"`
	OpenPositions int                `json:"open_positions"`
	Pairs         int                `json:"pairs"`
	Balances      map[string]float64 `json:"balances"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Engine is what the control surface needs from the running bot.
type Engine interface {
	Status() Status
	Opportunities() []strategy.Opportunity
	Pause(reason string)
	Resume()
	Stop()
}

type Server struct {
	engine  Engine
	metrics http.Handler
	log     *zap.Logger
	http    *http.Server
}

func NewServer(addr string, engine Engine, metrics http.Handler, log *zap.Logger) *Server {
	s := &Server{engine: engine, metrics: metrics, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/opportunities", s.handleOpportunities)
	mux.HandleFunc("/api/control", s.handleControl)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context ends, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<html><body><h3>cross-arb-bot</h3><ul>
<li><a href="/api/status">/api/status</a></li>
<li><a href="/api/opportunities">/api/opportunities</a></li>
<li>POST /api/control {"action": "pause"|"resume"|"stop"}</li>
<li><a href="/metrics">/metrics</a></li>
</ul></body></html>`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.engine.Status())
}

type oppJSON struct {
	Base       string    `json:"base"`
	BuyVenue   string    `json:"buy_venue"`
	SellVenue  string    `json:"sell_venue"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	RawSpread  float64   `json:"raw_spread"`
	Threshold  float64   `json:"threshold"`
	NetEdge    float64   `json:"net_edge"`
	Detected   time.Time `json:"detected"`
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	opps := s.engine.Opportunities()
	out := make([]oppJSON, 0, len(opps))
	for _, opp := range opps {
		out = append(out, oppJSON{
			Base:       opp.Pair.Base,
			BuyVenue:   opp.BuyVenue,
			SellVenue:  opp.SellVenue,
			EntryPrice: opp.EntryPrice,
			ExitPrice:  opp.ExitPrice,
			RawSpread:  opp.RawSpread,
			Threshold:  opp.Threshold,
			NetEdge:    opp.NetEdge,
			Detected:   opp.Detected,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	switch req.Action {
	case "pause":
		s.engine.Pause("operator")
	case "resume":
		s.engine.Resume()
	case "stop":
		s.engine.Stop()
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	s.log.Info("operator control", zap.String("action", req.Action))
	writeJSON(w, map[string]string{"result": "ok", "action": req.Action})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
