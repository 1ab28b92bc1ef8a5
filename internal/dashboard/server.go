// Package dashboard serves a read-only HTTP view of positions, orders, and
// aggregate results. It never mutates state and never talks to the brokerage;
// everything it renders comes from storage.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_condor/internal/calendar"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/ranker"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// Config carries the server's listen and auth settings.
type Config struct {
	Port      int
	AuthToken string
}

// Deps wires a Server.
type Deps struct {
	Strangles *storage.StrangleRepo
	Condors   *storage.CondorRepo
	Orders    *storage.OrderRepo
	Pending   *storage.PendingSellCache
	Ranks     *ranker.Store
	Calendar  *calendar.Calendar
	Logger    *logrus.Logger
}

// Server is the read-only dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	strangles *storage.StrangleRepo
	condors   *storage.CondorRepo
	orders    *storage.OrderRepo
	pending   *storage.PendingSellCache
	ranks     *ranker.Store
	cal       *calendar.Calendar
	logger    *logrus.Logger
	port      int
	authToken string
}

// StrangleView is the JSON rendering of one strangle position.
type StrangleView struct {
	Ticker    string  `json:"ticker"`
	Expr      string  `json:"expr"`
	State     string  `json:"state"`
	Result    string  `json:"result,omitempty"`
	EjectAt   string  `json:"eject_at,omitempty"`
	Debit     float64 `json:"debit"`
	Credit    float64 `json:"credit"`
	PnL       float64 `json:"pnl"`
	SellCount int     `json:"sell_count"`
}

// CondorView is the JSON rendering of one condor position.
type CondorView struct {
	Ticker     string  `json:"ticker"`
	Expr       string  `json:"expr"`
	State      string  `json:"state"`
	Credit     float64 `json:"credit"`
	Collateral float64 `json:"collateral"`
	TargetExit float64 `json:"target_exit"`
	TotalLoss  bool    `json:"total_loss,omitempty"`
	PnL        float64 `json:"pnl"`
}

// Statistics aggregates closed results and open exposure.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AveragePnL    float64 `json:"average_pnl"`
	OpenStrangles int     `json:"open_strangles"`
	OpenCondors   int     `json:"open_condors"`
	MarketStatus  string  `json:"market_status"`
}

// NewServer creates a Server and mounts its routes.
func NewServer(cfg Config, d Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		strangles: d.Strangles,
		condors:   d.Condors,
		orders:    d.Orders,
		pending:   d.Pending,
		ranks:     d.Ranks,
		cal:       d.Calendar,
		logger:    d.Logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/strangles", s.handleStrangles)
	s.router.Get("/api/strangles/{ticker}/{expr}", s.handleStrangle)
	s.router.Get("/api/condors", s.handleCondors)
	s.router.Get("/api/pending", s.handlePending)
	s.router.Get("/api/report", s.handleReport)
	s.router.Get("/api/stats", s.handleStats)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	s.logger.Infof("starting dashboard on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router. Tests only.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStrangles(w http.ResponseWriter, r *http.Request) {
	state := models.StrangleState(r.URL.Query().Get("state"))
	if state == "" {
		state = models.StrangleActive
	}
	strangles, err := s.strangles.ByState(state)
	if err != nil {
		s.internalError(w, "loading strangles", err)
		return
	}
	views := make([]StrangleView, 0, len(strangles))
	for _, pos := range strangles {
		views = append(views, s.strangleView(r.Context(), pos))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleStrangle(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	expr := chi.URLParam(r, "expr")
	pos, found, err := s.strangles.Get(ticker, expr)
	if err != nil {
		s.internalError(w, "loading strangle", err)
		return
	}
	if !found {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.strangleView(r.Context(), pos))
}

func (s *Server) handleCondors(w http.ResponseWriter, r *http.Request) {
	state := models.CondorState(r.URL.Query().Get("state"))
	if state == "" {
		state = models.CondorSellConfirmed
	}
	condors, err := s.condors.ByState(state)
	if err != nil {
		s.internalError(w, "loading condors", err)
		return
	}
	views := make([]CondorView, 0, len(condors))
	for _, c := range condors {
		views = append(views, s.condorView(c))
	}
	s.writeJSON(w, views)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	entries, err := s.pending.All()
	if err != nil {
		s.internalError(w, "loading pending sells", err)
		return
	}
	s.writeJSON(w, entries)
}

// ReportView is the JSON rendering of one ranking run.
type ReportView struct {
	Expr     string             `json:"expr"`
	RankedAt string             `json:"ranked_at"`
	Symbols  []string           `json:"symbols"`
	Rows     []ranker.ReportRow `json:"rows"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("expr")
	if expr == "" {
		latest, ok, err := s.ranks.LatestExpr()
		if err != nil {
			s.internalError(w, "loading latest ranking", err)
			return
		}
		if !ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		expr = latest
	}
	ranking, ok, err := s.ranks.Ranking(expr)
	if err != nil {
		s.internalError(w, "loading ranking", err)
		return
	}
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	rows, _, err := s.ranks.Report(expr)
	if err != nil {
		s.internalError(w, "loading ranking report", err)
		return
	}
	s.writeJSON(w, ReportView{
		Expr:     ranking.Expr,
		RankedAt: ranking.RankedAt.Format(time.RFC3339),
		Symbols:  ranking.Symbols,
		Rows:     rows,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.statistics(r.Context())
	if err != nil {
		s.internalError(w, "computing statistics", err)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) strangleView(ctx context.Context, pos *models.Strangle) StrangleView {
	view := StrangleView{
		Ticker: pos.Ticker,
		Expr:   pos.Expr,
		State:  string(pos.State),
		Result: string(pos.Result),
	}
	view.Debit = s.premiumOf(pos.BuyCallOID) + s.premiumOf(pos.BuyPutOID)
	for _, side := range []models.OptionType{models.Call, models.Put} {
		oids, err := s.strangles.SellOIDs(pos, side)
		if err != nil {
			s.logger.WithError(err).Warnf("dashboard: sells of %s", pos.Key())
			continue
		}
		view.SellCount += len(oids)
		for _, oid := range oids {
			view.Credit += s.premiumOf(oid)
		}
	}
	view.PnL = view.Credit - view.Debit

	if pos.State == models.StrangleActive && pos.EjectSecToExpr > 0 {
		ejectAt, err := s.cal.TimeUntilExprFromMarketSeconds(ctx, pos.EjectSecToExpr, pos.Expr)
		if err != nil {
			s.logger.WithError(err).Warnf("dashboard: eject deadline of %s", pos.Key())
		} else {
			view.EjectAt = ejectAt.Format(time.RFC3339)
		}
	}
	return view
}

func (s *Server) condorView(c *models.Condor) CondorView {
	view := CondorView{
		Ticker:     c.Ticker,
		Expr:       c.Expr,
		State:      string(c.State),
		Credit:     c.Credit,
		Collateral: c.Collateral,
		TargetExit: c.TargetExitPrice(),
		TotalLoss:  c.TotalLoss,
	}
	if c.State == models.CondorClosed {
		view.PnL = s.condorPnL(c)
	}
	return view
}

// condorPnL mirrors the end-of-week arithmetic: collected premium minus the
// close debit, or minus the full collateral on a total loss.
func (s *Server) condorPnL(c *models.Condor) float64 {
	collected := s.premiumOf(c.OID)
	if c.TotalLoss {
		buy, ok, err := s.orders.Get(c.OID)
		if err != nil || !ok {
			return 0
		}
		return collected - c.Collateral*buy.ProcessedQuantity*100
	}
	if c.SellOID == "" {
		return collected
	}
	return collected - s.premiumOf(c.SellOID)
}

func (s *Server) premiumOf(oid string) float64 {
	if oid == "" {
		return 0
	}
	o, ok, err := s.orders.Get(oid)
	if err != nil || !ok {
		return 0
	}
	return o.ProcessedPremium
}

func (s *Server) statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{}

	closedStrangles, err := s.strangles.ByState(models.StrangleClosed)
	if err != nil {
		return nil, err
	}
	for _, pos := range closedStrangles {
		view := s.strangleView(ctx, pos)
		stats.tally(view.PnL)
	}

	closedCondors, err := s.condors.ByState(models.CondorClosed)
	if err != nil {
		return nil, err
	}
	for _, c := range closedCondors {
		stats.tally(s.condorPnL(c))
	}

	active, err := s.strangles.ByState(models.StrangleActive)
	if err != nil {
		return nil, err
	}
	stats.OpenStrangles = len(active)
	for _, state := range []models.CondorState{models.CondorBuyFilled, models.CondorSellConfirmed} {
		condors, err := s.condors.ByState(state)
		if err != nil {
			return nil, err
		}
		stats.OpenCondors += len(condors)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
		stats.AveragePnL = stats.TotalPnL / float64(stats.TotalTrades)
	}

	stats.MarketStatus = "closed"
	open, err := s.cal.IsOpenNow(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("dashboard: market status")
	} else if open {
		stats.MarketStatus = "open"
	}
	return stats, nil
}

func (st *Statistics) tally(pnl float64) {
	st.TotalTrades++
	if pnl > 0 {
		st.WinningTrades++
	} else {
		st.LosingTrades++
	}
	st.TotalPnL += pnl
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("dashboard: encoding response")
	}
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.WithError(err).Errorf("dashboard: %s", what)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
