package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/app/exchange"
	"github.com/uhyunpark/roundmarket/pkg/events"
	"github.com/uhyunpark/roundmarket/pkg/metrics"
	"github.com/uhyunpark/roundmarket/pkg/storage"
	"github.com/uhyunpark/roundmarket/pkg/util"
)

const (
	maxTxBytes   = 64 << 10
	defaultLimit = 50
	maxLimit     = 500
)

// History is the persisted event and transaction log.
type History interface {
	Events(after uint64, limit int) ([]events.Event, error)
	RecentEvents(limit int) ([]events.Event, error)
	Txs(after uint64, limit int) ([]storage.TxRecord, error)
}

// Config controls the optional parts of the API.
type Config struct {
	AllowedOrigins []string
	EnableFaucet   bool
	FaucetLimit    *uint256.Int // per request; nil means no limit

	// Hub fans events out to WebSocket clients. Wire it into the market's sinks
	// before the market is built; nil creates an unwired one.
	Hub *Hub
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *exchange.App
	market  *market.Market
	history History
	metrics *metrics.Metrics
	clock   util.Clock
	cfg     Config
	log     *zap.SugaredLogger

	router *mux.Router
	hub    *Hub // WebSocket hub
}

// NewServer creates a new API server. history and mets may be nil.
func NewServer(app *exchange.App, history History, mets *metrics.Metrics, clock util.Clock, cfg Config, log *zap.SugaredLogger) *Server {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		app:     app,
		market:  app.Market(),
		history: history,
		metrics: mets,
		clock:   clock,
		cfg:     cfg,
		log:     log,
		router:  mux.NewRouter(),
		hub:     hub,
	}

	s.setupRoutes()
	return s
}

// Hub is the event sink feeding WebSocket clients.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.Use(requestID)
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market and rounds
	api.HandleFunc("/market", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/rounds", s.handleGetRounds).Methods("GET")
	api.HandleFunc("/rounds/current", s.handleGetCurrentRound).Methods("GET")
	api.HandleFunc("/rounds/{id:[0-9]+}", s.handleGetRound).Methods("GET")
	api.HandleFunc("/rounds/{id:[0-9]+}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/rounds/{id:[0-9]+}/orders/{orderId:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/rounds/{id:[0-9]+}/offers", s.handleGetOffers).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	// History
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/txs", s.handleGetTxs).Methods("GET")

	// Submission
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	// Start WebSocket hub
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infow("api_listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		s.log.Infow("api_stopped")
		return nil
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	st := s.market.Status()
	respondJSON(w, toMarketInfo(st, toRoundInfo(st.Current, st.UnitScale, s.clock.Now())))
}

func (s *Server) handleGetRounds(w http.ResponseWriter, r *http.Request) {
	scale, now := s.market.UnitScale(), s.clock.Now()
	rounds := s.market.Rounds()
	response := make([]*RoundInfo, len(rounds))
	for i, rd := range rounds {
		response[i] = toRoundInfo(rd, scale, now)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetCurrentRound(w http.ResponseWriter, r *http.Request) {
	cur, err := s.market.CurrentRound()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, toRoundInfo(cur, s.market.UnitScale(), s.clock.Now()))
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	rd, ok := s.market.Round(id)
	if !ok {
		respondError(w, http.StatusNotFound, "round_not_found", "no round "+mux.Vars(r)["id"])
		return
	}
	respondJSON(w, toRoundInfo(rd, s.market.UnitScale(), s.clock.Now()))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	orders := s.market.Orders(id)
	if r.URL.Query().Get("open") == "true" {
		orders = s.market.OpenOrders(id)
	}
	scale := s.market.UnitScale()
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = toOrderInfo(o, scale)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roundID, _ := strconv.ParseUint(vars["id"], 10, 64)
	orderID, err := strconv.ParseUint(vars["orderId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", err.Error())
		return
	}
	o, err := s.market.Order(roundID, orderID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, toOrderInfo(o, s.market.UnitScale()))
}

// handleGetOffers lists the fillable orders of a round, cheapest first.
func (s *Server) handleGetOffers(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	scale := s.market.UnitScale()
	offers := s.market.BestOffers(id, limit)
	response := make([]OrderInfo, len(offers))
	for i, o := range offers {
		response[i] = toOrderInfo(o, scale)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid_address", addressStr)
		return
	}

	addr := common.HexToAddress(addressStr)
	response := toAccountInfo(s.market.Account(addr), s.market.Treasury(), s.market.UnitScale())
	if ref, ok := s.market.ReferrerOf(addr); ok {
		response.Referrer = ref.Hex()
	}
	respondJSON(w, response)
}

// handleGetEvents returns events after ?after= oldest first, or without it the latest
// ones newest first.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "history_disabled", "node runs without storage")
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}

	var evs []events.Event
	if after := r.URL.Query().Get("after"); after != "" {
		n, perr := strconv.ParseUint(after, 10, 64)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid_after", perr.Error())
			return
		}
		evs, err = s.history.Events(n, limit)
	} else {
		evs, err = s.history.RecentEvents(limit)
	}
	if err != nil {
		s.log.Errorw("events_read_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	respondJSON(w, EventsResponse{Events: evs})
}

func (s *Server) handleGetTxs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "history_disabled", "node runs without storage")
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	var after uint64
	if q := r.URL.Query().Get("after"); q != "" {
		if after, err = strconv.ParseUint(q, 10, 64); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_after", err.Error())
			return
		}
	}
	recs, err := s.history.Txs(after, limit)
	if err != nil {
		s.log.Errorw("txs_read_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if recs == nil {
		recs = []storage.TxRecord{}
	}
	respondJSON(w, recs)
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	// Read signed transaction body
	bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed_to_read_body", err.Error())
		return
	}

	res, err := s.app.Submit(r.Context(), bodyBytes)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, SubmitTxResponse{
		Status:  "applied",
		Seq:     res.Seq,
		Hash:    res.Hash.Hex(),
		Kind:    res.Kind,
		OrderID: res.OrderID,
	})
}

// handleFaucet credits native value on a devnet.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableFaucet {
		respondError(w, http.StatusNotFound, "faucet_disabled", "")
		return
	}
	var req FaucetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTxBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid_address", req.Address)
		return
	}
	amount, ok := parseBaseUnits(req.Amount)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_amount", req.Amount)
		return
	}
	if s.cfg.FaucetLimit != nil && amount.Gt(s.cfg.FaucetLimit) {
		respondError(w, http.StatusBadRequest, "faucet_limit", "at most "+s.cfg.FaucetLimit.Dec())
		return
	}

	addr := common.HexToAddress(req.Address)
	if err := s.market.Faucet(r.Context(), addr, amount); err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("faucet_paid", "to", addr.Hex(), "amount", amount.Dec())
	respondJSON(w, toAccountInfo(s.market.Account(addr), s.market.Treasury(), s.market.UnitScale()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":      "ok",
		"initialized": s.market.Status().Initialized,
		"wsClients":   s.hub.Clients(),
	})
}

// ==============================
// Helper Functions
// ==============================

func queryLimit(r *http.Request) (int, error) {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("limit must be positive")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
