// Package api provides the HTTP REST API server for FinSage.
//
// It exposes the assistant (ask/chat), live quotes and option chains,
// brokerage state (positions, orders, account), market news, and a
// WebSocket stream of quote updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/finsageai/finsage/internal/assistant"
	"github.com/finsageai/finsage/internal/broker"
	"github.com/finsageai/finsage/internal/config"
	"github.com/finsageai/finsage/internal/intent"
	"github.com/finsageai/finsage/internal/llm"
	"github.com/finsageai/finsage/internal/marketdata"
	"github.com/finsageai/finsage/pkg/models"
	"github.com/finsageai/finsage/pkg/utils"
)

// NewsProvider is the slice of the news fetcher the server needs.
type NewsProvider interface {
	GetMarketNews(ctx context.Context, limit int) ([]models.NewsArticle, error)
	GetStockNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error)
}

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	asst   *assistant.Assistant
	market marketdata.MarketData
	news   NewsProvider
	broker broker.Broker
	wsHub  *WSHub
}

// NewServer wires up a server from configuration: the LLM router, the
// Yahoo market data source, the configured broker, and the assistant.
func NewServer(cfg *config.Config) (*Server, error) {
	router, err := llm.NewRouterFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("LLM setup failed: %w", err)
	}

	market := marketdata.NewYahoo(
		marketdata.WithQuoteTTL(time.Duration(cfg.Data.QuoteCacheTTLSec)*time.Second),
		marketdata.WithChainTTL(time.Duration(cfg.Data.ChainCacheTTLSec)*time.Second),
		marketdata.WithRequestsPerSec(cfg.Data.RequestsPerSec),
	)

	b := buildBroker(cfg)

	asst := assistant.New(router, market, b, intent.Options{
		DefaultQty: cfg.Trading.DefaultQty,
		MaxQty:     cfg.Trading.MaxOrderQty,
	})

	srv := &Server{
		cfg:    cfg,
		asst:   asst,
		market: market,
		news:   marketdata.NewNews(),
		broker: b,
		wsHub:  NewWSHub(),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// buildBroker selects the broker from configuration. Alpaca without
// credentials falls back to the paper simulator.
func buildBroker(cfg *config.Config) broker.Broker {
	if cfg.Broker.Provider == "alpaca" && cfg.Broker.Alpaca.APIKey != "" {
		return broker.NewAlpacaBroker(&broker.AlpacaConfig{
			APIKey:    cfg.Broker.Alpaca.APIKey,
			APISecret: cfg.Broker.Alpaca.APISecret,
			BaseURL:   cfg.Broker.Alpaca.BaseURL,
		})
	}
	return broker.NewPaperBroker(nil)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	go s.wsHub.Run()
	go s.runQuotePoller(pollCtx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Assistant
		r.Post("/ask", s.handleAsk)
		r.Post("/chat", s.handleChat)

		// Market data
		r.Get("/quote/{symbol}", s.handleQuote)
		r.Get("/chain/{symbol}", s.handleChain)
		r.Get("/expirations/{symbol}", s.handleExpirations)
		r.Get("/news", s.handleNews)

		// Brokerage
		r.Get("/positions", s.handleGetPositions)
		r.Get("/orders", s.handleGetOrders)
		r.Post("/orders", s.handlePlaceOrder)
		r.Delete("/orders/{id}", s.handleCancelOrder)
		r.Get("/account", s.handleGetAccount)

		// Configuration
		r.Get("/config", s.handleGetConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	// Also reachable without the version prefix.
	r.Get("/ws", s.handleWebSocket)

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AskRequest is the body for POST /api/v1/ask.
type AskRequest struct {
	Text string `json:"text"`
}

// ChatRequest is the body for POST /api/v1/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// OrderTextRequest is the body for POST /api/v1/orders. The text goes
// through the full natural-language pipeline and executes immediately;
// posting here is the confirmation.
type OrderTextRequest struct {
	Text string `json:"text"`
}

// OrderResult pairs the executed plan with the broker response.
type OrderResult struct {
	Plan  *models.TradePlan     `json:"plan"`
	Order *models.OrderResponse `json:"order"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":  "ok",
			"broker":  s.broker.Name(),
			"time_et": utils.NowEastern().Format("2006-01-02 15:04:05 MST"),
		},
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := s.asst.Ask(ctx, req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	answer, err := s.asst.Chat(ctx, req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"answer": answer},
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	quote, err := s.market.GetQuote(ctx, symbol)
	if err != nil {
		writeError(w, marketDataStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: quote})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	var expiry time.Time
	if v := r.URL.Query().Get("expiry"); v != "" {
		var err error
		expiry, err = time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid expiry; use YYYY-MM-DD")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	chain, err := s.market.GetOptionChain(ctx, symbol, expiry)
	if err != nil {
		writeError(w, marketDataStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: chain})
}

func (s *Server) handleExpirations(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	expirations, err := s.market.GetExpirations(ctx, symbol)
	if err != nil {
		writeError(w, marketDataStatus(err), err.Error())
		return
	}

	dates := make([]string, 0, len(expirations))
	for _, e := range expirations {
		dates = append(dates, e.UTC().Format("2006-01-02"))
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: dates})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var articles []models.NewsArticle
	var err error
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		articles, err = s.news.GetStockNews(ctx, utils.NormalizeSymbol(symbol), limit)
	} else {
		articles, err = s.news.GetMarketNews(ctx, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: articles})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.broker.GetPositions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: positions})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.broker.GetOrders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: orders})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := s.asst.Ask(ctx, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if result.Kind != assistant.ResultPlan {
		writeError(w, http.StatusBadRequest, "text is not a trade request")
		return
	}

	resp, err := s.asst.ExecutePlan(ctx, result.Plan)
	if err != nil {
		writeError(w, orderStatus(err), err.Error())
		return
	}

	s.wsHub.Broadcast(WSMessage{
		Type: "order_placed",
		Data: map[string]interface{}{
			"symbol": result.Plan.Symbol,
			"side":   result.Plan.Side,
			"qty":    result.Plan.Qty,
			"status": resp.Status,
		},
	})

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    OrderResult{Plan: result.Plan, Order: resp},
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}

	if err := s.broker.CancelOrder(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if isErr(err, broker.ErrOrderNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"order_id": id, "status": "canceled"},
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.broker.GetAccount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: account})
}

// ============================================================
// Helpers
// ============================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

func marketDataStatus(err error) int {
	switch {
	case isErr(err, marketdata.ErrSymbolNotFound), isErr(err, marketdata.ErrNoExpirations):
		return http.StatusNotFound
	case isErr(err, marketdata.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func orderStatus(err error) int {
	switch {
	case isErr(err, broker.ErrInsufficientFunds), isErr(err, broker.ErrInsufficientShares):
		return http.StatusForbidden
	case isErr(err, broker.ErrOrderRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func isErr(err, target error) bool {
	return err != nil && errors.Is(err, target)
}
