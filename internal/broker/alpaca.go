package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/finsageai/finsage/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Alpaca Paper Trading Broker
// ════════════════════════════════════════════════════════════════════

// DefaultAlpacaBaseURL is the Alpaca paper-trading API endpoint.
const DefaultAlpacaBaseURL = "https://paper-api.alpaca.markets/v2"

// AlpacaBroker implements the Broker interface over Alpaca's REST API.
// It uses key-pair authentication and targets the paper-trading
// endpoint by default.
type AlpacaBroker struct {
	mu sync.RWMutex

	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client

	logger *TradeLogger
}

// AlpacaConfig holds Alpaca connection settings.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string        // defaults to the paper-trading endpoint
	Timeout   time.Duration // HTTP client timeout (default: 30s)
}

// NewAlpacaBroker creates a new Alpaca broker instance.
func NewAlpacaBroker(cfg *AlpacaConfig) *AlpacaBroker {
	if cfg == nil {
		cfg = &AlpacaConfig{}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultAlpacaBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &AlpacaBroker{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     NewTradeLogger(),
	}
}

// Name returns "alpaca".
func (ab *AlpacaBroker) Name() string { return "alpaca" }

// IsConnected returns whether API credentials are configured.
func (ab *AlpacaBroker) IsConnected() bool {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.apiKey != "" && ab.apiSecret != ""
}

// Logger returns the trade logger.
func (ab *AlpacaBroker) Logger() *TradeLogger {
	return ab.logger
}

// ════════════════════════════════════════════════════════════════════
// Wire Types
// ════════════════════════════════════════════════════════════════════

// Alpaca encodes numeric fields as JSON strings.
type alpacaAccount struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Currency         string `json:"currency"`
	Cash             string `json:"cash"`
	BuyingPower      string `json:"buying_power"`
	PortfolioValue   string `json:"portfolio_value"`
	Equity           string `json:"equity"`
	PatternDayTrader bool   `json:"pattern_day_trader"`
}

type alpacaPosition struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	Side           string `json:"side"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	CurrentPrice   string `json:"current_price"`
	MarketValue    string `json:"market_value"`
	CostBasis      string `json:"cost_basis"`
	UnrealizedPL   string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
}

type alpacaOrder struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	FilledQty      string `json:"filled_qty"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	TimeInForce    string `json:"time_in_force"`
	LimitPrice     string `json:"limit_price"`
	FilledAvgPrice string `json:"filled_avg_price"`
	Status         string `json:"status"`
	SubmittedAt    string `json:"submitted_at"`
	UpdatedAt      string `json:"updated_at"`
}

type alpacaOrderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
	ClientOrder string `json:"client_order_id,omitempty"`
}

type alpacaError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ════════════════════════════════════════════════════════════════════
// Account
// ════════════════════════════════════════════════════════════════════

// GetAccount returns the account summary from Alpaca.
func (ab *AlpacaBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	if !ab.IsConnected() {
		return nil, ErrNotConnected
	}

	body, _, err := ab.doGet(ctx, "/account")
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	var acct alpacaAccount
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}

	return &models.Account{
		ID:               acct.ID,
		Status:           acct.Status,
		Currency:         acct.Currency,
		Cash:             parseFloat(acct.Cash),
		BuyingPower:      parseFloat(acct.BuyingPower),
		PortfolioValue:   parseFloat(acct.PortfolioValue),
		Equity:           parseFloat(acct.Equity),
		PatternDayTrader: acct.PatternDayTrader,
	}, nil
}

// ════════════════════════════════════════════════════════════════════
// Positions
// ════════════════════════════════════════════════════════════════════

// GetPositions returns all open positions from Alpaca.
func (ab *AlpacaBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	if !ab.IsConnected() {
		return nil, ErrNotConnected
	}

	body, _, err := ab.doGet(ctx, "/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	var raw []alpacaPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, positionFromAlpaca(p))
	}
	return positions, nil
}

// GetPosition returns the open position for a symbol.
// A 404 from Alpaca means no position is held; it maps to ErrNoPosition.
func (ab *AlpacaBroker) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	if !ab.IsConnected() {
		return nil, ErrNotConnected
	}

	body, status, err := ab.doGet(ctx, "/positions/"+strings.ToUpper(symbol))
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
		}
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}

	var raw alpacaPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	pos := positionFromAlpaca(raw)
	return &pos, nil
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

// GetOrders returns recent orders from Alpaca (all statuses).
func (ab *AlpacaBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	if !ab.IsConnected() {
		return nil, ErrNotConnected
	}

	body, _, err := ab.doGet(ctx, "/orders?status=all")
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}

	var raw []alpacaOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}

	orders := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, orderFromAlpaca(o))
	}
	return orders, nil
}

// GetOrderByID returns a specific order from Alpaca.
func (ab *AlpacaBroker) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	if !ab.IsConnected() {
		return nil, ErrNotConnected
	}

	body, status, err := ab.doGet(ctx, "/orders/"+orderID)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	var raw alpacaOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse order: %w", err)
	}
	order := orderFromAlpaca(raw)
	return &order, nil
}

// PlaceOrder places a new order via the Alpaca API.
func (ab *AlpacaBroker) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	if !ab.IsConnected() {
		return nil, ErrNotConnected
	}

	validation := ValidateOrder(req)
	if !validation.IsValid() {
		return &models.OrderResponse{
			Status:  models.OrderRejected,
			Message: validation.ErrorString(),
		}, fmt.Errorf("%w: %s", ErrOrderRejected, validation.ErrorString())
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = models.TIFDay
	}

	wire := alpacaOrderRequest{
		Symbol:      strings.ToUpper(req.Symbol),
		Qty:         strconv.Itoa(req.Qty),
		Side:        string(req.Side),
		Type:        string(req.Type),
		TimeInForce: string(tif),
		ClientOrder: req.Tag,
	}
	if req.Type == models.Limit {
		wire.LimitPrice = strconv.FormatFloat(req.LimitPrice, 'f', 2, 64)
	}

	body, _, err := ab.doPost(ctx, "/orders", wire)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", mapAlpacaError(err))
	}

	var raw alpacaOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse place order response: %w", err)
	}

	result := &models.OrderResponse{
		OrderID: raw.ID,
		Status:  models.OrderStatus(raw.Status),
		Message: "order submitted",
	}

	ab.logger.Log(models.TradeLog{
		Request:  req,
		Response: result,
		Source:   "alpaca",
	})

	return result, nil
}

// CancelOrder cancels an order via the Alpaca API.
func (ab *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if !ab.IsConnected() {
		return ErrNotConnected
	}

	_, status, err := ab.doDelete(ctx, "/orders/"+orderID)
	if err != nil {
		if status == http.StatusNotFound {
			return ErrOrderNotFound
		}
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// HTTP Helpers
// ════════════════════════════════════════════════════════════════════

func (ab *AlpacaBroker) doGet(ctx context.Context, path string) ([]byte, int, error) {
	return ab.doRequest(ctx, http.MethodGet, path, nil)
}

func (ab *AlpacaBroker) doPost(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	return ab.doRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
}

func (ab *AlpacaBroker) doDelete(ctx context.Context, path string) ([]byte, int, error) {
	return ab.doRequest(ctx, http.MethodDelete, path, nil)
}

func (ab *AlpacaBroker) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	ab.mu.RLock()
	key := ab.apiKey
	secret := ab.apiSecret
	ab.mu.RUnlock()

	reqURL := fmt.Sprintf("%s%s", ab.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("APCA-API-KEY-ID", key)
	req.Header.Set("APCA-API-SECRET-KEY", secret)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ab.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr alpacaError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, resp.StatusCode, fmt.Errorf("alpaca api error (HTTP %d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, resp.StatusCode, fmt.Errorf("alpaca api error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, resp.StatusCode, nil
}

// ════════════════════════════════════════════════════════════════════
// Internal Utilities
// ════════════════════════════════════════════════════════════════════

func positionFromAlpaca(p alpacaPosition) models.Position {
	qty := int(parseFloat(p.Qty))
	if p.Side == "short" && qty > 0 {
		qty = -qty
	}
	return models.Position{
		Symbol:        p.Symbol,
		Qty:           qty,
		AvgEntryPrice: parseFloat(p.AvgEntryPrice),
		CurrentPrice:  parseFloat(p.CurrentPrice),
		MarketValue:   parseFloat(p.MarketValue),
		CostBasis:     parseFloat(p.CostBasis),
		UnrealizedPL:  parseFloat(p.UnrealizedPL),
		UnrealizedPLP: parseFloat(p.UnrealizedPLPC),
	}
}

func orderFromAlpaca(o alpacaOrder) models.Order {
	return models.Order{
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Qty:         int(parseFloat(o.Qty)),
		FilledQty:   int(parseFloat(o.FilledQty)),
		Side:        models.OrderSide(o.Side),
		Type:        models.OrderType(o.Type),
		TimeInForce: models.TimeInForce(o.TimeInForce),
		LimitPrice:  parseFloat(o.LimitPrice),
		FilledPrice: parseFloat(o.FilledAvgPrice),
		Status:      models.OrderStatus(o.Status),
		PlacedAt:    parseTime(o.SubmittedAt),
		UpdatedAt:   parseTime(o.UpdatedAt),
	}
}

// mapAlpacaError translates well-known API error messages to sentinels.
func mapAlpacaError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient buying power") || strings.Contains(msg, "insufficient day trading buying power"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "insufficient qty"):
		return fmt.Errorf("%w: %v", ErrInsufficientShares, err)
	default:
		return err
	}
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
