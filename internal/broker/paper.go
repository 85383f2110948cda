package broker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/finsageai/finsage/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Paper Trading Simulator
// ════════════════════════════════════════════════════════════════════

// PaperBroker is an in-memory trading simulator that implements the
// Broker interface. It simulates order fills with configurable slippage
// and tracks cash, positions, and realized P&L. It is the fallback when
// no Alpaca credentials are configured, and the workhorse of the tests.
type PaperBroker struct {
	mu sync.RWMutex

	// Account state
	initialCapital float64
	cash           float64
	realizedPnL    float64

	// Order management
	orders       map[string]*models.Order
	orderCounter int

	// Position tracking, keyed by symbol
	positions map[string]*models.Position

	// Last-seen market prices, fed by SetPrice. Drives market-order fills.
	priceBook map[string]float64

	// Configuration
	slippagePct float64 // simulated slippage (default 0.05%)

	// Trade log
	logger *TradeLogger
}

// PaperBrokerConfig holds configuration for the paper broker.
type PaperBrokerConfig struct {
	InitialCapital float64 // starting cash in USD (default: $100,000)
	SlippagePct    float64 // simulated slippage percentage (default: 0.05%)
}

// NewPaperBroker creates a new paper trading simulator.
func NewPaperBroker(cfg *PaperBrokerConfig) *PaperBroker {
	if cfg == nil {
		cfg = &PaperBrokerConfig{}
	}

	capital := cfg.InitialCapital
	if capital <= 0 {
		capital = 100_000
	}

	slippage := cfg.SlippagePct
	if slippage <= 0 {
		slippage = 0.05
	}

	return &PaperBroker{
		initialCapital: capital,
		cash:           capital,
		orders:         make(map[string]*models.Order),
		positions:      make(map[string]*models.Position),
		priceBook:      make(map[string]float64),
		slippagePct:    slippage,
		logger:         NewTradeLogger(),
	}
}

// Name returns "paper".
func (pb *PaperBroker) Name() string { return "paper" }

// ════════════════════════════════════════════════════════════════════
// Account
// ════════════════════════════════════════════════════════════════════

// GetAccount returns the simulated account summary.
func (pb *PaperBroker) GetAccount(_ context.Context) (*models.Account, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	var positionValue float64
	for _, p := range pb.positions {
		positionValue += p.MarketValue
	}

	return &models.Account{
		ID:             "paper-account",
		Status:         "ACTIVE",
		Currency:       "USD",
		Cash:           pb.cash,
		BuyingPower:    pb.cash,
		PortfolioValue: pb.cash + positionValue,
		Equity:         pb.cash + positionValue,
	}, nil
}

// ════════════════════════════════════════════════════════════════════
// Positions
// ════════════════════════════════════════════════════════════════════

// GetPositions returns all open positions.
func (pb *PaperBroker) GetPositions(_ context.Context) ([]models.Position, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	positions := make([]models.Position, 0, len(pb.positions))
	for _, p := range pb.positions {
		positions = append(positions, *p)
	}
	return positions, nil
}

// GetPosition returns the open position for a symbol, if any.
func (pb *PaperBroker) GetPosition(_ context.Context, symbol string) (*models.Position, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	p, ok := pb.positions[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	out := *p
	return &out, nil
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

// GetOrders returns all orders.
func (pb *PaperBroker) GetOrders(_ context.Context) ([]models.Order, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	orders := make([]models.Order, 0, len(pb.orders))
	for _, o := range pb.orders {
		orders = append(orders, *o)
	}
	return orders, nil
}

// GetOrderByID returns a specific order.
func (pb *PaperBroker) GetOrderByID(_ context.Context, orderID string) (*models.Order, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	order, ok := pb.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := *order
	return &out, nil
}

// PlaceOrder simulates placing and immediately filling an order.
func (pb *PaperBroker) PlaceOrder(_ context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	validation := ValidateOrder(req)
	if !validation.IsValid() {
		return &models.OrderResponse{
			Status:  models.OrderRejected,
			Message: validation.ErrorString(),
		}, fmt.Errorf("%w: %s", ErrOrderRejected, validation.ErrorString())
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	symbol := strings.ToUpper(req.Symbol)

	pb.orderCounter++
	orderID := fmt.Sprintf("PAPER-%d-%d", time.Now().UnixMilli(), pb.orderCounter)

	tif := req.TimeInForce
	if tif == "" {
		tif = models.TIFDay
	}

	now := time.Now()
	order := &models.Order{
		OrderID:     orderID,
		Symbol:      symbol,
		Qty:         req.Qty,
		Side:        req.Side,
		Type:        req.Type,
		TimeInForce: tif,
		LimitPrice:  req.LimitPrice,
		Status:      models.OrderNew,
		PlacedAt:    now,
		UpdatedAt:   now,
	}

	fillPrice := pb.computeFillPrice(req, symbol)
	cost := fillPrice * float64(req.Qty)

	// Cash-account checks: buys need cash, sells need shares.
	if req.Side == models.Buy && cost > pb.cash {
		return pb.rejectOrder(order, req,
			fmt.Sprintf("insufficient funds: need $%.2f, available $%.2f", cost, pb.cash),
			ErrInsufficientFunds)
	}
	if req.Side == models.Sell {
		pos, held := pb.positions[symbol]
		if !held || pos.Qty < req.Qty {
			haveQty := 0
			if held {
				haveQty = pos.Qty
			}
			return pb.rejectOrder(order, req,
				fmt.Sprintf("insufficient shares: want to sell %d %s, hold %d", req.Qty, symbol, haveQty),
				ErrInsufficientShares)
		}
	}

	// Simulate an immediate fill.
	order.Status = models.OrderFilled
	order.FilledPrice = fillPrice
	order.FilledQty = req.Qty
	order.UpdatedAt = now

	pb.orders[orderID] = order
	pb.applyFill(order)

	result := &models.OrderResponse{
		OrderID: orderID,
		Status:  models.OrderFilled,
		Message: fmt.Sprintf("filled at $%.2f", fillPrice),
	}

	pb.logger.Log(models.TradeLog{
		Request:  req,
		Response: result,
		Source:   "paper",
	})

	return result, nil
}

// CancelOrder simulates cancelling an order. Fills are immediate in the
// simulator, so only never-filled orders can be cancelled.
func (pb *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	order, ok := pb.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}

	if order.Status != models.OrderNew && order.Status != models.OrderAccepted {
		return fmt.Errorf("cannot cancel order in state %s", order.Status)
	}

	order.Status = models.OrderCanceled
	order.UpdatedAt = time.Now()
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Paper-specific Methods
// ════════════════════════════════════════════════════════════════════

// Logger returns the trade logger.
func (pb *PaperBroker) Logger() *TradeLogger {
	return pb.logger
}

// Reset resets the paper broker to initial state.
func (pb *PaperBroker) Reset() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.cash = pb.initialCapital
	pb.realizedPnL = 0
	pb.orders = make(map[string]*models.Order)
	pb.positions = make(map[string]*models.Position)
	pb.priceBook = make(map[string]float64)
	pb.orderCounter = 0
	pb.logger = NewTradeLogger()
}

// SetPrice updates the simulated market price for a symbol. It drives
// both fill prices for market orders and unrealized P&L.
func (pb *PaperBroker) SetPrice(symbol string, price float64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	sym := strings.ToUpper(symbol)
	pb.prices()[sym] = price

	if pos, ok := pb.positions[sym]; ok {
		pos.CurrentPrice = price
		pos.MarketValue = price * float64(absInt(pos.Qty))
		pos.UnrealizedPL = (price - pos.AvgEntryPrice) * float64(pos.Qty)
		if pos.CostBasis != 0 {
			pos.UnrealizedPLP = pos.UnrealizedPL / pos.CostBasis
		}
	}
}

// RealizedPnL returns the cumulative realized P&L from closed positions.
func (pb *PaperBroker) RealizedPnL() float64 {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.realizedPnL
}

// PositionCount returns the number of open positions.
func (pb *PaperBroker) PositionCount() int {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return len(pb.positions)
}

// ════════════════════════════════════════════════════════════════════
// Internal Helpers
// ════════════════════════════════════════════════════════════════════

// prices lazily initializes the price book.
func (pb *PaperBroker) prices() map[string]float64 {
	if pb.priceBook == nil {
		pb.priceBook = make(map[string]float64)
	}
	return pb.priceBook
}

// computeFillPrice simulates order fill with slippage.
// Must be called with mu held.
func (pb *PaperBroker) computeFillPrice(req models.OrderRequest, symbol string) float64 {
	basePrice := req.LimitPrice
	if req.Type == models.Market || basePrice <= 0 {
		if last, ok := pb.prices()[symbol]; ok && last > 0 {
			basePrice = last
		} else {
			basePrice = 100 // no reference price seen yet
		}
	}

	// Apply random slippage: buyers pay slightly more, sellers get less.
	slippage := basePrice * (pb.slippagePct / 100) * rand.Float64()
	if req.Side == models.Buy {
		return basePrice + slippage
	}
	return basePrice - slippage
}

// rejectOrder records a rejected order and logs it. Must be called with mu held.
func (pb *PaperBroker) rejectOrder(order *models.Order, req models.OrderRequest, msg string, sentinel error) (*models.OrderResponse, error) {
	order.Status = models.OrderRejected
	order.UpdatedAt = time.Now()
	pb.orders[order.OrderID] = order

	result := &models.OrderResponse{
		OrderID: order.OrderID,
		Status:  models.OrderRejected,
		Message: msg,
	}
	pb.logger.Log(models.TradeLog{
		Request:  req,
		Response: result,
		Source:   "paper",
	})
	return result, fmt.Errorf("%w: %s", sentinel, msg)
}

// applyFill updates cash and positions for a filled order.
// Must be called with mu held.
func (pb *PaperBroker) applyFill(order *models.Order) {
	symbol := order.Symbol
	fillValue := order.FilledPrice * float64(order.FilledQty)
	existing, exists := pb.positions[symbol]

	if order.Side == models.Buy {
		pb.cash -= fillValue

		if exists {
			totalQty := existing.Qty + order.FilledQty
			totalCost := existing.CostBasis + fillValue
			existing.Qty = totalQty
			existing.AvgEntryPrice = totalCost / float64(totalQty)
			existing.CostBasis = totalCost
			existing.CurrentPrice = order.FilledPrice
			existing.MarketValue = order.FilledPrice * float64(totalQty)
		} else {
			pb.positions[symbol] = &models.Position{
				Symbol:        symbol,
				Qty:           order.FilledQty,
				AvgEntryPrice: order.FilledPrice,
				CurrentPrice:  order.FilledPrice,
				MarketValue:   fillValue,
				CostBasis:     fillValue,
			}
		}
		return
	}

	// Sell: sufficiency was checked before the fill.
	pb.cash += fillValue
	realized := (order.FilledPrice - existing.AvgEntryPrice) * float64(order.FilledQty)
	pb.realizedPnL += realized

	existing.Qty -= order.FilledQty
	if existing.Qty == 0 {
		delete(pb.positions, symbol)
		return
	}
	existing.CostBasis = existing.AvgEntryPrice * float64(existing.Qty)
	existing.CurrentPrice = order.FilledPrice
	existing.MarketValue = order.FilledPrice * float64(existing.Qty)
	existing.UnrealizedPL = (order.FilledPrice - existing.AvgEntryPrice) * float64(existing.Qty)
	if existing.CostBasis != 0 {
		existing.UnrealizedPLP = existing.UnrealizedPL / existing.CostBasis
	}
}

// absInt returns absolute value of int.
func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
