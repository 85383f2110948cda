// Package broker provides a unified interface for brokerage backends.
// It supports the Alpaca paper-trading API and an in-memory simulator.
// Order execution always happens behind explicit caller confirmation.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finsageai/finsage/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Broker Interface
// ════════════════════════════════════════════════════════════════════

// Broker defines the common interface that all brokerage backends must satisfy.
// Methods map closely to the Alpaca trading API surface.
type Broker interface {
	// Name returns the broker provider name ("paper", "alpaca").
	Name() string

	// --- Account ---

	// GetAccount returns the account summary (cash, buying power, equity).
	GetAccount(ctx context.Context) (*models.Account, error)

	// --- Positions ---

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]models.Position, error)

	// GetPosition returns the open position for a single symbol, or
	// ErrNoPosition when there is none.
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)

	// --- Orders ---

	// GetOrders returns recent orders.
	GetOrders(ctx context.Context) ([]models.Order, error)

	// GetOrderByID returns a specific order by its ID.
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)

	// PlaceOrder submits a new order.
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID string) error
}

// ════════════════════════════════════════════════════════════════════
// Trade Logger
// ════════════════════════════════════════════════════════════════════

// TradeLogger logs all trade events for audit trail.
type TradeLogger struct {
	mu   sync.Mutex
	logs []models.TradeLog
}

// NewTradeLogger creates a new trade logger.
func NewTradeLogger() *TradeLogger {
	return &TradeLogger{
		logs: make([]models.TradeLog, 0, 100),
	}
}

// Log records a trade event.
func (tl *TradeLogger) Log(log models.TradeLog) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	if log.ID == "" {
		log.ID = fmt.Sprintf("TL-%d", len(tl.logs)+1)
	}
	tl.logs = append(tl.logs, log)
}

// Logs returns all logged trade events.
func (tl *TradeLogger) Logs() []models.TradeLog {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]models.TradeLog, len(tl.logs))
	copy(out, tl.logs)
	return out
}

// RecentLogs returns the last n trade events.
func (tl *TradeLogger) RecentLogs(n int) []models.TradeLog {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if n >= len(tl.logs) {
		out := make([]models.TradeLog, len(tl.logs))
		copy(out, tl.logs)
		return out
	}
	out := make([]models.TradeLog, n)
	copy(out, tl.logs[len(tl.logs)-n:])
	return out
}

// Count returns the total number of logged trades.
func (tl *TradeLogger) Count() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.logs)
}

// DayLogs returns trade logs for a specific date.
func (tl *TradeLogger) DayLogs(date time.Time) []models.TradeLog {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	y, m, d := date.Date()
	var out []models.TradeLog
	for _, log := range tl.logs {
		ly, lm, ld := log.Timestamp.Date()
		if ly == y && lm == m && ld == d {
			out = append(out, log)
		}
	}
	return out
}

// ════════════════════════════════════════════════════════════════════
// Common Errors
// ════════════════════════════════════════════════════════════════════

var (
	// ErrNotConnected is returned when broker credentials are missing.
	ErrNotConnected = fmt.Errorf("broker not connected")

	// ErrInsufficientFunds is returned when buying power cannot cover an order.
	ErrInsufficientFunds = fmt.Errorf("insufficient funds")

	// ErrInsufficientShares is returned when selling more than is held.
	ErrInsufficientShares = fmt.Errorf("insufficient shares")

	// ErrOrderNotFound is returned when an order ID doesn't exist.
	ErrOrderNotFound = fmt.Errorf("order not found")

	// ErrOrderRejected is returned when the broker rejects an order.
	ErrOrderRejected = fmt.Errorf("order rejected")

	// ErrNoPosition is returned when no open position exists for a symbol.
	ErrNoPosition = fmt.Errorf("no open position")

	// ErrNotSupported is returned for unimplemented broker features.
	ErrNotSupported = fmt.Errorf("operation not supported by this broker")
)
