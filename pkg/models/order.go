package models

import "time"

// OrderSide represents buy or sell.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderType represents the type of order.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// TimeInForce controls how long an order remains working.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFOPG TimeInForce = "opg"
	TIFCLS TimeInForce = "cls"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderStatus represents the current state of an order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderAccepted        OrderStatus = "accepted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
)

// OrderRequest represents a request to place a new order.
type OrderRequest struct {
	Symbol      string      `json:"symbol"`
	Qty         int         `json:"qty"`
	Side        OrderSide   `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"time_in_force"`
	LimitPrice  float64     `json:"limit_price,omitempty"`
	Tag         string      `json:"tag,omitempty"` // client-side tracking tag
}

// OrderResponse represents the broker's response to an order placement.
type OrderResponse struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// Order represents a placed or historical order.
type Order struct {
	OrderID     string      `json:"order_id"`
	Symbol      string      `json:"symbol"`
	Qty         int         `json:"qty"`
	FilledQty   int         `json:"filled_qty"`
	Side        OrderSide   `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"time_in_force"`
	LimitPrice  float64     `json:"limit_price,omitempty"`
	FilledPrice float64     `json:"filled_price,omitempty"`
	Status      OrderStatus `json:"status"`
	PlacedAt    time.Time   `json:"placed_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Position represents an open trading position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           int     `json:"qty"` // positive = long, negative = short
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	CostBasis     float64 `json:"cost_basis"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
	UnrealizedPLP float64 `json:"unrealized_plpc"` // fraction, 0.05 = +5%
}

// Account represents the brokerage account summary.
type Account struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	Currency         string  `json:"currency"`
	Cash             float64 `json:"cash"`
	BuyingPower      float64 `json:"buying_power"`
	PortfolioValue   float64 `json:"portfolio_value"`
	Equity           float64 `json:"equity"`
	PatternDayTrader bool    `json:"pattern_day_trader"`
}

// TradeLog represents a logged trade event for the audit trail.
type TradeLog struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Request   OrderRequest   `json:"request"`
	Response  *OrderResponse `json:"response,omitempty"`
	Source    string         `json:"source"` // "cli", "api", "assistant"
	RawText   string         `json:"raw_text,omitempty"`
}
