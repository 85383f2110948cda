package models

import (
	"fmt"
	"strings"
	"time"
)

// InstrumentKind distinguishes what a trade plan trades.
type InstrumentKind string

const (
	InstrumentStock  InstrumentKind = "stock"
	InstrumentOption InstrumentKind = "option"
)

// TradePlan is an in-memory record describing a proposed order pending
// user confirmation. For options the Symbol field holds the resolved OCC
// contract symbol once the plan has been enriched.
type TradePlan struct {
	Symbol     string         `json:"symbol"`
	Underlying string         `json:"underlying,omitempty"`
	Side       OrderSide      `json:"side"`
	Qty        int            `json:"qty"`
	Instrument InstrumentKind `json:"instrument"`
	OrderType  OrderType      `json:"order_type"`
	LimitPrice float64        `json:"limit_price,omitempty"`

	// Option details, set when Instrument == InstrumentOption.
	Strike     float64    `json:"strike,omitempty"`
	Expiry     string     `json:"expiry,omitempty"` // YYYY-MM-DD
	OptionType OptionType `json:"option_type,omitempty"`

	// Enrichment results.
	RefPrice float64 `json:"ref_price,omitempty"` // live price at plan time
	EstCost  float64 `json:"estimated_cost,omitempty"`

	RawText   string    `json:"raw_text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary returns a one-line human-readable description of the plan.
func (p *TradePlan) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d", strings.ToUpper(string(p.Side)), p.Qty)
	if p.Instrument == InstrumentOption {
		fmt.Fprintf(&b, " %s %s $%.2f %s", p.Underlying, p.Expiry, p.Strike, p.OptionType)
		if p.Symbol != "" {
			fmt.Fprintf(&b, " (%s)", p.Symbol)
		}
	} else {
		fmt.Fprintf(&b, " %s", p.Symbol)
	}
	if p.RefPrice > 0 {
		fmt.Fprintf(&b, " @ ~$%.2f", p.RefPrice)
	}
	return b.String()
}
