package models

import "time"

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// OptionChain represents the option chain for an underlying on one expiry.
type OptionChain struct {
	Underlying string           `json:"underlying"`
	SpotPrice  float64          `json:"spot_price"`
	Expiry     string           `json:"expiry"` // YYYY-MM-DD
	Expiries   []string         `json:"expiries"`
	Contracts  []OptionContract `json:"contracts"`
	FetchedAt  time.Time        `json:"fetched_at"`
}

// OptionContract represents a single option contract at a strike.
type OptionContract struct {
	Symbol     string     `json:"symbol"` // OCC symbol, e.g. AAPL250117C00175000
	Underlying string     `json:"underlying"`
	Type       OptionType `json:"type"`
	Strike     float64    `json:"strike"`
	Expiry     string     `json:"expiry"` // YYYY-MM-DD
	LastPrice  float64    `json:"last_price"`
	Bid        float64    `json:"bid"`
	Ask        float64    `json:"ask"`
	Change     float64    `json:"change"`
	ChangePct  float64    `json:"change_pct"`
	Volume     int64      `json:"volume"`
	OI         int64      `json:"oi"`
	IV         float64    `json:"iv"`
	InTheMoney bool       `json:"in_the_money"`
}

// Mid returns the bid/ask midpoint, falling back to the last traded price
// when either side of the book is empty.
func (c OptionContract) Mid() float64 {
	if c.Bid > 0 && c.Ask > 0 {
		return (c.Bid + c.Ask) / 2
	}
	return c.LastPrice
}
