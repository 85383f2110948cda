// Package models defines the core data structures used throughout FinSage.
package models

import "time"

// Quote represents a real-time stock quote.
type Quote struct {
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	LastPrice  float64   `json:"last_price"`
	Change     float64   `json:"change"`
	ChangePct  float64   `json:"change_pct"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	PrevClose  float64   `json:"prev_close"`
	Volume     int64     `json:"volume"`
	Bid        float64   `json:"bid,omitempty"`
	Ask        float64   `json:"ask,omitempty"`
	WeekHigh52 float64   `json:"week_high_52"`
	WeekLow52  float64   `json:"week_low_52"`
	MarketCap  float64   `json:"market_cap"`
	Currency   string    `json:"currency,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// OHLCV represents a single candlestick bar of price data.
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	AdjClose  float64   `json:"adj_close,omitempty"`
}

// Timeframe represents chart timeframe for OHLCV data.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1m"
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe1Day  Timeframe = "1d"
	Timeframe1Week Timeframe = "1wk"
	Timeframe1Mon  Timeframe = "1mo"
)
