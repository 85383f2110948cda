package intent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/finsageai/finsage/internal/broker"
	"github.com/finsageai/finsage/internal/llm"
	"github.com/finsageai/finsage/internal/marketdata"
	"github.com/finsageai/finsage/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// OCC symbology
// ════════════════════════════════════════════════════════════════════

func TestBuildOCC(t *testing.T) {
	expiry := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		underlying string
		typ        models.OptionType
		strike     float64
		want       string
	}{
		{"AAPL", models.Call, 175, "AAPL250117C00175000"},
		{"aapl", models.Call, 175, "AAPL250117C00175000"},
		{"SPY", models.Put, 430.5, "SPY250117P00430500"},
		{"TSLA", models.Call, 1000, "TSLA250117C01000000"},
		{"BRK.B", models.Put, 0.5, "BRK.B250117P00000500"},
	}
	for _, tt := range tests {
		got := BuildOCC(tt.underlying, expiry, tt.typ, tt.strike)
		if got != tt.want {
			t.Errorf("BuildOCC(%s, %v, %v): got %s, want %s", tt.underlying, tt.typ, tt.strike, got, tt.want)
		}
	}
}

func TestParseOCC(t *testing.T) {
	underlying, expiry, typ, strike, err := ParseOCC("AAPL250117C00175000")
	if err != nil {
		t.Fatalf("ParseOCC: %v", err)
	}
	if underlying != "AAPL" {
		t.Errorf("underlying: got %s", underlying)
	}
	if got := expiry.Format("2006-01-02"); got != "2025-01-17" {
		t.Errorf("expiry: got %s", got)
	}
	if typ != models.Call {
		t.Errorf("type: got %v", typ)
	}
	if strike != 175 {
		t.Errorf("strike: got %v", strike)
	}
}

func TestParseOCCRoundTrip(t *testing.T) {
	expiry := time.Date(2026, 6, 19, 0, 0, 0, 0, time.UTC)
	symbol := BuildOCC("NVDA", expiry, models.Put, 142.5)

	underlying, gotExpiry, typ, strike, err := ParseOCC(symbol)
	if err != nil {
		t.Fatalf("ParseOCC(%s): %v", symbol, err)
	}
	if underlying != "NVDA" || typ != models.Put || strike != 142.5 {
		t.Errorf("round trip lost fields: %s %v %v", underlying, typ, strike)
	}
	if !gotExpiry.Equal(expiry) {
		t.Errorf("expiry: got %v, want %v", gotExpiry, expiry)
	}
}

func TestParseOCCInvalid(t *testing.T) {
	for _, symbol := range []string{"", "AAPL", "AAPL250117X00175000", "AAPL2501C00175000", "250117C00175000"} {
		if _, _, _, _, err := ParseOCC(symbol); err == nil {
			t.Errorf("ParseOCC(%q): expected error", symbol)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Regex extraction
// ════════════════════════════════════════════════════════════════════

func TestExtractStock(t *testing.T) {
	tests := []struct {
		name string
		text string
		want TradeIntent
	}{
		{
			name: "buy with qty",
			text: "buy 100 shares of AAPL",
			want: TradeIntent{Side: models.Buy, Qty: 100, Symbol: "AAPL", Instrument: models.InstrumentStock},
		},
		{
			name: "sell with dollar symbol",
			text: "sell 50 $TSLA",
			want: TradeIntent{Side: models.Sell, Qty: 50, Symbol: "TSLA", Instrument: models.InstrumentStock},
		},
		{
			name: "short verb",
			text: "short 10 shares of NVDA",
			want: TradeIntent{Side: models.Sell, Qty: 10, Symbol: "NVDA", Instrument: models.InstrumentStock},
		},
		{
			name: "no quantity",
			text: "buy MSFT",
			want: TradeIntent{Side: models.Buy, Qty: 0, Symbol: "MSFT", Instrument: models.InstrumentStock},
		},
		{
			name: "spelled out quantity",
			text: "buy two shares of AMZN",
			want: TradeIntent{Side: models.Buy, Qty: 2, Symbol: "AMZN", Instrument: models.InstrumentStock},
		},
		{
			name: "purchase verb",
			text: "purchase 5 shares of GOOG please",
			want: TradeIntent{Side: models.Buy, Qty: 5, Symbol: "GOOG", Instrument: models.InstrumentStock},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if got == nil {
				t.Fatal("expected an intent")
			}
			if got.Side != tt.want.Side || got.Qty != tt.want.Qty || got.Symbol != tt.want.Symbol || got.Instrument != tt.want.Instrument {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractOption(t *testing.T) {
	got := Extract("Buy 2 AAPL 175 calls expiring jan 17")
	if got == nil {
		t.Fatal("expected an intent")
	}
	if got.Side != models.Buy || got.Qty != 2 {
		t.Errorf("side/qty: got %v/%d", got.Side, got.Qty)
	}
	if got.Instrument != models.InstrumentOption {
		t.Fatalf("instrument: got %v", got.Instrument)
	}
	if got.Symbol != "AAPL" || got.Strike != 175 || got.OptionType != models.Call {
		t.Errorf("option clause: got %s %v %v", got.Symbol, got.Strike, got.OptionType)
	}
	if got.ExpiryExpr != "jan 17" {
		t.Errorf("expiry expr: got %q", got.ExpiryExpr)
	}
}

func TestExtractOptionStrikeAt(t *testing.T) {
	got := Extract("buy a put on SPY at 430 expiring friday")
	if got == nil {
		t.Fatal("expected an intent")
	}
	if got.Instrument != models.InstrumentOption || got.OptionType != models.Put {
		t.Fatalf("got %v %v", got.Instrument, got.OptionType)
	}
	if got.Strike != 430 {
		t.Errorf("strike: got %v", got.Strike)
	}
	if got.Qty != 1 {
		t.Errorf("qty: got %d, want 1 from article", got.Qty)
	}
	if got.Symbol != "SPY" {
		t.Errorf("symbol: got %q", got.Symbol)
	}
	if got.ExpiryExpr != "friday" {
		t.Errorf("expiry expr: got %q", got.ExpiryExpr)
	}
}

func TestExtractStrikeNotQuantity(t *testing.T) {
	// The strike number right after the verb must not be read as a
	// share count.
	got := Extract("buy 175 calls on AAPL for next friday")
	if got == nil {
		t.Fatal("expected an intent")
	}
	if got.Qty != 0 {
		t.Errorf("qty: got %d, want 0", got.Qty)
	}
	if got.Strike != 175 || got.OptionType != models.Call {
		t.Errorf("strike/type: got %v %v", got.Strike, got.OptionType)
	}
	if got.ExpiryExpr != "next friday" {
		t.Errorf("expiry expr: got %q", got.ExpiryExpr)
	}
}

func TestExtractZeroDTE(t *testing.T) {
	got := Extract("sell 3 SPY 450 puts 0dte")
	if got == nil {
		t.Fatal("expected an intent")
	}
	if got.ExpiryExpr != "0dte" {
		t.Errorf("expiry expr: got %q", got.ExpiryExpr)
	}
	if got.Side != models.Sell || got.Qty != 3 || got.Strike != 450 {
		t.Errorf("got %+v", got)
	}
}

func TestExtractISOExpiry(t *testing.T) {
	got := Extract("buy 1 QQQ 400 call 2025-12-19")
	if got == nil {
		t.Fatal("expected an intent")
	}
	if got.ExpiryExpr != "2025-12-19" {
		t.Errorf("expiry expr: got %q", got.ExpiryExpr)
	}
}

func TestExtractNotATrade(t *testing.T) {
	for _, text := range []string{
		"",
		"what is the price of AAPL",
		"how did the market do today",
		"explain implied volatility",
	} {
		if got := Extract(text); got != nil {
			t.Errorf("Extract(%q): expected nil, got %+v", text, got)
		}
	}
}

func TestExtractSymbolStopwords(t *testing.T) {
	// "I" and "ALL" are uppercase and ticker-shaped but never symbols.
	got := Extract("I want to buy ALL my favorite stock AMD now")
	if got == nil {
		t.Fatal("expected an intent")
	}
	if got.Symbol != "AMD" {
		t.Errorf("symbol: got %q, want AMD", got.Symbol)
	}
}

func TestIntentComplete(t *testing.T) {
	var nilIntent *TradeIntent
	if nilIntent.complete() {
		t.Error("nil intent must not be complete")
	}
	stock := &TradeIntent{Side: models.Buy, Symbol: "AAPL", Instrument: models.InstrumentStock}
	if !stock.complete() {
		t.Error("stock intent with symbol should be complete")
	}
	opt := &TradeIntent{Side: models.Buy, Symbol: "AAPL", Instrument: models.InstrumentOption, Strike: 175, OptionType: models.Call}
	if opt.complete() {
		t.Error("option intent without expiry must not be complete")
	}
	opt.ExpiryExpr = "jan 17"
	if !opt.complete() {
		t.Error("full option intent should be complete")
	}
}

// ════════════════════════════════════════════════════════════════════
// LLM classification
// ════════════════════════════════════════════════════════════════════

type fakeLLM struct {
	content string
	err     error
	calls   int
}

func (f *fakeLLM) Name() string                   { return "fake" }
func (f *fakeLLM) Models() []string               { return []string{"fake-1"} }
func (f *fakeLLM) Ping(ctx context.Context) error { return nil }

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts *llm.ChatOptions) (*llm.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content, FinishReason: llm.FinishStop}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts *llm.ChatOptions) (<-chan llm.StreamChunk, error) {
	return nil, fmt.Errorf("not implemented")
}

func TestClassifyTrade(t *testing.T) {
	provider := &fakeLLM{content: `{"is_trade": true, "side": "buy", "quantity": 10, "symbol": "aapl", "instrument": "option", "strike": 180, "option_type": "call", "expiry": "Jan 17"}`}

	got, err := Classify(context.Background(), provider, "pick me up some apple calls")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got == nil {
		t.Fatal("expected an intent")
	}
	if got.Side != models.Buy || got.Qty != 10 || got.Symbol != "AAPL" {
		t.Errorf("got %+v", got)
	}
	if got.Instrument != models.InstrumentOption || got.Strike != 180 || got.OptionType != models.Call {
		t.Errorf("option fields: got %+v", got)
	}
	if got.ExpiryExpr != "jan 17" {
		t.Errorf("expiry expr: got %q", got.ExpiryExpr)
	}
}

func TestClassifyNotATrade(t *testing.T) {
	provider := &fakeLLM{content: `{"is_trade": false}`}
	got, err := Classify(context.Background(), provider, "what moved the market today?")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil intent, got %+v", got)
	}
}

func TestClassifyFencedJSON(t *testing.T) {
	provider := &fakeLLM{content: "```json\n{\"is_trade\": true, \"side\": \"sell\", \"quantity\": 5, \"symbol\": \"TSLA\", \"instrument\": \"stock\"}\n```"}
	got, err := Classify(context.Background(), provider, "dump 5 tesla")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Side != models.Sell || got.Qty != 5 || got.Symbol != "TSLA" {
		t.Errorf("got %+v", got)
	}
}

func TestClassifyBadSide(t *testing.T) {
	provider := &fakeLLM{content: `{"is_trade": true, "side": "hold", "symbol": "AAPL"}`}
	if _, err := Classify(context.Background(), provider, "hold my apple"); err == nil {
		t.Error("expected error for unknown side")
	}
}

func TestClassifyNoJSON(t *testing.T) {
	provider := &fakeLLM{content: "Sure! I'd be happy to help with that."}
	if _, err := Classify(context.Background(), provider, "buy stuff"); err == nil {
		t.Error("expected error when output has no JSON")
	}
}

func TestClassifyNegativeQtyClamped(t *testing.T) {
	provider := &fakeLLM{content: `{"is_trade": true, "side": "buy", "quantity": -3, "symbol": "AAPL", "instrument": "stock"}`}
	got, err := Classify(context.Background(), provider, "buy apple")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Qty != 0 {
		t.Errorf("qty: got %d, want 0", got.Qty)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"prefix {\"a\": {\"b\": 2}} suffix", `{"a": {"b": 2}}`},
		{`{"s": "brace } inside"}`, `{"s": "brace } inside"}`},
		{"no json here", ""},
		{"{unclosed", ""},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); got != tt.want {
			t.Errorf("extractJSON(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePrefersRegex(t *testing.T) {
	provider := &fakeLLM{content: `{"is_trade": true, "side": "sell", "quantity": 999, "symbol": "XXX", "instrument": "stock"}`}

	got, err := Parse(context.Background(), provider, "buy 100 shares of AAPL")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Symbol != "AAPL" || got.Qty != 100 || got.Side != models.Buy {
		t.Errorf("got %+v", got)
	}
	if provider.calls != 0 {
		t.Errorf("LLM called %d times for a complete regex parse", provider.calls)
	}
}

func TestParseFallsBackToLLM(t *testing.T) {
	provider := &fakeLLM{content: `{"is_trade": true, "side": "buy", "quantity": 10, "symbol": "NVDA", "instrument": "stock"}`}

	got, err := Parse(context.Background(), provider, "buy some of that chip stock")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Symbol != "NVDA" || got.Qty != 10 {
		t.Errorf("got %+v", got)
	}
	if provider.calls != 1 {
		t.Errorf("LLM calls: got %d, want 1", provider.calls)
	}
}

func TestParseNilProvider(t *testing.T) {
	got, err := Parse(context.Background(), nil, "buy 10 shares of AAPL")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got == nil || got.Symbol != "AAPL" {
		t.Errorf("got %+v", got)
	}

	got, err = Parse(context.Background(), nil, "good morning")
	if err != nil || got != nil {
		t.Errorf("non-trade text: got %+v, %v", got, err)
	}
}

func TestParseClassifyErrorKeepsPartial(t *testing.T) {
	provider := &fakeLLM{err: fmt.Errorf("provider down")}

	// Partial regex result survives a classifier failure.
	got, err := Parse(context.Background(), provider, "buy some AAPL calls")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got == nil || got.Symbol != "AAPL" {
		t.Errorf("got %+v", got)
	}

	// With nothing from regex either, the error surfaces.
	if _, err := Parse(context.Background(), provider, "do something clever"); err == nil {
		t.Error("expected error when both paths fail")
	}
}

// ════════════════════════════════════════════════════════════════════
// Plan building
// ════════════════════════════════════════════════════════════════════

func TestBuildPlanStock(t *testing.T) {
	plan, err := BuildPlan(&TradeIntent{
		Side:       models.Buy,
		Qty:        10,
		Symbol:     "aapl",
		Instrument: models.InstrumentStock,
		RawText:    "buy 10 aapl",
	}, DefaultOptions)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.Symbol != "AAPL" {
		t.Errorf("symbol: got %s", plan.Symbol)
	}
	if plan.Qty != 10 || plan.Side != models.Buy || plan.OrderType != models.Market {
		t.Errorf("got %+v", plan)
	}
	if plan.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestBuildPlanDefaultQty(t *testing.T) {
	plan, err := BuildPlan(&TradeIntent{Side: models.Buy, Symbol: "MSFT", Instrument: models.InstrumentStock},
		Options{DefaultQty: 5})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.Qty != 5 {
		t.Errorf("qty: got %d, want default 5", plan.Qty)
	}
}

func TestBuildPlanOption(t *testing.T) {
	plan, err := BuildPlan(&TradeIntent{
		Side:       models.Buy,
		Qty:        2,
		Symbol:     "AAPL",
		Instrument: models.InstrumentOption,
		Strike:     175,
		OptionType: models.Call,
		ExpiryExpr: "2030-01-18",
	}, DefaultOptions)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.Underlying != "AAPL" || plan.Strike != 175 || plan.OptionType != models.Call {
		t.Errorf("got %+v", plan)
	}
	if plan.Expiry != "2030-01-18" {
		t.Errorf("expiry: got %s", plan.Expiry)
	}
	if plan.Symbol != "" {
		t.Errorf("symbol should wait for enrichment, got %s", plan.Symbol)
	}
}

func TestBuildPlanErrors(t *testing.T) {
	tests := []struct {
		name   string
		intent *TradeIntent
		opts   Options
		want   error
	}{
		{
			name:   "no symbol",
			intent: &TradeIntent{Side: models.Buy, Instrument: models.InstrumentStock},
			opts:   DefaultOptions,
			want:   ErrNoSymbol,
		},
		{
			name:   "bad symbol",
			intent: &TradeIntent{Side: models.Buy, Symbol: "TOOLONGSYM", Instrument: models.InstrumentStock},
			opts:   DefaultOptions,
			want:   ErrNoSymbol,
		},
		{
			name:   "over max qty",
			intent: &TradeIntent{Side: models.Buy, Qty: 50, Symbol: "AAPL", Instrument: models.InstrumentStock},
			opts:   Options{DefaultQty: 1, MaxQty: 10},
			want:   ErrBadQty,
		},
		{
			name:   "option without strike",
			intent: &TradeIntent{Side: models.Buy, Symbol: "AAPL", Instrument: models.InstrumentOption, OptionType: models.Call, ExpiryExpr: "2030-01-18"},
			opts:   DefaultOptions,
			want:   ErrNoStrike,
		},
		{
			name:   "option without expiry",
			intent: &TradeIntent{Side: models.Buy, Symbol: "AAPL", Instrument: models.InstrumentOption, OptionType: models.Call, Strike: 175},
			opts:   DefaultOptions,
			want:   ErrNoExpiry,
		},
		{
			name:   "option with unparseable expiry",
			intent: &TradeIntent{Side: models.Buy, Symbol: "AAPL", Instrument: models.InstrumentOption, OptionType: models.Call, Strike: 175, ExpiryExpr: "whenever"},
			opts:   DefaultOptions,
			want:   ErrNoExpiry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPlan(tt.intent, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// Enrichment
// ════════════════════════════════════════════════════════════════════

type stubMD struct {
	quote       *models.Quote
	quoteErr    error
	expirations []time.Time
	chain       *models.OptionChain
	chainErr    error
}

func (s *stubMD) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return s.quote, s.quoteErr
}

func (s *stubMD) GetHistory(ctx context.Context, symbol string, from, to time.Time, tf models.Timeframe) ([]models.OHLCV, error) {
	return nil, nil
}

func (s *stubMD) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	return s.expirations, nil
}

func (s *stubMD) GetOptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	return s.chain, s.chainErr
}

func TestEnrichStock(t *testing.T) {
	md := &stubMD{quote: &models.Quote{Symbol: "AAPL", LastPrice: 178.5}}
	plan := &models.TradePlan{Symbol: "AAPL", Side: models.Buy, Qty: 10, Instrument: models.InstrumentStock}

	if err := Enrich(context.Background(), plan, md); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if plan.RefPrice != 178.5 {
		t.Errorf("ref price: got %v", plan.RefPrice)
	}
	if plan.EstCost != 1785 {
		t.Errorf("est cost: got %v", plan.EstCost)
	}
}

func TestEnrichStockQuoteError(t *testing.T) {
	md := &stubMD{quoteErr: marketdata.ErrSymbolNotFound}
	plan := &models.TradePlan{Symbol: "ZZZZZ", Side: models.Buy, Qty: 1, Instrument: models.InstrumentStock}

	err := Enrich(context.Background(), plan, md)
	if !errors.Is(err, marketdata.ErrSymbolNotFound) {
		t.Errorf("got %v", err)
	}
}

func optionStub() *stubMD {
	jan18 := time.Date(2030, 1, 18, 0, 0, 0, 0, time.UTC)
	return &stubMD{
		expirations: []time.Time{
			time.Date(2030, 1, 11, 0, 0, 0, 0, time.UTC),
			jan18,
			time.Date(2030, 2, 15, 0, 0, 0, 0, time.UTC),
		},
		chain: &models.OptionChain{
			Underlying: "AAPL",
			Expiry:     "2030-01-18",
			Contracts: []models.OptionContract{
				{Symbol: "AAPL300118C00170000", Type: models.Call, Strike: 170, Bid: 8.0, Ask: 8.4},
				{Symbol: "AAPL300118C00175000", Type: models.Call, Strike: 175, Bid: 5.0, Ask: 5.2},
				{Symbol: "AAPL300118C00180000", Type: models.Call, Strike: 180, Bid: 3.0, Ask: 3.2},
				{Symbol: "AAPL300118P00175000", Type: models.Put, Strike: 175, Bid: 4.0, Ask: 4.4},
			},
		},
	}
}

func TestEnrichOption(t *testing.T) {
	plan := &models.TradePlan{
		Underlying: "AAPL",
		Side:       models.Buy,
		Qty:        2,
		Instrument: models.InstrumentOption,
		OptionType: models.Call,
		Strike:     175,
		Expiry:     "2030-01-17", // no listing that day; the 18th is next
	}

	if err := Enrich(context.Background(), plan, optionStub()); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if plan.Expiry != "2030-01-18" {
		t.Errorf("expiry: got %s, want nearest listed 2030-01-18", plan.Expiry)
	}
	if plan.Symbol != "AAPL300118C00175000" {
		t.Errorf("symbol: got %s", plan.Symbol)
	}
	if plan.RefPrice != 5.1 {
		t.Errorf("ref price: got %v, want bid/ask mid 5.1", plan.RefPrice)
	}
	// Mid of 5.0/5.2 times 100x2 accumulates float error; compare
	// within a tolerance.
	if math.Abs(plan.EstCost-1020) > 1e-9 {
		t.Errorf("est cost: got %v, want 1020", plan.EstCost)
	}
}

func TestEnrichOptionClosestStrike(t *testing.T) {
	plan := &models.TradePlan{
		Underlying: "AAPL",
		Side:       models.Buy,
		Qty:        1,
		Instrument: models.InstrumentOption,
		OptionType: models.Call,
		Strike:     176, // 175 is closer than 180
		Expiry:     "2030-01-18",
	}
	if err := Enrich(context.Background(), plan, optionStub()); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if plan.Strike != 175 {
		t.Errorf("strike: got %v, want snapped 175", plan.Strike)
	}
}

func TestEnrichOptionNoContract(t *testing.T) {
	md := optionStub()
	md.chain.Contracts = md.chain.Contracts[3:4] // puts only
	plan := &models.TradePlan{
		Underlying: "AAPL",
		Side:       models.Buy,
		Qty:        1,
		Instrument: models.InstrumentOption,
		OptionType: models.Call,
		Strike:     175,
		Expiry:     "2030-01-18",
	}
	err := Enrich(context.Background(), plan, md)
	if !errors.Is(err, ErrNoContract) {
		t.Fatalf("got %v, want ErrNoContract", err)
	}
	if plan.Symbol != "AAPL300118C00175000" {
		t.Errorf("synthesized symbol: got %s", plan.Symbol)
	}
}

func TestEnrichOptionNoExpirations(t *testing.T) {
	md := &stubMD{}
	plan := &models.TradePlan{
		Underlying: "PLTR",
		Side:       models.Buy,
		Qty:        1,
		Instrument: models.InstrumentOption,
		OptionType: models.Call,
		Strike:     20,
		Expiry:     "2030-01-18",
	}
	if err := Enrich(context.Background(), plan, md); !errors.Is(err, marketdata.ErrNoExpirations) {
		t.Errorf("got %v", err)
	}
}

func TestNearestExpiration(t *testing.T) {
	dates := []time.Time{
		time.Date(2030, 1, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 1, 18, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 2, 15, 0, 0, 0, 0, time.UTC),
	}

	got := nearestExpiration(dates, time.Date(2030, 1, 18, 0, 0, 0, 0, time.UTC))
	if !got.Equal(dates[1]) {
		t.Errorf("exact match: got %v", got)
	}

	got = nearestExpiration(dates, time.Date(2030, 1, 12, 0, 0, 0, 0, time.UTC))
	if !got.Equal(dates[1]) {
		t.Errorf("next after: got %v", got)
	}

	// Requested past every listing: closest overall wins.
	got = nearestExpiration(dates, time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC))
	if !got.Equal(dates[2]) {
		t.Errorf("fallback: got %v", got)
	}
}

func TestPickContractTieBreaksLower(t *testing.T) {
	contracts := []models.OptionContract{
		{Type: models.Call, Strike: 180},
		{Type: models.Call, Strike: 170},
	}
	got := pickContract(contracts, models.Call, 175)
	if got == nil || got.Strike != 170 {
		t.Errorf("got %+v, want strike 170 on tie", got)
	}

	if got := pickContract(contracts, models.Put, 175); got != nil {
		t.Errorf("wrong type should find nothing, got %+v", got)
	}
}

// ════════════════════════════════════════════════════════════════════
// Sufficiency and execution
// ════════════════════════════════════════════════════════════════════

func TestCheckSufficiencyBuy(t *testing.T) {
	pb := broker.NewPaperBroker(nil) // $100k

	plan := &models.TradePlan{Symbol: "AAPL", Side: models.Buy, Qty: 10, EstCost: 1785}
	if err := CheckSufficiency(context.Background(), plan, pb); err != nil {
		t.Errorf("affordable buy: %v", err)
	}

	plan.EstCost = 999_999
	err := CheckSufficiency(context.Background(), plan, pb)
	if !errors.Is(err, broker.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestCheckSufficiencyBuyNoEstimate(t *testing.T) {
	pb := broker.NewPaperBroker(nil)
	plan := &models.TradePlan{Symbol: "AAPL", Side: models.Buy, Qty: 10}
	if err := CheckSufficiency(context.Background(), plan, pb); err != nil {
		t.Errorf("zero estimate should skip the check: %v", err)
	}
}

func TestCheckSufficiencySell(t *testing.T) {
	ctx := context.Background()
	pb := broker.NewPaperBroker(nil)
	pb.SetPrice("AAPL", 100)

	if _, err := pb.PlaceOrder(ctx, models.OrderRequest{
		Symbol: "AAPL", Qty: 5, Side: models.Buy, Type: models.Market,
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	plan := &models.TradePlan{Symbol: "AAPL", Side: models.Sell, Qty: 3}
	if err := CheckSufficiency(ctx, plan, pb); err != nil {
		t.Errorf("covered sell: %v", err)
	}

	plan.Qty = 10
	if err := CheckSufficiency(ctx, plan, pb); !errors.Is(err, broker.ErrInsufficientShares) {
		t.Errorf("oversell: got %v", err)
	}

	plan = &models.TradePlan{Symbol: "TSLA", Side: models.Sell, Qty: 1}
	if err := CheckSufficiency(ctx, plan, pb); !errors.Is(err, broker.ErrInsufficientShares) {
		t.Errorf("no position: got %v", err)
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	pb := broker.NewPaperBroker(nil)
	pb.SetPrice("AAPL", 100)

	plan := &models.TradePlan{Symbol: "AAPL", Side: models.Buy, Qty: 3, OrderType: models.Market}
	resp, err := Execute(ctx, plan, pb)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Status != models.OrderFilled {
		t.Errorf("status: got %v", resp.Status)
	}

	pos, err := pb.GetPosition(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Qty != 3 {
		t.Errorf("position qty: got %d", pos.Qty)
	}

	// The submitted request must reach the broker intact.
	order, err := pb.GetOrderByID(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("GetOrderByID: %v", err)
	}
	if order.Symbol != "AAPL" || order.Qty != 3 || order.Side != models.Buy {
		t.Errorf("stored order: got %+v", order)
	}
	if order.TimeInForce != models.TIFDay {
		t.Errorf("time in force: got %v", order.TimeInForce)
	}
}

func TestExecuteUnenrichedPlan(t *testing.T) {
	pb := broker.NewPaperBroker(nil)
	plan := &models.TradePlan{Side: models.Buy, Qty: 1}
	if _, err := Execute(context.Background(), plan, pb); !errors.Is(err, ErrPlanNotReady) {
		t.Errorf("got %v, want ErrPlanNotReady", err)
	}
}
