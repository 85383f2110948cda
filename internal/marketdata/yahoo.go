package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/finsageai/finsage/pkg/models"
	"github.com/finsageai/finsage/pkg/utils"
)

// DefaultYahooBaseURL is the public Yahoo Finance query host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo implements MarketData over the Yahoo Finance public API.
type Yahoo struct {
	baseURL  string
	cache    *Cache
	limiter  *RateLimiter
	quoteTTL time.Duration
	chainTTL time.Duration
}

// YahooOption configures the Yahoo client.
type YahooOption func(*Yahoo)

// WithYahooBaseURL overrides the query host (used in tests).
func WithYahooBaseURL(url string) YahooOption {
	return func(y *Yahoo) { y.baseURL = strings.TrimRight(url, "/") }
}

// WithQuoteTTL sets the quote cache TTL.
func WithQuoteTTL(d time.Duration) YahooOption {
	return func(y *Yahoo) { y.quoteTTL = d }
}

// WithChainTTL sets the option chain cache TTL.
func WithChainTTL(d time.Duration) YahooOption {
	return func(y *Yahoo) { y.chainTTL = d }
}

// WithRequestsPerSec sets the rate limit.
func WithRequestsPerSec(n int) YahooOption {
	return func(y *Yahoo) { y.limiter = NewRateLimiter(n, time.Second) }
}

// NewYahoo creates a new Yahoo Finance data source.
func NewYahoo(opts ...YahooOption) *Yahoo {
	y := &Yahoo{
		baseURL:  DefaultYahooBaseURL,
		limiter:  NewRateLimiter(5, time.Second), // 5 req/s
		quoteTTL: 15 * time.Second,
		chainTTL: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(y)
	}
	y.cache = NewCache(y.quoteTTL)
	return y
}

// Name returns the data source name.
func (y *Yahoo) Name() string { return "Yahoo Finance" }

// --- Yahoo Finance API types ---

type yhQuoteResponse struct {
	QuoteResponse struct {
		Result []yhQuoteResult `json:"result"`
		Error  *yhError        `json:"error"`
	} `json:"quoteResponse"`
}

type yhQuoteResult struct {
	Symbol                     string  `json:"symbol"`
	ShortName                  string  `json:"shortName"`
	LongName                   string  `json:"longName"`
	Currency                   string  `json:"currency"`
	RegularMarketPrice         float64 `json:"regularMarketPrice"`
	RegularMarketChange        float64 `json:"regularMarketChange"`
	RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
	RegularMarketOpen          float64 `json:"regularMarketOpen"`
	RegularMarketDayHigh       float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow        float64 `json:"regularMarketDayLow"`
	RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
	RegularMarketVolume        int64   `json:"regularMarketVolume"`
	Bid                        float64 `json:"bid"`
	Ask                        float64 `json:"ask"`
	MarketCap                  float64 `json:"marketCap"`
	FiftyTwoWeekHigh           float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow            float64 `json:"fiftyTwoWeekLow"`
	RegularMarketTime          int64   `json:"regularMarketTime"`
}

type yhChartResponse struct {
	Chart struct {
		Result []yhChartResult `json:"result"`
		Error  *yhError        `json:"error"`
	} `json:"chart"`
}

type yhChartResult struct {
	Meta       yhChartMeta  `json:"meta"`
	Timestamp  []int64      `json:"timestamp"`
	Indicators yhIndicators `json:"indicators"`
}

type yhChartMeta struct {
	Symbol             string  `json:"symbol"`
	Currency           string  `json:"currency"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
}

type yhIndicators struct {
	Quote    []yhOHLCV    `json:"quote"`
	AdjClose []yhAdjClose `json:"adjclose"`
}

type yhOHLCV struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

type yhAdjClose struct {
	AdjClose []*float64 `json:"adjclose"`
}

type yhOptionsResponse struct {
	OptionChain struct {
		Result []yhOptionsResult `json:"result"`
		Error  *yhError          `json:"error"`
	} `json:"optionChain"`
}

type yhOptionsResult struct {
	UnderlyingSymbol string          `json:"underlyingSymbol"`
	ExpirationDates  []int64         `json:"expirationDates"`
	Strikes          []float64       `json:"strikes"`
	Quote            yhQuoteResult   `json:"quote"`
	Options          []yhOptionsNode `json:"options"`
}

type yhOptionsNode struct {
	ExpirationDate int64        `json:"expirationDate"`
	Calls          []yhContract `json:"calls"`
	Puts           []yhContract `json:"puts"`
}

type yhContract struct {
	ContractSymbol    string  `json:"contractSymbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"lastPrice"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Change            float64 `json:"change"`
	PercentChange     float64 `json:"percentChange"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	InTheMoney        bool    `json:"inTheMoney"`
	Expiration        int64   `json:"expiration"`
}

type yhError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// --- Public methods ---

// GetQuote returns a real-time quote from the v7 quote endpoint.
func (y *Yahoo) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	sym := utils.NormalizeSymbol(symbol)

	cacheKey := "quote:" + sym
	if cached, ok := y.cache.Get(cacheKey); ok {
		return cached.(*models.Quote), nil
	}

	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", y.baseURL, sym)
	body, _, err := doGet(ctx, url, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo quote %s: %w", sym, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp yhQuoteResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse yahoo quote: %w", err)
	}

	if resp.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("yahoo API error: %s", resp.QuoteResponse.Error.Description)
	}
	if len(resp.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, sym)
	}

	quote := quoteFromResult(resp.QuoteResponse.Result[0])
	y.cache.SetWithTTL(cacheKey, quote, y.quoteTTL)
	return quote, nil
}

// GetHistory returns OHLCV candles from the v8 chart endpoint.
func (y *Yahoo) GetHistory(ctx context.Context, symbol string, from, to time.Time, tf models.Timeframe) ([]models.OHLCV, error) {
	sym := utils.NormalizeSymbol(symbol)

	cacheKey := fmt.Sprintf("hist:%s:%d:%d:%s", sym, from.Unix(), to.Unix(), tf)
	if cached, ok := y.cache.Get(cacheKey); ok {
		return cached.([]models.OHLCV), nil
	}

	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf(
		"%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=%s",
		y.baseURL, sym, from.Unix(), to.Unix(), yhInterval(tf),
	)

	body, _, err := doGet(ctx, url, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", sym, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp yhChartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse yahoo chart: %w", err)
	}

	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error: %s", resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, sym)
	}

	candles := parseYHCandles(resp.Chart.Result[0])
	y.cache.SetWithTTL(cacheKey, candles, 15*time.Minute)
	return candles, nil
}

// GetExpirations returns the listed option expiration dates for the
// underlying, ascending.
func (y *Yahoo) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	sym := utils.NormalizeSymbol(underlying)

	cacheKey := "expiries:" + sym
	if cached, ok := y.cache.Get(cacheKey); ok {
		return cached.([]time.Time), nil
	}

	result, err := y.fetchOptions(ctx, sym, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(result.ExpirationDates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoExpirations, sym)
	}

	expiries := make([]time.Time, 0, len(result.ExpirationDates))
	for _, ts := range result.ExpirationDates {
		expiries = append(expiries, time.Unix(ts, 0).UTC())
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	y.cache.SetWithTTL(cacheKey, expiries, y.chainTTL)
	return expiries, nil
}

// GetOptionChain returns the chain for the underlying at the given
// expiry. A zero expiry selects Yahoo's default (nearest) expiration.
func (y *Yahoo) GetOptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	sym := utils.NormalizeSymbol(underlying)

	cacheKey := fmt.Sprintf("chain:%s:%d", sym, expiry.Unix())
	if cached, ok := y.cache.Get(cacheKey); ok {
		return cached.(*models.OptionChain), nil
	}

	result, err := y.fetchOptions(ctx, sym, expiry)
	if err != nil {
		return nil, err
	}
	if len(result.Options) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoExpirations, sym)
	}

	node := result.Options[0]
	chain := &models.OptionChain{
		Underlying: sym,
		SpotPrice:  result.Quote.RegularMarketPrice,
		Expiry:     expiryString(node.ExpirationDate),
		FetchedAt:  time.Now(),
	}
	for _, ts := range result.ExpirationDates {
		chain.Expiries = append(chain.Expiries, expiryString(ts))
	}
	for _, c := range node.Calls {
		chain.Contracts = append(chain.Contracts, contractFromYH(c, sym, models.Call))
	}
	for _, p := range node.Puts {
		chain.Contracts = append(chain.Contracts, contractFromYH(p, sym, models.Put))
	}

	y.cache.SetWithTTL(cacheKey, chain, y.chainTTL)
	return chain, nil
}

// --- Internal helpers ---

// fetchOptions hits the v7 options endpoint, optionally pinned to an expiry.
func (y *Yahoo) fetchOptions(ctx context.Context, sym string, expiry time.Time) (*yhOptionsResult, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v7/finance/options/%s", y.baseURL, sym)
	if !expiry.IsZero() {
		url += fmt.Sprintf("?date=%d", expiry.Unix())
	}

	body, _, err := doGet(ctx, url, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo options %s: %w", sym, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp yhOptionsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse yahoo options: %w", err)
	}

	if resp.OptionChain.Error != nil {
		return nil, fmt.Errorf("yahoo API error: %s", resp.OptionChain.Error.Description)
	}
	if len(resp.OptionChain.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, sym)
	}

	return &resp.OptionChain.Result[0], nil
}

func quoteFromResult(r yhQuoteResult) *models.Quote {
	return &models.Quote{
		Symbol:     r.Symbol,
		Name:       coalesce(r.LongName, r.ShortName),
		LastPrice:  r.RegularMarketPrice,
		Change:     r.RegularMarketChange,
		ChangePct:  r.RegularMarketChangePercent,
		Open:       r.RegularMarketOpen,
		High:       r.RegularMarketDayHigh,
		Low:        r.RegularMarketDayLow,
		PrevClose:  r.RegularMarketPreviousClose,
		Volume:     r.RegularMarketVolume,
		Bid:        r.Bid,
		Ask:        r.Ask,
		WeekHigh52: r.FiftyTwoWeekHigh,
		WeekLow52:  r.FiftyTwoWeekLow,
		MarketCap:  r.MarketCap,
		Currency:   r.Currency,
		Timestamp:  time.Unix(r.RegularMarketTime, 0),
	}
}

func contractFromYH(c yhContract, underlying string, typ models.OptionType) models.OptionContract {
	return models.OptionContract{
		Symbol:     c.ContractSymbol,
		Underlying: underlying,
		Type:       typ,
		Strike:     c.Strike,
		Expiry:     expiryString(c.Expiration),
		LastPrice:  c.LastPrice,
		Bid:        c.Bid,
		Ask:        c.Ask,
		Change:     c.Change,
		ChangePct:  c.PercentChange,
		Volume:     c.Volume,
		OI:         c.OpenInterest,
		IV:         c.ImpliedVolatility,
		InTheMoney: c.InTheMoney,
	}
}

func parseYHCandles(result yhChartResult) []models.OHLCV {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}

	q := result.Indicators.Quote[0]
	var adjCloses []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjCloses = result.Indicators.AdjClose[0].AdjClose
	}

	candles := make([]models.OHLCV, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		c := models.OHLCV{
			Timestamp: time.Unix(ts, 0),
		}
		if i < len(q.Open) && q.Open[i] != nil {
			c.Open = *q.Open[i]
		}
		if i < len(q.High) && q.High[i] != nil {
			c.High = *q.High[i]
		}
		if i < len(q.Low) && q.Low[i] != nil {
			c.Low = *q.Low[i]
		}
		if i < len(q.Close) && q.Close[i] != nil {
			c.Close = *q.Close[i]
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			c.Volume = *q.Volume[i]
		}
		if i < len(adjCloses) && adjCloses[i] != nil {
			c.AdjClose = *adjCloses[i]
		}
		candles = append(candles, c)
	}
	return candles
}

func yhInterval(tf models.Timeframe) string {
	switch tf {
	case models.Timeframe1Min, models.Timeframe5Min, models.Timeframe15Min,
		models.Timeframe1Hour, models.Timeframe1Day, models.Timeframe1Week,
		models.Timeframe1Mon:
		return string(tf)
	default:
		return "1d"
	}
}

// expiryString renders an expiration timestamp as a YYYY-MM-DD date.
// Yahoo reports expirations at UTC midnight.
func expiryString(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
