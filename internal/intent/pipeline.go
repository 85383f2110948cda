package intent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/finsageai/finsage/internal/broker"
	"github.com/finsageai/finsage/internal/llm"
	"github.com/finsageai/finsage/internal/marketdata"
	"github.com/finsageai/finsage/pkg/models"
	"github.com/finsageai/finsage/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Plan building
// ════════════════════════════════════════════════════════════════════

// Options tunes plan building.
type Options struct {
	DefaultQty int // used when the intent has no quantity
	MaxQty     int // hard cap; 0 disables
}

// DefaultOptions are the pipeline defaults.
var DefaultOptions = Options{DefaultQty: 1, MaxQty: 10_000}

// Sentinel errors for plan building and execution.
var (
	ErrNoSymbol     = fmt.Errorf("no symbol in trade request")
	ErrBadQty       = fmt.Errorf("invalid quantity")
	ErrNoStrike     = fmt.Errorf("option trade needs a strike")
	ErrNoExpiry     = fmt.Errorf("option trade needs an expiry")
	ErrNoContract   = fmt.Errorf("no matching option contract")
	ErrPlanNotReady = fmt.Errorf("plan has not been enriched")
)

// BuildPlan validates a parsed intent and turns it into a TradePlan.
// Option expiries are resolved from the raw expression here; contract
// selection waits for Enrich, which needs the live chain.
func BuildPlan(intent *TradeIntent, opts Options) (*models.TradePlan, error) {
	if intent == nil {
		return nil, fmt.Errorf("nil intent")
	}
	if intent.Symbol == "" {
		return nil, ErrNoSymbol
	}
	symbol := utils.NormalizeSymbol(intent.Symbol)
	if !utils.IsValidSymbol(symbol) {
		return nil, fmt.Errorf("%w: %q does not look like a ticker", ErrNoSymbol, intent.Symbol)
	}

	qty := intent.Qty
	if qty == 0 {
		qty = opts.DefaultQty
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadQty, qty)
	}
	if opts.MaxQty > 0 && qty > opts.MaxQty {
		return nil, fmt.Errorf("%w: %d exceeds limit of %d", ErrBadQty, qty, opts.MaxQty)
	}

	plan := &models.TradePlan{
		Side:       intent.Side,
		Qty:        qty,
		Instrument: intent.Instrument,
		OrderType:  models.Market,
		RawText:    intent.RawText,
		CreatedAt:  time.Now(),
	}

	if intent.Instrument == models.InstrumentOption {
		plan.Underlying = symbol
		plan.OptionType = intent.OptionType
		if plan.OptionType == "" {
			plan.OptionType = models.Call
		}
		if intent.Strike <= 0 {
			return nil, ErrNoStrike
		}
		plan.Strike = intent.Strike

		if intent.ExpiryExpr == "" {
			return nil, ErrNoExpiry
		}
		expiry, err := utils.ParseExpiry(intent.ExpiryExpr, utils.NowEastern())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoExpiry, err)
		}
		plan.Expiry = expiry.Format("2006-01-02")
	} else {
		plan.Symbol = symbol
	}

	return plan, nil
}

// ════════════════════════════════════════════════════════════════════
// Enrichment
// ════════════════════════════════════════════════════════════════════

// Enrich attaches live market data to a plan: a reference price and
// estimated cost, and for options the resolved contract. The plan's
// Expiry may be adjusted to the nearest listed expiration.
func Enrich(ctx context.Context, plan *models.TradePlan, md marketdata.MarketData) error {
	if plan.Instrument == models.InstrumentOption {
		return enrichOption(ctx, plan, md)
	}

	quote, err := md.GetQuote(ctx, plan.Symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", plan.Symbol, err)
	}
	plan.RefPrice = quote.LastPrice
	plan.EstCost = quote.LastPrice * float64(plan.Qty)
	return nil
}

func enrichOption(ctx context.Context, plan *models.TradePlan, md marketdata.MarketData) error {
	requested, err := time.Parse("2006-01-02", plan.Expiry)
	if err != nil {
		return fmt.Errorf("%w: bad expiry %q", ErrNoExpiry, plan.Expiry)
	}

	expirations, err := md.GetExpirations(ctx, plan.Underlying)
	if err != nil {
		return fmt.Errorf("expirations %s: %w", plan.Underlying, err)
	}
	if len(expirations) == 0 {
		return fmt.Errorf("%s: %w", plan.Underlying, marketdata.ErrNoExpirations)
	}

	expiry := nearestExpiration(expirations, requested)
	plan.Expiry = expiry.UTC().Format("2006-01-02")

	chain, err := md.GetOptionChain(ctx, plan.Underlying, expiry)
	if err != nil {
		return fmt.Errorf("chain %s %s: %w", plan.Underlying, plan.Expiry, err)
	}

	contract := pickContract(chain.Contracts, plan.OptionType, plan.Strike)
	if contract == nil {
		// Keep the requested strike and synthesize the OCC symbol so the
		// user sees exactly what could not be found.
		plan.Symbol = BuildOCC(plan.Underlying, expiry, plan.OptionType, plan.Strike)
		return fmt.Errorf("%w: %s", ErrNoContract, plan.Symbol)
	}

	plan.Strike = contract.Strike
	plan.Symbol = contract.Symbol
	if plan.Symbol == "" {
		plan.Symbol = BuildOCC(plan.Underlying, expiry, plan.OptionType, contract.Strike)
	}
	plan.RefPrice = contract.Mid()
	plan.EstCost = plan.RefPrice * 100 * float64(plan.Qty)
	return nil
}

// nearestExpiration picks the first expiration on or after the
// requested date, falling back to the closest overall when every
// listed date is earlier.
func nearestExpiration(expirations []time.Time, requested time.Time) time.Time {
	for _, e := range expirations {
		if !e.Before(requested) {
			return e
		}
	}
	best := expirations[0]
	for _, e := range expirations[1:] {
		if absDuration(e.Sub(requested)) < absDuration(best.Sub(requested)) {
			best = e
		}
	}
	return best
}

// pickContract selects the contract of the right type with the strike
// closest to requested. Ties break toward the lower strike.
func pickContract(contracts []models.OptionContract, typ models.OptionType, strike float64) *models.OptionContract {
	var best *models.OptionContract
	for i := range contracts {
		c := &contracts[i]
		if c.Type != typ {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		d, bd := math.Abs(c.Strike-strike), math.Abs(best.Strike-strike)
		if d < bd || (d == bd && c.Strike < best.Strike) {
			best = c
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// ════════════════════════════════════════════════════════════════════
// Sufficiency and execution
// ════════════════════════════════════════════════════════════════════

// CheckSufficiency verifies the account can support the plan: sells
// need enough shares or contracts held, buys need enough buying power.
// Skipped silently when the plan has no cost estimate (market closed,
// enrichment failed upstream).
func CheckSufficiency(ctx context.Context, plan *models.TradePlan, b broker.Broker) error {
	if plan.Side == models.Sell {
		pos, err := b.GetPosition(ctx, plan.Symbol)
		if err != nil {
			if errors.Is(err, broker.ErrNoPosition) {
				return fmt.Errorf("%w: no position in %s", broker.ErrInsufficientShares, plan.Symbol)
			}
			return fmt.Errorf("position %s: %w", plan.Symbol, err)
		}
		if pos.Qty < plan.Qty {
			return fmt.Errorf("%w: have %d, want to sell %d", broker.ErrInsufficientShares, pos.Qty, plan.Qty)
		}
		return nil
	}

	if plan.EstCost <= 0 {
		return nil
	}
	account, err := b.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	if account.BuyingPower < plan.EstCost {
		return fmt.Errorf("%w: need $%.2f, have $%.2f buying power",
			broker.ErrInsufficientFunds, plan.EstCost, account.BuyingPower)
	}
	return nil
}

// Execute submits the plan to the broker.
func Execute(ctx context.Context, plan *models.TradePlan, b broker.Broker) (*models.OrderResponse, error) {
	if plan.Symbol == "" {
		return nil, ErrPlanNotReady
	}
	req := models.OrderRequest{
		Symbol:      plan.Symbol,
		Qty:         plan.Qty,
		Side:        plan.Side,
		Type:        plan.OrderType,
		TimeInForce: models.TIFDay,
		LimitPrice:  plan.LimitPrice,
		Tag:         "finsage-nl",
	}
	resp, err := b.PlaceOrder(ctx, req)
	if err != nil {
		return resp, fmt.Errorf("place order %s: %w", plan.Symbol, err)
	}
	return resp, nil
}

// ════════════════════════════════════════════════════════════════════
// Top-level parse
// ════════════════════════════════════════════════════════════════════

// complete reports whether the regex extraction found everything
// BuildPlan will need.
func (t *TradeIntent) complete() bool {
	if t == nil || t.Symbol == "" {
		return false
	}
	if t.Instrument == models.InstrumentOption {
		return t.Strike > 0 && t.OptionType != "" && t.ExpiryExpr != ""
	}
	return true
}

// Parse resolves text into a TradeIntent, preferring the regex
// extractor and falling back to the LLM classifier when extraction is
// incomplete. provider may be nil to run regex-only. Returns (nil, nil)
// for non-trade text.
func Parse(ctx context.Context, provider llm.LLMProvider, text string) (*TradeIntent, error) {
	extracted := Extract(text)
	if extracted.complete() {
		return extracted, nil
	}
	if provider == nil {
		return extracted, nil
	}

	classified, err := Classify(ctx, provider, text)
	if err != nil {
		// The regex result, partial as it is, beats a hard failure.
		if extracted != nil {
			return extracted, nil
		}
		return nil, err
	}
	if classified == nil {
		return extracted, nil
	}
	return mergeIntents(extracted, classified), nil
}

// mergeIntents overlays the classifier result on the regex result,
// trusting regex fields where both found something.
func mergeIntents(regex, classified *TradeIntent) *TradeIntent {
	if regex == nil {
		return classified
	}
	merged := *regex
	if merged.Qty == 0 {
		merged.Qty = classified.Qty
	}
	if merged.Symbol == "" {
		merged.Symbol = classified.Symbol
	}
	if classified.Instrument == models.InstrumentOption {
		merged.Instrument = models.InstrumentOption
		if merged.Strike == 0 {
			merged.Strike = classified.Strike
		}
		if merged.OptionType == "" {
			merged.OptionType = classified.OptionType
		}
		if merged.ExpiryExpr == "" {
			merged.ExpiryExpr = classified.ExpiryExpr
		}
	}
	return &merged
}
