// Package intent implements the natural-language-to-trade pipeline:
// extracting a trade intent from free text, building and enriching a
// trade plan with live market data, and executing it through a broker.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/finsageai/finsage/pkg/models"
	"github.com/finsageai/finsage/pkg/utils"
)

// TradeIntent is the raw result of parsing user text, before any
// validation or market-data enrichment.
type TradeIntent struct {
	Side       models.OrderSide
	Qty        int // 0 means "use the configured default"
	Symbol     string
	Instrument models.InstrumentKind

	// Option clause, when Instrument == InstrumentOption.
	Strike     float64
	OptionType models.OptionType
	ExpiryExpr string // raw user expression ("jan 17", "this friday", ...)

	RawText string
}

var (
	buyVerbs  = regexp.MustCompile(`(?i)\b(buy|purchase|long)\b`)
	sellVerbs = regexp.MustCompile(`(?i)\b(sell|short|dump)\b`)

	// "buy 100 ...", "sell 2 ..."
	qtyAfterVerb = regexp.MustCompile(`(?i)\b(?:buy|purchase|long|sell|short|dump)\s+(\d+)\b`)
	// "100 shares", "2 contracts"
	qtyBeforeNoun = regexp.MustCompile(`(?i)\b(\d+)\s+(?:shares?|contracts?)\b`)

	// "$AAPL"
	dollarSymbol = regexp.MustCompile(`\$([A-Za-z]{1,5})\b`)
	// "shares of AAPL", "shares of apple"? Only ticker-shaped words qualify.
	sharesOf = regexp.MustCompile(`(?i)\bshares?\s+of\s+\$?([A-Za-z]{1,5}(?:\.[A-Za-z]{1,2})?)\b`)

	// "175 call", "$180.5 put", "175 calls"
	strikeWithType = regexp.MustCompile(`(?i)\$?(\d+(?:\.\d+)?)\s*(call|put)s?\b`)
	// bare "call"/"put" with no adjacent strike
	bareOptionType = regexp.MustCompile(`(?i)\b(call|put)s?\b`)
	// "at 175", "strike 175", "strike of 175"
	strikeAt = regexp.MustCompile(`(?i)\b(?:at|strike(?:\s+of)?)\s+\$?(\d+(?:\.\d+)?)\b`)

	expiryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2})\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2}/\d{1,2}(?:/\d{2,4})?)\b`),
		regexp.MustCompile(`(?i)\b((?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:,?\s+\d{4})?)\b`),
		regexp.MustCompile(`(?i)\b((?:this|next)\s+(?:mon|tue|tues|wed|thu|thur|thurs|fri)[a-z]*)\b`),
		regexp.MustCompile(`(?i)\bexpir\w*\s+(?:on\s+)?((?:mon|tue|tues|wed|thu|thur|thurs|fri)[a-z]*)\b`),
		regexp.MustCompile(`(?i)\b(0dte|today|tomorrow)\b`),
	}
)

// Words that look like tickers in shouty text but never are.
var symbolStopwords = map[string]bool{
	"a": true, "i": true, "an": true, "at": true, "of": true, "to": true,
	"the": true, "for": true, "on": true, "in": true, "my": true, "me": true,
	"all": true, "it": true, "and": true, "or": true, "with": true, "now": true,
	"buy": true, "sell": true, "short": true, "long": true, "dump": true,
	"purchase": true, "call": true, "put": true, "calls": true, "puts": true,
	"share": true, "shares": true, "contract": true, "contracts": true,
	"stock": true, "stocks": true, "option": true, "options": true,
	"strike": true, "expiring": true, "expiry": true, "exp": true,
	"this": true, "next": true, "today": true, "tomorrow": true,
	"please": true, "some": true, "more": true, "dte": true,
	"usd": true, "etf": true, "atm": true, "itm": true, "otm": true,
}

// wordQty maps small spelled-out quantities.
var wordQty = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"a": 1, "an": 1,
}

// Extract parses free text into a TradeIntent using ordered regex
// patterns. It returns nil when no trade side verb is present; such
// text flows to the conversational path instead.
func Extract(text string) *TradeIntent {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	intent := &TradeIntent{
		Instrument: models.InstrumentStock,
		RawText:    text,
	}

	// Side verb is the gate: questions without one are not trades.
	switch {
	case buyVerbs.MatchString(text):
		intent.Side = models.Buy
	case sellVerbs.MatchString(text):
		intent.Side = models.Sell
	default:
		return nil
	}

	// Option clause first, so its strike number is not mistaken for a
	// quantity or symbol.
	var strikeSpan []int
	if m := strikeWithType.FindStringSubmatchIndex(text); m != nil {
		intent.Instrument = models.InstrumentOption
		intent.Strike, _ = strconv.ParseFloat(text[m[2]:m[3]], 64)
		intent.OptionType = models.OptionType(strings.ToLower(text[m[4]:m[5]]))
		strikeSpan = []int{m[2], m[3]}
	} else if m := bareOptionType.FindStringSubmatch(text); m != nil {
		intent.Instrument = models.InstrumentOption
		intent.OptionType = models.OptionType(strings.ToLower(m[1]))
		if sm := strikeAt.FindStringSubmatchIndex(text); sm != nil {
			intent.Strike, _ = strconv.ParseFloat(text[sm[2]:sm[3]], 64)
			strikeSpan = []int{sm[2], sm[3]}
		}
	}

	intent.Qty = extractQty(text, strikeSpan)
	intent.Symbol = extractSymbol(text)

	if intent.Instrument == models.InstrumentOption {
		intent.ExpiryExpr = extractExpiry(text)
	}

	return intent
}

// extractQty finds a share/contract quantity, skipping any number that
// is actually the option strike.
func extractQty(text string, strikeSpan []int) int {
	for _, re := range []*regexp.Regexp{qtyAfterVerb, qtyBeforeNoun} {
		if m := re.FindStringSubmatchIndex(text); m != nil {
			if strikeSpan != nil && m[2] == strikeSpan[0] && m[3] == strikeSpan[1] {
				continue
			}
			n, err := strconv.Atoi(text[m[2]:m[3]])
			if err == nil && n > 0 {
				return n
			}
		}
	}

	// "buy a share", "sell two calls"
	fields := strings.Fields(strings.ToLower(text))
	for i := 0; i < len(fields)-1; i++ {
		if n, ok := wordQty[fields[i]]; ok {
			next := strings.Trim(fields[i+1], ".,!?")
			switch next {
			case "share", "shares", "contract", "contracts", "call", "calls", "put", "puts":
				return n
			}
		}
	}

	return 0
}

// extractSymbol finds the traded ticker.
func extractSymbol(text string) string {
	if m := dollarSymbol.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := sharesOf.FindStringSubmatch(text); m != nil {
		sym := strings.ToUpper(m[1])
		if !symbolStopwords[strings.ToLower(sym)] {
			return sym
		}
	}

	// Fall back to the first ticker-shaped uppercase token.
	for _, field := range strings.Fields(text) {
		token := strings.Trim(field, ".,!?()'\"")
		if token != strings.ToUpper(token) {
			continue
		}
		if symbolStopwords[strings.ToLower(token)] {
			continue
		}
		if utils.IsValidSymbol(token) {
			return token
		}
	}
	return ""
}

// extractExpiry finds the first expiry expression in the text.
func extractExpiry(text string) string {
	for _, re := range expiryPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.ToLower(strings.TrimSpace(m[1]))
		}
	}
	return ""
}
