package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/finsageai/finsage/internal/llm"
	"github.com/finsageai/finsage/pkg/models"
)

const classifySystemPrompt = `You are a trade intent parser. Given a user message, decide whether it is a request to place a trade and extract its parameters.

Respond with ONLY a JSON object, no prose, in exactly this shape:
{"is_trade": bool, "side": "buy"|"sell", "quantity": int, "symbol": "TICKER", "instrument": "stock"|"option", "strike": number, "option_type": "call"|"put", "expiry": "string"}

Rules:
- is_trade is false for questions, analysis requests, and general chat.
- symbol is the uppercase ticker. Resolve company names (e.g. "Apple" -> "AAPL").
- quantity is 0 if the user did not state one.
- strike, option_type and expiry apply only when instrument is "option".
- expiry is the user's expression verbatim ("jan 17", "this friday", "0dte", "2025-01-17").`

// classifyResult is the strict-JSON shape the model is asked for.
type classifyResult struct {
	IsTrade    bool    `json:"is_trade"`
	Side       string  `json:"side"`
	Quantity   int     `json:"quantity"`
	Symbol     string  `json:"symbol"`
	Instrument string  `json:"instrument"`
	Strike     float64 `json:"strike"`
	OptionType string  `json:"option_type"`
	Expiry     string  `json:"expiry"`
}

// Classify asks an LLM to parse text that the regex extractor could not
// fully resolve. Returns (nil, nil) when the model says the text is not
// a trade request.
func Classify(ctx context.Context, provider llm.LLMProvider, text string) (*TradeIntent, error) {
	messages := []llm.Message{
		llm.SystemMessage(classifySystemPrompt),
		llm.UserMessage(text),
	}
	resp, err := provider.Chat(ctx, messages, nil, &llm.ChatOptions{Temperature: 0})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	raw := extractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("classify: no JSON object in model output %q", resp.Content)
	}

	var result classifyResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("classify: decode model output: %w", err)
	}
	if !result.IsTrade {
		return nil, nil
	}

	intent := &TradeIntent{
		Qty:        result.Quantity,
		Symbol:     strings.ToUpper(strings.TrimSpace(result.Symbol)),
		Instrument: models.InstrumentStock,
		RawText:    text,
	}
	if intent.Qty < 0 {
		intent.Qty = 0
	}

	switch strings.ToLower(result.Side) {
	case "buy":
		intent.Side = models.Buy
	case "sell":
		intent.Side = models.Sell
	default:
		return nil, fmt.Errorf("classify: model returned side %q", result.Side)
	}

	if strings.ToLower(result.Instrument) == "option" {
		intent.Instrument = models.InstrumentOption
		intent.Strike = result.Strike
		intent.ExpiryExpr = strings.ToLower(strings.TrimSpace(result.Expiry))
		switch strings.ToLower(result.OptionType) {
		case "call":
			intent.OptionType = models.Call
		case "put":
			intent.OptionType = models.Put
		}
	}

	return intent, nil
}

// extractJSON returns the first balanced top-level JSON object in s.
// Models occasionally wrap output in markdown fences despite the prompt.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
