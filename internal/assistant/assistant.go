// Package assistant is the conversational surface of FinSage. It wraps
// an LLM provider with financial prompts, gives the model a live-quote
// tool, and routes trade-intent text into the order pipeline.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/finsageai/finsage/internal/broker"
	"github.com/finsageai/finsage/internal/intent"
	"github.com/finsageai/finsage/internal/llm"
	"github.com/finsageai/finsage/internal/marketdata"
	"github.com/finsageai/finsage/pkg/models"
)

const (
	analyzeSystemPrompt = "You are a financial analysis assistant."
	explainSystemPrompt = "You are a financial education assistant."
	suggestSystemPrompt = "You are an investment suggestion assistant."
	chatSystemPrompt    = "You are a financial assistant."
)

// maxToolIterations bounds the quote tool loop per question.
const maxToolIterations = 5

// ErrNoLLM is returned by the conversational paths when the assistant
// was built without a provider. The trade pipeline keeps working
// regex-only in that state.
var ErrNoLLM = errors.New("no LLM provider configured; set an OpenAI or Anthropic API key")

// Assistant answers financial questions and turns trade requests into
// enriched, ready-to-confirm plans.
type Assistant struct {
	provider llm.LLMProvider
	market   marketdata.MarketData
	broker   broker.Broker
	registry *llm.ToolRegistry
	planOpts intent.Options
}

// New creates an Assistant. provider, market, and b may each be nil;
// chat, quote tooling, and trade execution are disabled accordingly.
// With a nil provider the trade pipeline still runs on regex
// extraction alone.
func New(provider llm.LLMProvider, market marketdata.MarketData, b broker.Broker, planOpts intent.Options) *Assistant {
	a := &Assistant{
		provider: provider,
		market:   market,
		broker:   b,
		registry: llm.NewToolRegistry(),
		planOpts: planOpts,
	}
	if a.planOpts.DefaultQty <= 0 {
		a.planOpts = intent.DefaultOptions
	}
	if market != nil {
		a.registerQuoteTool()
	}
	return a
}

func (a *Assistant) registerQuoteTool() {
	params := llm.ObjectSchema("Look up a live stock quote",
		map[string]*llm.JSONSchema{
			"symbol": llm.StringProp("The ticker symbol, e.g. AAPL"),
		}, "symbol")

	a.registry.RegisterFunc("get_quote", "Get the current price and daily change for a stock symbol", params,
		func(ctx context.Context, args json.RawMessage) (string, error) {
			var req struct {
				Symbol string `json:"symbol"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return "", fmt.Errorf("bad get_quote arguments: %w", err)
			}
			quote, err := a.market.GetQuote(ctx, strings.ToUpper(strings.TrimSpace(req.Symbol)))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%s): $%.2f, change %+.2f (%+.2f%%), day range $%.2f-$%.2f, volume %d",
				quote.Symbol, quote.Name, quote.LastPrice, quote.Change, quote.ChangePct,
				quote.Low, quote.High, quote.Volume), nil
		})
}

// ════════════════════════════════════════════════════════════════════
// Single-shot prompts
// ════════════════════════════════════════════════════════════════════

// Analyze asks the model to analyze a blob of financial data.
func (a *Assistant) Analyze(ctx context.Context, data string) (string, error) {
	return a.oneShot(ctx, analyzeSystemPrompt, "Analyze this financial data: "+data)
}

// Explain asks the model to explain a financial term.
func (a *Assistant) Explain(ctx context.Context, term string) (string, error) {
	return a.oneShot(ctx, explainSystemPrompt, "Explain this financial term: "+term)
}

// Suggest asks the model for investment suggestions given some context.
func (a *Assistant) Suggest(ctx context.Context, investmentContext string) (string, error) {
	return a.oneShot(ctx, suggestSystemPrompt, "Suggest investments based on: "+investmentContext)
}

func (a *Assistant) oneShot(ctx context.Context, system, user string) (string, error) {
	if a.provider == nil {
		return "", ErrNoLLM
	}
	resp, err := a.provider.Chat(ctx, []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(user),
	}, nil, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Chat answers a free-form question. When market data is available the
// model may call the get_quote tool to ground its answer in live prices.
func (a *Assistant) Chat(ctx context.Context, question string) (string, error) {
	if a.provider == nil {
		return "", ErrNoLLM
	}
	messages := []llm.Message{
		llm.SystemMessage(chatSystemPrompt),
		llm.UserMessage(question),
	}

	if a.registry.Count() == 0 {
		resp, err := a.provider.Chat(ctx, messages, nil, nil)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	resp, _, err := llm.RunToolLoop(ctx, a.provider, a.registry, messages, a.registry.List(), nil, maxToolIterations)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ════════════════════════════════════════════════════════════════════
// Routing
// ════════════════════════════════════════════════════════════════════

// ResultKind tags what an Ask call produced.
type ResultKind string

const (
	ResultChat ResultKind = "chat"
	ResultPlan ResultKind = "plan"
)

// AskResult is the outcome of routing one user message.
type AskResult struct {
	Kind   ResultKind        `json:"kind"`
	Answer string            `json:"answer,omitempty"` // Kind == ResultChat
	Plan   *models.TradePlan `json:"plan,omitempty"`   // Kind == ResultPlan
}

// Ask routes a user message: trade intents become enriched plans
// awaiting confirmation, everything else is answered conversationally.
func (a *Assistant) Ask(ctx context.Context, text string) (*AskResult, error) {
	parsed, err := intent.Parse(ctx, a.provider, text)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		answer, err := a.Chat(ctx, text)
		if err != nil {
			return nil, err
		}
		return &AskResult{Kind: ResultChat, Answer: answer}, nil
	}

	plan, err := intent.BuildPlan(parsed, a.planOpts)
	if err != nil {
		return nil, err
	}
	if a.market != nil {
		if err := intent.Enrich(ctx, plan, a.market); err != nil {
			return nil, err
		}
	}
	return &AskResult{Kind: ResultPlan, Plan: plan}, nil
}

// ExecutePlan runs the sufficiency check and submits a confirmed plan.
func (a *Assistant) ExecutePlan(ctx context.Context, plan *models.TradePlan) (*models.OrderResponse, error) {
	if a.broker == nil {
		return nil, fmt.Errorf("no broker configured")
	}
	if err := intent.CheckSufficiency(ctx, plan, a.broker); err != nil {
		return nil, err
	}
	return intent.Execute(ctx, plan, a.broker)
}
