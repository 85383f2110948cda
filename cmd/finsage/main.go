// FinSage: AI financial assistant with natural-language trading.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/finsageai/finsage/api"
	"github.com/finsageai/finsage/internal/assistant"
	"github.com/finsageai/finsage/internal/broker"
	"github.com/finsageai/finsage/internal/config"
	"github.com/finsageai/finsage/internal/intent"
	"github.com/finsageai/finsage/internal/llm"
	"github.com/finsageai/finsage/internal/marketdata"
	"github.com/finsageai/finsage/pkg/models"
	"github.com/finsageai/finsage/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "finsage",
	Short: "FinSage — AI financial assistant with natural-language trading",
	Long: `FinSage
Ask financial questions, get live quotes and option chains, and place
paper trades in plain English. "buy 2 AAPL 175 calls expiring friday"
becomes a validated, priced order awaiting your confirmation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(tradeCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(expirationsCmd)
	rootCmd.AddCommand(positionsCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(newsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

// --- Wiring helpers ---

func buildMarket() *marketdata.Yahoo {
	return marketdata.NewYahoo(
		marketdata.WithQuoteTTL(time.Duration(cfg.Data.QuoteCacheTTLSec)*time.Second),
		marketdata.WithChainTTL(time.Duration(cfg.Data.ChainCacheTTLSec)*time.Second),
		marketdata.WithRequestsPerSec(cfg.Data.RequestsPerSec),
	)
}

func buildBroker() broker.Broker {
	if cfg.Broker.Provider == "alpaca" && cfg.Broker.Alpaca.APIKey != "" {
		return broker.NewAlpacaBroker(&broker.AlpacaConfig{
			APIKey:    cfg.Broker.Alpaca.APIKey,
			APISecret: cfg.Broker.Alpaca.APISecret,
			BaseURL:   cfg.Broker.Alpaca.BaseURL,
		})
	}
	return broker.NewPaperBroker(nil)
}

func buildAssistant() (*assistant.Assistant, error) {
	planOpts := intent.Options{
		DefaultQty: cfg.Trading.DefaultQty,
		MaxQty:     cfg.Trading.MaxOrderQty,
	}

	router, err := llm.NewRouterFromConfig(cfg)
	if err != nil {
		if !errors.Is(err, llm.ErrNoProviders) {
			return nil, fmt.Errorf("LLM setup failed: %w", err)
		}
		// No API keys. Trading still works via regex extraction; the
		// conversational commands report the missing provider.
		return assistant.New(nil, buildMarket(), buildBroker(), planOpts), nil
	}
	return assistant.New(router, buildMarket(), buildBroker(), planOpts), nil
}

// argOrFlag returns the first positional argument, falling back to the
// named flag. The original accepted both forms.
func argOrFlag(cmd *cobra.Command, args []string, flag string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	v, _ := cmd.Flags().GetString(flag)
	return v
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Minute)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("FinSage %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Ask Command ---

var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Ask anything — questions get answers, trade requests get orders",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asst, err := buildAssistant()
		if err != nil {
			return err
		}

		ctx, cancel := cmdContext()
		defer cancel()

		text := strings.Join(args, " ")
		result, err := asst.Ask(ctx, text)
		if err != nil {
			return err
		}

		if result.Kind == assistant.ResultChat {
			fmt.Println(result.Answer)
			return nil
		}
		return confirmAndExecute(ctx, asst, result.Plan, false)
	},
}

// --- AI Commands ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [data]",
	Short: "Analyze financial data with AI",
	RunE: func(cmd *cobra.Command, args []string) error {
		data := argOrFlag(cmd, args, "data")
		if data == "" {
			return fmt.Errorf("provide data to analyze (positional or --data)")
		}

		asst, err := buildAssistant()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		answer, err := asst.Analyze(ctx, data)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain [term]",
	Short: "Explain a financial term",
	RunE: func(cmd *cobra.Command, args []string) error {
		term := argOrFlag(cmd, args, "term")
		if term == "" {
			return fmt.Errorf("provide a term to explain (positional or --term)")
		}

		asst, err := buildAssistant()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		answer, err := asst.Explain(ctx, term)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest [context]",
	Short: "Get investment suggestions for a situation",
	RunE: func(cmd *cobra.Command, args []string) error {
		investCtx := argOrFlag(cmd, args, "context")
		if investCtx == "" {
			return fmt.Errorf("provide investment context (positional or --context)")
		}

		asst, err := buildAssistant()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		answer, err := asst.Suggest(ctx, investCtx)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Chat with the financial assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		question := argOrFlag(cmd, args, "question")
		if question == "" {
			return fmt.Errorf("provide a question (positional or --question)")
		}

		asst, err := buildAssistant()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		answer, err := asst.Chat(ctx, question)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringP("data", "d", "", "financial data to analyze")
	explainCmd.Flags().StringP("term", "t", "", "financial term to explain")
	suggestCmd.Flags().StringP("context", "c", "", "investment context")
	chatCmd.Flags().StringP("question", "q", "", "question for the assistant")
}

// --- Trade Command ---

var tradeCmd = &cobra.Command{
	Use:   "trade [text]",
	Short: "Place a trade from plain English",
	Long: `Parse a natural-language trade request, price it against live market
data, and submit it to the configured broker after confirmation.

Examples:
  finsage trade "buy 10 shares of AAPL"
  finsage trade "buy 2 SPY 450 calls expiring friday"
  finsage trade --yes "sell 5 TSLA"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		asst, err := buildAssistant()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		text := strings.Join(args, " ")
		result, err := asst.Ask(ctx, text)
		if err != nil {
			return err
		}
		if result.Kind != assistant.ResultPlan {
			return fmt.Errorf("that doesn't look like a trade request: %q", text)
		}
		return confirmAndExecute(ctx, asst, result.Plan, yes)
	},
}

func init() {
	tradeCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
}

// confirmAndExecute prints the enriched plan, prompts unless bypassed,
// and submits the order.
func confirmAndExecute(ctx context.Context, asst *assistant.Assistant, plan *models.TradePlan, skipPrompt bool) error {
	fmt.Println("📋 Trade Plan")
	fmt.Printf("   %s\n", plan.Summary())
	if plan.EstCost > 0 {
		fmt.Printf("   Estimated cost: %s\n", utils.FormatMoney(plan.EstCost))
	}

	if !skipPrompt && cfg.Trading.RequireConfirmation {
		fmt.Print("Proceed? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "y" && answer != "yes" {
			fmt.Println("❌ Canceled.")
			return nil
		}
	}

	resp, err := asst.ExecutePlan(ctx, plan)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Order %s — %s\n", resp.OrderID, resp.Status)
	if resp.Message != "" {
		fmt.Printf("   %s\n", resp.Message)
	}
	return nil
}

// --- Market Data Commands ---

var quoteCmd = &cobra.Command{
	Use:   "quote [symbol]",
	Short: "Show a live quote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := utils.NormalizeSymbol(args[0])
		ctx, cancel := cmdContext()
		defer cancel()

		quote, err := buildMarket().GetQuote(ctx, symbol)
		if err != nil {
			return err
		}

		fmt.Printf("📈 %s", quote.Symbol)
		if quote.Name != "" {
			fmt.Printf(" — %s", quote.Name)
		}
		fmt.Println()
		fmt.Printf("   Last:      %s (%s / %s)\n",
			utils.FormatMoney(quote.LastPrice),
			utils.FormatMoney(quote.Change),
			utils.FormatPct(quote.ChangePct))
		fmt.Printf("   Day:       %s - %s (open %s)\n",
			utils.FormatMoney(quote.Low), utils.FormatMoney(quote.High), utils.FormatMoney(quote.Open))
		fmt.Printf("   52wk:      %s - %s\n",
			utils.FormatMoney(quote.WeekLow52), utils.FormatMoney(quote.WeekHigh52))
		fmt.Printf("   Volume:    %s\n", utils.FormatQty(int(quote.Volume)))
		return nil
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain [symbol]",
	Short: "Show an option chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := utils.NormalizeSymbol(args[0])

		var expiry time.Time
		if v, _ := cmd.Flags().GetString("expiry"); v != "" {
			var err error
			expiry, err = time.Parse("2006-01-02", v)
			if err != nil {
				return fmt.Errorf("invalid expiry %q; use YYYY-MM-DD", v)
			}
		}

		ctx, cancel := cmdContext()
		defer cancel()

		chain, err := buildMarket().GetOptionChain(ctx, symbol, expiry)
		if err != nil {
			return err
		}

		fmt.Printf("⛓️  %s options — expiry %s (spot %s)\n",
			chain.Underlying, chain.Expiry, utils.FormatMoney(chain.SpotPrice))
		fmt.Printf("   %-22s %-5s %9s %9s %9s %9s %8s\n",
			"Contract", "Type", "Strike", "Bid", "Ask", "Last", "OI")
		for _, c := range chain.Contracts {
			fmt.Printf("   %-22s %-5s %9.2f %9.2f %9.2f %9.2f %8d\n",
				c.Symbol, c.Type, c.Strike, c.Bid, c.Ask, c.LastPrice, c.OI)
		}
		return nil
	},
}

var expirationsCmd = &cobra.Command{
	Use:   "expirations [symbol]",
	Short: "List option expiration dates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := utils.NormalizeSymbol(args[0])
		ctx, cancel := cmdContext()
		defer cancel()

		expirations, err := buildMarket().GetExpirations(ctx, symbol)
		if err != nil {
			return err
		}

		fmt.Printf("📅 %s expirations:\n", symbol)
		for _, e := range expirations {
			fmt.Printf("   %s\n", e.UTC().Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	chainCmd.Flags().String("expiry", "", "expiration date (YYYY-MM-DD, default nearest)")
}

// --- Brokerage Commands ---

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		positions, err := buildBroker().GetPositions(ctx)
		if err != nil {
			return err
		}
		if len(positions) == 0 {
			fmt.Println("No open positions.")
			return nil
		}

		fmt.Printf("%-20s %8s %12s %12s %12s\n", "Symbol", "Qty", "Avg Entry", "Current", "Unrlzd P&L")
		for _, p := range positions {
			fmt.Printf("%-20s %8d %12s %12s %12s\n",
				p.Symbol, p.Qty,
				utils.FormatMoney(p.AvgEntryPrice),
				utils.FormatMoney(p.CurrentPrice),
				utils.FormatMoney(p.UnrealizedPL))
		}
		return nil
	},
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		orders, err := buildBroker().GetOrders(ctx)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			fmt.Println("No orders.")
			return nil
		}

		fmt.Printf("%-28s %-20s %-5s %6s %-8s %-10s\n", "Order ID", "Symbol", "Side", "Qty", "Type", "Status")
		for _, o := range orders {
			fmt.Printf("%-28s %-20s %-5s %6d %-8s %-10s\n",
				o.OrderID, o.Symbol, o.Side, o.Qty, o.Type, o.Status)
		}
		return nil
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show account balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		b := buildBroker()
		account, err := b.GetAccount(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("💰 Account %s (%s)\n", account.ID, b.Name())
		fmt.Printf("   Cash:            %s\n", utils.FormatMoney(account.Cash))
		fmt.Printf("   Buying Power:    %s\n", utils.FormatMoney(account.BuyingPower))
		fmt.Printf("   Portfolio Value: %s\n", utils.FormatMoney(account.PortfolioValue))
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [order-id]",
	Short: "Cancel an open order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		if err := buildBroker().CancelOrder(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✅ Order %s canceled.\n", args[0])
		return nil
	},
}

// --- News Command ---

var newsCmd = &cobra.Command{
	Use:   "news [symbol]",
	Short: "Show market or stock headlines",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := cmdContext()
		defer cancel()

		news := marketdata.NewNews()
		var articles []models.NewsArticle
		var err error
		if len(args) == 1 {
			symbol := utils.NormalizeSymbol(args[0])
			articles, err = news.GetStockNews(ctx, symbol, limit)
		} else {
			articles, err = news.GetMarketNews(ctx, limit)
		}
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			fmt.Println("No headlines found.")
			return nil
		}

		for _, a := range articles {
			fmt.Printf("📰 %s\n", a.Title)
			fmt.Printf("   %s — %s\n", a.Source, a.PublishedAt.Format("Jan 2 15:04"))
			if a.URL != "" {
				fmt.Printf("   %s\n", a.URL)
			}
		}
		return nil
	},
}

func init() {
	newsCmd.Flags().Int("limit", 10, "maximum number of headlines")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  FinSage — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:     %s (%s)\n", version, commit)
		fmt.Printf("  Time (ET):   %s\n", utils.NowEastern().Format("2006-01-02 15:04:05 MST"))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    AI Provider:   %s\n", cfg.AI.Provider)
		fmt.Printf("    Broker:        %s\n", cfg.Broker.Provider)
		fmt.Printf("    Default Qty:   %d (max %d)\n", cfg.Trading.DefaultQty, cfg.Trading.MaxOrderQty)
		fmt.Printf("    Confirmation:  %v\n", cfg.Trading.RequireConfirmation)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  API Keys:")
		keys := config.CheckAPIKeys(cfg)
		for _, k := range keys {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}
		fmt.Println()

		// Provider reachability, when keys are present.
		if cfg.AI.OpenAIKey != "" || cfg.AI.AnthropicKey != "" {
			fmt.Println("  Providers:")
			router, err := llm.NewRouterFromConfig(cfg)
			if err != nil {
				fmt.Printf("    ❌ %v\n", err)
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				for name, result := range router.HealthCheck(ctx) {
					mark := "✅ reachable"
					if result != nil {
						mark = fmt.Sprintf("❌ %v", result)
					}
					fmt.Printf("    %-12s %s\n", name+":", mark)
				}
			}
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := api.NewServer(cfg)
		if err != nil {
			return err
		}

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("🌐 FinSage API listening on %s\n", addr)
		return srv.ListenAndServe(addr)
	},
}
