package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/finsageai/finsage/pkg/models"
	"github.com/finsageai/finsage/pkg/utils"
)

// NewsSource represents a financial news feed configuration.
type NewsSource struct {
	Name    string
	RSSURL  string
	BaseURL string
}

// DefaultNewsSources lists the configured US market news RSS feeds.
var DefaultNewsSources = []NewsSource{
	{
		Name:    "Yahoo Finance",
		RSSURL:  "https://finance.yahoo.com/news/rssindex",
		BaseURL: "https://finance.yahoo.com",
	},
	{
		Name:    "CNBC Markets",
		RSSURL:  "https://search.cnbc.com/rs/search/combinedcms/view.xml?partnerId=wrss01&id=20910258",
		BaseURL: "https://www.cnbc.com",
	},
	{
		Name:    "MarketWatch",
		RSSURL:  "https://feeds.content.dowjones.io/public/rss/mw_topstories",
		BaseURL: "https://www.marketwatch.com",
	},
	{
		Name:    "Investing.com Stock News",
		RSSURL:  "https://www.investing.com/rss/news_25.rss",
		BaseURL: "https://www.investing.com",
	},
}

// News implements financial news fetching from RSS sources.
type News struct {
	sources []NewsSource
	cache   *Cache
	limiter *RateLimiter
	parser  *gofeed.Parser
}

// NewNews creates a news fetcher with the default sources.
func NewNews() *News {
	return NewNewsWithSources(DefaultNewsSources)
}

// NewNewsWithSources creates a news fetcher with custom sources.
func NewNewsWithSources(sources []NewsSource) *News {
	return &News{
		sources: sources,
		cache:   NewCache(10 * time.Minute),
		limiter: NewRateLimiter(2, time.Second), // conservative: 2 req/s
		parser:  gofeed.NewParser(),
	}
}

// Name returns the data source name.
func (n *News) Name() string { return "Market News" }

// GetMarketNews returns recent market news from all configured sources.
func (n *News) GetMarketNews(ctx context.Context, limit int) ([]models.NewsArticle, error) {
	cacheKey := fmt.Sprintf("news:market:%d", limit)
	if cached, ok := n.cache.Get(cacheKey); ok {
		return cached.([]models.NewsArticle), nil
	}

	var allArticles []models.NewsArticle
	for _, src := range n.sources {
		articles, err := n.fetchRSS(ctx, src)
		if err != nil {
			// Non-critical: skip failed sources.
			continue
		}
		allArticles = append(allArticles, articles...)
	}

	sortArticlesByDate(allArticles)

	if limit > 0 && len(allArticles) > limit {
		allArticles = allArticles[:limit]
	}

	n.cache.Set(cacheKey, allArticles)
	return allArticles, nil
}

// GetStockNews returns news articles related to a specific symbol.
func (n *News) GetStockNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error) {
	sym := utils.NormalizeSymbol(symbol)

	cacheKey := fmt.Sprintf("news:stock:%s:%d", sym, limit)
	if cached, ok := n.cache.Get(cacheKey); ok {
		return cached.([]models.NewsArticle), nil
	}

	// Fetch all market news, then filter by symbol mention.
	allNews, err := n.GetMarketNews(ctx, 0)
	if err != nil {
		return nil, err
	}

	var filtered []models.NewsArticle
	keywords := symbolKeywords(sym)
	for _, a := range allNews {
		if matchesAny(a.Title+" "+a.Summary, keywords) {
			filtered = append(filtered, a)
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	n.cache.Set(cacheKey, filtered)
	return filtered, nil
}

// --- Internal helpers ---

// fetchRSS parses an RSS feed and returns articles.
func (n *News) fetchRSS(ctx context.Context, src NewsSource) ([]models.NewsArticle, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feed, err := n.parser.ParseURLWithContext(src.RSSURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", src.Name, err)
	}

	articles := make([]models.NewsArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := models.NewsArticle{
			Title:   item.Title,
			URL:     item.Link,
			Source:  src.Name,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		}
		articles = append(articles, a)
	}

	return articles, nil
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

// symbolKeywords returns search keywords for a ticker.
// For example, "AAPL" → ["aapl", "apple"].
func symbolKeywords(symbol string) []string {
	s := strings.ToLower(symbol)
	keywords := []string{s}

	// Common company name mappings for headline matching.
	nameMap := map[string][]string{
		"aapl":  {"apple"},
		"msft":  {"microsoft"},
		"googl": {"google", "alphabet"},
		"goog":  {"google", "alphabet"},
		"amzn":  {"amazon"},
		"meta":  {"meta platforms", "facebook"},
		"nvda":  {"nvidia"},
		"tsla":  {"tesla", "elon musk"},
		"brk.b": {"berkshire", "buffett"},
		"jpm":   {"jpmorgan", "jp morgan"},
		"bac":   {"bank of america"},
		"wmt":   {"walmart"},
		"dis":   {"disney"},
		"nflx":  {"netflix"},
		"amd":   {"advanced micro devices"},
		"intc":  {"intel"},
		"xom":   {"exxon"},
		"cvx":   {"chevron"},
		"ko":    {"coca-cola", "coca cola"},
		"spy":   {"s&p 500", "s&p500"},
		"qqq":   {"nasdaq 100", "nasdaq-100"},
	}

	if extra, ok := nameMap[s]; ok {
		keywords = append(keywords, extra...)
	}

	return keywords
}

// matchesAny checks if text contains any of the keywords (case-insensitive).
func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// sortArticlesByDate sorts articles by published date (newest first).
// Simple insertion sort, fine for small slices.
func sortArticlesByDate(articles []models.NewsArticle) {
	for i := 1; i < len(articles); i++ {
		key := articles[i]
		j := i - 1
		for j >= 0 && articles[j].PublishedAt.Before(key.PublishedAt) {
			articles[j+1] = articles[j]
			j--
		}
		articles[j+1] = key
	}
}
