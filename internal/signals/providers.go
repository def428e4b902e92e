package signals

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

var (
	cdataTitleRe = regexp.MustCompile(`<title><!\[CDATA\[(.*?)\]\]></title>`)
	plainTitleRe = regexp.MustCompile(`<title>(.*?)</title>`)
)

// RSSHeadlineProvider scrapes a news RSS search endpoint for headline
// titles. Timeouts and parse failures yield an empty result so the news
// signal degrades to neutral.
type RSSHeadlineProvider struct {
	client       *resty.Client
	maxHeadlines int
}

// NewRSSHeadlineProvider builds a provider against an RSS search base URL
// such as a Google News mirror.
func NewRSSHeadlineProvider(baseURL string) *RSSHeadlineProvider {
	return &RSSHeadlineProvider{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("User-Agent", "Mozilla/5.0"),
		maxHeadlines: 8,
	}
}

// Headlines returns recent titles for "<symbol> stock".
func (p *RSSHeadlineProvider) Headlines(ctx context.Context, symbol string) []string {
	return p.TitlesForQuery(ctx, symbol+" stock")
}

// TitlesForQuery runs an arbitrary RSS search; the sector filter shares it.
func (p *RSSHeadlineProvider) TitlesForQuery(ctx context.Context, query string) []string {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":    query,
			"hl":   "en-US",
			"gl":   "US",
			"ceid": "US:en",
		}).
		Get("/rss/search")
	if err != nil || resp.IsError() {
		log.Debug().Str("query", query).Err(err).Msg("rss scrape failed")
		return nil
	}

	xml := resp.String()
	matches := cdataTitleRe.FindAllStringSubmatch(xml, -1)
	if len(matches) == 0 {
		matches = plainTitleRe.FindAllStringSubmatch(xml, -1)
	}

	titles := make([]string, 0, p.maxHeadlines)
	for i, m := range matches {
		if i == 0 {
			continue // feed title
		}
		t := html.UnescapeString(m[1])
		if t == "" {
			continue
		}
		titles = append(titles, t)
		if len(titles) >= p.maxHeadlines {
			break
		}
	}
	return titles
}

// StructuredNewsProvider queries a per-article sentiment API. When the
// sentiment endpoint carries an aggregate bullish/bearish split it is used
// directly; otherwise the caller falls back to the keyword path.
type StructuredNewsProvider struct {
	client *resty.Client
	apiKey string
}

type structuredSentiment struct {
	Sentiment struct {
		BullishPercent *float64 `json:"bullishPercent"`
		BearishPercent *float64 `json:"bearishPercent"`
	} `json:"sentiment"`
	CompanyNewsScore *float64 `json:"companyNewsScore"`
}

type structuredArticle struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
}

// NewStructuredNewsProvider builds a provider for a Finnhub-shaped API.
func NewStructuredNewsProvider(baseURL, apiKey string) *StructuredNewsProvider {
	return &StructuredNewsProvider{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		apiKey: apiKey,
	}
}

// Score returns the aggregate sentiment in [-1, +1] and whether data was
// available. Without articles there is nothing to score.
func (p *StructuredNewsProvider) Score(ctx context.Context, symbol string) (float64, bool) {
	var articles []structuredArticle
	now := time.Now().UTC()
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"from":   now.AddDate(0, 0, -1).Format("2006-01-02"),
			"to":     now.Format("2006-01-02"),
			"token":  p.apiKey,
		}).
		SetResult(&articles).
		Get("/company-news")
	if err != nil || resp.IsError() || len(articles) == 0 {
		return 0, false
	}

	var sent structuredSentiment
	resp, err = p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "token": p.apiKey}).
		SetResult(&sent).
		Get("/news-sentiment")
	if err != nil || resp.IsError() {
		return 0, false
	}

	if sent.Sentiment.BullishPercent != nil && sent.Sentiment.BearishPercent != nil {
		return clamp(*sent.Sentiment.BullishPercent-*sent.Sentiment.BearishPercent, -1, 1), true
	}
	if sent.CompanyNewsScore != nil {
		return clamp(*sent.CompanyNewsScore*2-1, -1, 1), true
	}
	return 0, false
}

// Headlines satisfies HeadlineProvider so the keyword path can reuse the
// structured article feed when the aggregate score is unavailable.
func (p *StructuredNewsProvider) Headlines(ctx context.Context, symbol string) []string {
	var articles []structuredArticle
	now := time.Now().UTC()
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"from":   now.AddDate(0, 0, -1).Format("2006-01-02"),
			"to":     now.Format("2006-01-02"),
			"token":  p.apiKey,
		}).
		SetResult(&articles).
		Get("/company-news")
	if err != nil || resp.IsError() {
		return nil
	}

	titles := make([]string, 0, len(articles))
	for _, a := range articles {
		if a.Headline != "" {
			titles = append(titles, a.Headline)
		}
	}
	return titles
}

// String implements fmt.Stringer for debug logs.
func (p *StructuredNewsProvider) String() string {
	return fmt.Sprintf("structured-news(%s)", p.client.BaseURL)
}
