package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Provider fetches bar windows for a set of symbols. Symbols that fail or
// return no data are absent from the result; callers tolerate missing keys.
type Provider interface {
	Fetch(ctx context.Context, symbols []string) (map[string]Series, error)
}

// HTTPProvider pulls OHLCV bars from an external chart API. Individual
// symbol failures are dropped silently; a tripped breaker short-circuits
// the remaining symbols in the batch.
type HTTPProvider struct {
	client   *resty.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	cache    *fetchCache
	interval string
	lookback string
	loc      *time.Location
}

type barsResponse struct {
	Bars []struct {
		Ts     int64   `json:"t"`
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
	} `json:"bars"`
}

// NewHTTPProvider builds a provider against baseURL with a 60 s fetch cache.
func NewHTTPProvider(baseURL, interval, lookback string, loc *time.Location) *HTTPProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(1)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "marketdata",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPProvider{
		client:   client,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
		cache:    newFetchCache(60 * time.Second),
		interval: interval,
		lookback: lookback,
		loc:      loc,
	}
}

// Fetch returns bar windows keyed by symbol, serving repeats within the
// cache TTL from memory.
func (p *HTTPProvider) Fetch(ctx context.Context, symbols []string) (map[string]Series, error) {
	key := p.cacheKey(symbols)
	if cached, ok := p.cache.get(key); ok {
		return cached, nil
	}

	out := make(map[string]Series, len(symbols))
	for _, sym := range symbols {
		series, err := p.fetchOne(ctx, sym)
		if err != nil {
			log.Debug().Str("symbol", sym).Err(err).Msg("bar fetch dropped")
			continue
		}
		if len(series) == 0 {
			continue
		}
		out[sym] = series
	}

	p.cache.set(key, out)
	return out, nil
}

func (p *HTTPProvider) fetchOne(ctx context.Context, symbol string) (Series, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		var body barsResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":   symbol,
				"interval": p.interval,
				"lookback": p.lookback,
			}).
			SetResult(&body).
			Get("/v1/bars")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("bars %s: status %d", symbol, resp.StatusCode())
		}
		return &body, nil
	})
	if err != nil {
		return nil, err
	}

	body := result.(*barsResponse)
	series := make(Series, 0, len(body.Bars))
	for _, b := range body.Bars {
		series = append(series, Bar{
			Timestamp: time.Unix(b.Ts, 0).In(p.loc),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	return series, nil
}

func (p *HTTPProvider) cacheKey(symbols []string) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	return strings.Join(sorted, ",") + "|" + p.interval + "|" + p.lookback
}
