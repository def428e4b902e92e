package sector

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfloor/engine/internal/signals"
)

// sectorBySymbol covers the common large-cap universe; unmapped symbols
// fall into "general".
var sectorBySymbol = map[string]string{
	"AAPL": "technology",
	"MSFT": "technology",
	"GOOG": "technology",
	"META": "technology",
	"NVDA": "semiconductors",
	"AMD":  "semiconductors",
	"INTC": "semiconductors",
	"TSLA": "automotive",
	"F":    "automotive",
	"GM":   "automotive",
	"AMZN": "consumer",
	"WMT":  "consumer",
	"COST": "consumer",
	"JPM":  "financials",
	"BAC":  "financials",
	"GS":   "financials",
	"XOM":  "energy",
	"CVX":  "energy",
	"PFE":  "healthcare",
	"JNJ":  "healthcare",
	"UNH":  "healthcare",
	"COIN": "crypto",
	"MSTR": "crypto",
	"MARA": "crypto",
	"RIOT": "crypto",
}

// For returns the sector tag for a symbol.
func For(symbol string) string {
	if s, ok := sectorBySymbol[strings.ToUpper(symbol)]; ok {
		return s
	}
	return "general"
}

// TitleSource supplies recent headline titles for a free-form query; the
// RSS headline provider satisfies it.
type TitleSource interface {
	TitlesForQuery(ctx context.Context, query string) []string
}

type cachedScore struct {
	score   float64
	fetched time.Time
}

// Filter scores sector-level news sentiment so Risk can drop candidates
// whose whole sector is under pressure. Scores cache for ten minutes; a
// failed scrape reads as neutral.
type Filter struct {
	source TitleSource

	mu    sync.Mutex
	cache map[string]cachedScore
	ttl   time.Duration
}

// NewFilter wraps a title source with the sector sentiment cache.
func NewFilter(source TitleSource) *Filter {
	return &Filter{
		source: source,
		cache:  make(map[string]cachedScore),
		ttl:    10 * time.Minute,
	}
}

// Sentiment returns the keyword sentiment in [-1, +1] for the symbol's
// sector.
func (f *Filter) Sentiment(ctx context.Context, symbol string) float64 {
	sec := For(symbol)

	f.mu.Lock()
	if c, ok := f.cache[sec]; ok && time.Since(c.fetched) < f.ttl {
		f.mu.Unlock()
		return c.score
	}
	f.mu.Unlock()

	score := 0.0
	if f.source != nil {
		titles := f.source.TitlesForQuery(ctx, sec+" sector stocks")
		if len(titles) > 0 {
			total := 0.0
			for _, t := range titles {
				total += signals.KeywordScore(t)
			}
			score = total / float64(len(titles))
		}
	}
	log.Debug().Str("sector", sec).Float64("sentiment", score).Msg("sector sentiment")

	f.mu.Lock()
	f.cache[sec] = cachedScore{score: score, fetched: time.Now()}
	f.mu.Unlock()
	return score
}
