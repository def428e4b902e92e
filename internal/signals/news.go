package signals

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// HeadlineProvider returns recent headline titles for a symbol. Transient
// failures surface as an empty slice; the news score then contributes 0.
type HeadlineProvider interface {
	Headlines(ctx context.Context, symbol string) []string
}

// Signed lexical weights. Terms appearing in both polarities are ambiguous
// and ignored by the scorer.
var (
	positiveTerms = map[string]float64{
		// strong
		"surge": 1.0, "surges": 1.0, "soar": 1.0, "soars": 1.0, "breakout": 1.0,
		"record": 1.0, "boom": 1.0,
		// medium
		"rally": 0.6, "rallies": 0.6, "jump": 0.6, "jumps": 0.6, "beat": 0.6,
		"beats": 0.6, "upgrade": 0.6, "upgrades": 0.6, "outperform": 0.6,
		"bullish": 0.6, "upside": 0.6, "accelerate": 0.6,
		// weak
		"gain": 0.3, "gains": 0.3, "rise": 0.3, "rises": 0.3, "strong": 0.3,
		"growth": 0.3, "profit": 0.3, "positive": 0.3, "optimism": 0.3,
		"recover": 0.3, "recovery": 0.3, "expand": 0.3, "deal": 0.3,
		"partnership": 0.3, "buy": 0.3, "high": 0.3,
	}
	negativeTerms = map[string]float64{
		// strong
		"crash": 1.0, "crashes": 1.0, "plunge": 1.0, "plunges": 1.0,
		"fraud": 1.0, "default": 1.0, "bankruptcy": 1.0,
		// medium
		"tumble": 0.6, "slump": 0.6, "sink": 0.6, "sinks": 0.6, "downgrade": 0.6,
		"downgrades": 0.6, "bearish": 0.6, "miss": 0.6, "misses": 0.6,
		"lawsuit": 0.6, "investigation": 0.6, "probe": 0.6, "recession": 0.6,
		"layoff": 0.6, "layoffs": 0.6,
		// weak
		"drop": 0.3, "drops": 0.3, "fall": 0.3, "falls": 0.3, "decline": 0.3,
		"declines": 0.3, "weak": 0.3, "loss": 0.3, "losses": 0.3, "sell": 0.3,
		"negative": 0.3, "fear": 0.3, "risk": 0.3, "warning": 0.3, "warn": 0.3,
		"debt": 0.3, "cut": 0.3, "cuts": 0.3, "concern": 0.3, "volatile": 0.3,
		"uncertainty": 0.3, "low": 0.3,
	}
	negators = map[string]bool{
		"not": true, "no": true, "never": true, "denies": true, "fails": true,
		"without": true,
	}

	wordRe  = regexp.MustCompile(`[a-z]+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// KeywordScore scores a headline in [-1, +1] from the signed lexicons.
// A negator within the three preceding tokens flips a term's polarity.
func KeywordScore(text string) float64 {
	tokens := wordRe.FindAllString(strings.ToLower(text), -1)
	total := 0.0
	magnitude := 0.0

	for i, tok := range tokens {
		pw, isPos := positiveTerms[tok]
		nw, isNeg := negativeTerms[tok]
		if isPos && isNeg {
			continue // ambiguous term
		}

		var w float64
		switch {
		case isPos:
			w = pw
		case isNeg:
			w = -nw
		default:
			continue
		}

		start := i - 3
		if start < 0 {
			start = 0
		}
		for j := start; j < i; j++ {
			if negators[tokens[j]] {
				w = -w
				break
			}
		}

		total += w
		magnitude += abs(w)
	}

	if magnitude == 0 {
		return 0
	}
	return clamp(total/magnitude, -1, 1)
}

// NewsScorer aggregates deduplicated headline sentiment per symbol.
// Dedup state spans the scorer's lifetime (one workflow invocation).
type NewsScorer struct {
	mu       sync.Mutex
	provider HeadlineProvider
	seen     map[uint64]bool
	cache    map[string]float64
}

// NewNewsScorer wraps a headline provider with dedup and per-symbol caching.
func NewNewsScorer(provider HeadlineProvider) *NewsScorer {
	return &NewsScorer{
		provider: provider,
		seen:     make(map[uint64]bool),
		cache:    make(map[string]float64),
	}
}

// Score returns the symbol's average headline sentiment in [-1, +1],
// or 0 when no fresh headlines are available.
func (n *NewsScorer) Score(ctx context.Context, symbol string) float64 {
	n.mu.Lock()
	if cached, ok := n.cache[symbol]; ok {
		n.mu.Unlock()
		return cached
	}
	n.mu.Unlock()

	headlines := n.provider.Headlines(ctx, symbol)

	n.mu.Lock()
	defer n.mu.Unlock()

	sum := 0.0
	count := 0
	for _, h := range headlines {
		key := headlineHash(h)
		if n.seen[key] {
			continue
		}
		n.seen[key] = true
		sum += KeywordScore(h)
		count++
	}

	score := 0.0
	if count > 0 {
		score = sum / float64(count)
	}
	n.cache[symbol] = score
	return score
}

// headlineHash is a normalized hash over headline text used for dedup.
func headlineHash(headline string) uint64 {
	normalized := spaceRe.ReplaceAllString(strings.TrimSpace(strings.ToLower(headline)), " ")
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return h.Sum64()
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
