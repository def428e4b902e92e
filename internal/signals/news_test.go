package signals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		name     string
		headline string
		want     float64
	}{
		{"strong positive", "Shares surge to record levels", 1.0},
		{"strong negative", "Company faces bankruptcy after fraud charges", -1.0},
		{"mixed polarity averages", "Stock gains despite lawsuit", (0.3 - 0.6) / 0.9},
		{"no signal terms", "Company announces quarterly report date", 0},
		{"negator flips polarity", "Company denies fraud allegations", 1.0},
		{"negator within three tokens flips", "Company fails to deliver growth", -1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, KeywordScore(tt.headline), 1e-9)
		})
	}
}

func TestKeywordScoreNegatorOutsideWindow(t *testing.T) {
	// "no" sits four tokens before "gains": polarity stays positive.
	got := KeywordScore("no one expected such big gains")
	assert.InDelta(t, 1.0, got, 1e-9)
}

type staticHeadlines struct {
	titles []string
}

func (s staticHeadlines) Headlines(_ context.Context, _ string) []string { return s.titles }

func TestNewsScorerDeduplicatesHeadlines(t *testing.T) {
	scorer := NewNewsScorer(staticHeadlines{titles: []string{
		"Stock surges on earnings beat",
		"stock   SURGES on earnings beat", // same after normalization
		"Shares drop on weak guidance",
	}})

	got := scorer.Score(context.Background(), "AAPL")
	// Two unique headlines: one positive, one negative.
	want := (KeywordScore("Stock surges on earnings beat") + KeywordScore("Shares drop on weak guidance")) / 2
	assert.InDelta(t, want, got, 1e-9)
}

func TestNewsScorerCachesPerSymbol(t *testing.T) {
	scorer := NewNewsScorer(staticHeadlines{titles: []string{"Stock surges today"}})

	first := scorer.Score(context.Background(), "NVDA")
	second := scorer.Score(context.Background(), "NVDA")
	// Second call hits the cache rather than re-deduplicating to zero.
	assert.Equal(t, first, second)
	assert.NotZero(t, first)
}

func TestNewsScorerEmptyProvider(t *testing.T) {
	scorer := NewNewsScorer(staticHeadlines{})
	assert.Zero(t, scorer.Score(context.Background(), "TSLA"))
}
