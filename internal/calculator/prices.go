package calculator

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// PriceSource supplies daily closing prices for a ticker, oldest first.
type PriceSource interface {
	DailyPrices(ctx context.Context, ticker string) ([]float64, error)
}

// SyntheticPriceSource generates deterministic price series seeded by the
// ticker symbol, so the same ticker always produces the same history. It
// stands in for a market-data client in tests and demos.
type SyntheticPriceSource struct {
	days int
}

// NewSyntheticPriceSource returns a source producing series of the given
// length. A non-positive length falls back to one trading year.
func NewSyntheticPriceSource(days int) *SyntheticPriceSource {
	if days <= 0 {
		days = tradingDaysPerYear
	}
	return &SyntheticPriceSource{days: days}
}

// DailyPrices generates a geometric random walk for the ticker. Symbols that
// do not look like real tickers (too long, or containing underscores) are
// rejected so plumbing failures surface as errors rather than plausible data.
func (s *SyntheticPriceSource) DailyPrices(ctx context.Context, ticker string) ([]float64, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}
	if ticker == "" || len(ticker) > 6 || strings.Contains(ticker, "_") {
		return nil, fmt.Errorf("unknown ticker %q", ticker)
	}

	h := fnv.New64a()
	h.Write([]byte(ticker))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	// Drift and volatility vary per ticker so comparisons are meaningful.
	drift := 0.0001 + rng.Float64()*0.0009
	vol := 0.008 + rng.Float64()*0.017

	prices := make([]float64, s.days)
	price := 50.0 + rng.Float64()*450.0
	for i := range prices {
		price *= 1 + drift + vol*rng.NormFloat64()
		if price < 1 {
			price = 1
		}
		prices[i] = price
	}
	return prices, nil
}
