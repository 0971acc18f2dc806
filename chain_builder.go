package finhop

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/quantrel/finhop/internal/queryparse"
)

// ReasoningChainBuilder assembles a ReasoningChain from a free-text query
// using the same template vocabulary as the decomposer, but producing a
// strictly linear step list instead of a dependency graph.
type ReasoningChainBuilder struct {
	parser     *queryparse.Parser
	calculator Calculator
	logger     *zap.Logger
}

// NewReasoningChainBuilder creates a builder over the given calculator.
func NewReasoningChainBuilder(calculator Calculator, logger *zap.Logger) *ReasoningChainBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReasoningChainBuilder{
		parser:     queryparse.NewParser(),
		calculator: calculator,
		logger:     logger.With(zap.String("component", "chain_builder")),
	}
}

// Build matches the query against the chain templates, most specific first:
// valuation questions get a concluding step, comparisons get a compare step,
// anything else with a metric and a ticker becomes a single calculation.
func (b *ReasoningChainBuilder) Build(query string) (*ReasoningChain, error) {
	parsed := b.parser.Parse(query)
	chain := NewReasoningChain(query, b.calculator, b.logger)

	switch {
	case parsed.Valuation() && len(parsed.Tickers) >= 1:
		b.buildValuation(chain, parsed)
	case parsed.Comparison() && len(parsed.Tickers) >= 2 && parsed.PrimaryMetric() != "":
		b.buildComparison(chain, parsed)
	case parsed.PrimaryMetric() != "" && len(parsed.Tickers) >= 1:
		b.buildCalculation(chain, parsed)
	default:
		return nil, NewDecompositionError(query, fmt.Errorf("no reasoning template matches"))
	}

	b.logger.Debug("reasoning chain built",
		zap.String("query", query),
		zap.Int("steps", len(chain.Steps)))
	return chain, nil
}

// buildValuation answers "is X undervalued" by valuing the ticker against a
// market benchmark and concluding from the comparison.
func (b *ReasoningChainBuilder) buildValuation(chain *ReasoningChain, parsed *queryparse.ParsedQuery) {
	ticker := parsed.Tickers[0]
	benchmark := "SPY"
	if len(parsed.Tickers) >= 2 {
		benchmark = parsed.Tickers[1]
	}

	chain.AddStep(&ReasoningStep{
		StepNumber:  1,
		Description: fmt.Sprintf("Calculate P/E ratio for %s", ticker),
		Action:      StepActionCalculate,
		Inputs:      map[string]any{"metric": "pe_ratio", "ticker": ticker},
		Confidence:  0.9,
	})
	chain.AddStep(&ReasoningStep{
		StepNumber:  2,
		Description: fmt.Sprintf("Calculate P/E ratio for benchmark %s", benchmark),
		Action:      StepActionCalculate,
		Inputs:      map[string]any{"metric": "pe_ratio", "ticker": benchmark},
		Confidence:  0.9,
	})
	chain.AddStep(&ReasoningStep{
		StepNumber:  3,
		Description: fmt.Sprintf("Compare %s valuation against %s", ticker, benchmark),
		Action:      StepActionCompare,
		// A lower P/E wins the valuation comparison.
		Inputs:     map[string]any{"metric": "pe_ratio", "criteria": "left < right"},
		Confidence: 0.85,
	})
	chain.AddStep(&ReasoningStep{
		StepNumber:  4,
		Description: fmt.Sprintf("Conclude whether %s looks under- or overvalued", ticker),
		Action:      StepActionConclude,
		Inputs:      map[string]any{"subject": fmt.Sprintf("valuation of %s", ticker)},
		Confidence:  0.8,
	})
}

func (b *ReasoningChainBuilder) buildComparison(chain *ReasoningChain, parsed *queryparse.ParsedQuery) {
	metric := parsed.PrimaryMetric()
	number := 0
	for _, ticker := range parsed.Tickers {
		number++
		chain.AddStep(&ReasoningStep{
			StepNumber:  number,
			Description: fmt.Sprintf("Calculate %s for %s", metric, ticker),
			Action:      StepActionCalculate,
			Inputs:      map[string]any{"metric": metric, "ticker": ticker},
			Confidence:  0.95,
		})
	}
	chain.AddStep(&ReasoningStep{
		StepNumber:  number + 1,
		Description: fmt.Sprintf("Compare %s across the candidates", metric),
		Action:      StepActionCompare,
		Inputs:      map[string]any{"metric": metric},
		Confidence:  0.9,
	})
}

func (b *ReasoningChainBuilder) buildCalculation(chain *ReasoningChain, parsed *queryparse.ParsedQuery) {
	metric := parsed.PrimaryMetric()
	ticker := parsed.Tickers[0]
	chain.AddStep(&ReasoningStep{
		StepNumber:  1,
		Description: fmt.Sprintf("Calculate %s for %s", metric, ticker),
		Action:      StepActionCalculate,
		Inputs:      map[string]any{"metric": metric, "ticker": ticker},
		Confidence:  0.95,
	})
}
