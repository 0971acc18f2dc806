package finhop

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

type stubCalculator struct {
	calls      int
	failMetric string
}

func (s *stubCalculator) Calculate(_ context.Context, metric string, params map[string]any, depOutputs map[string]map[string]any) (map[string]any, error) {
	s.calls++
	if metric == s.failMetric {
		return nil, fmt.Errorf("unsupported metric %q", metric)
	}
	ticker, _ := params["ticker"].(string)
	return map[string]any{
		"metric":     metric,
		"ticker":     ticker,
		"value":      float64(s.calls),
		"inputs":     len(depOutputs),
		"confidence": 0.9,
	}, nil
}

func TestChainWeakestLinkConfidence(t *testing.T) {
	chain := NewReasoningChain("test", &stubCalculator{}, nil)
	for i, conf := range []float64{0.95, 0.5, 0.9} {
		chain.AddStep(&ReasoningStep{
			StepNumber:  i + 1,
			Description: fmt.Sprintf("step %d", i+1),
			Action:      StepActionCalculate,
			Inputs:      map[string]any{"metric": "volatility", "ticker": "AAPL"},
			Confidence:  conf,
		})
	}

	result := chain.Execute(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if result.OverallConfidence != 0.5 {
		t.Errorf("expected overall confidence 0.5, got %v", result.OverallConfidence)
	}
}

func TestChainEmptyFailsImmediately(t *testing.T) {
	chain := NewReasoningChain("test", &stubCalculator{}, nil)
	result := chain.Execute(context.Background())
	if result.Success {
		t.Fatal("expected failure for empty chain")
	}
	if !strings.Contains(result.Error, "no steps") {
		t.Errorf("expected an empty-chain error message, got %q", result.Error)
	}
	if len(result.Steps) != 0 {
		t.Errorf("no steps may execute on an empty chain, got %d", len(result.Steps))
	}
}

func TestChainSequentialExecutionFeedsPriorOutputs(t *testing.T) {
	calc := &stubCalculator{}
	chain := NewReasoningChain("compare", calc, nil)
	chain.AddStep(&ReasoningStep{
		StepNumber: 1, Description: "calc A", Action: StepActionCalculate,
		Inputs: map[string]any{"metric": "sharpe_ratio", "ticker": "AAPL"}, Confidence: 0.95,
	})
	chain.AddStep(&ReasoningStep{
		StepNumber: 2, Description: "calc B", Action: StepActionCalculate,
		Inputs: map[string]any{"metric": "sharpe_ratio", "ticker": "MSFT"}, Confidence: 0.95,
	})
	chain.AddStep(&ReasoningStep{
		StepNumber: 3, Description: "compare", Action: StepActionCompare,
		Inputs: map[string]any{"metric": "sharpe_ratio"}, Confidence: 0.9,
	})

	result := chain.Execute(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got: %s", result.Error)
	}
	if calc.calls != 3 {
		t.Errorf("expected 3 calculator calls, got %d", calc.calls)
	}
	// The compare step receives both prior outputs.
	if result.FinalOutput["inputs"] != 2 {
		t.Errorf("expected compare to see 2 prior outputs, got %v", result.FinalOutput["inputs"])
	}
	if len(result.Steps) != 3 {
		t.Errorf("expected 3 executed steps, got %d", len(result.Steps))
	}
}

func TestChainExplanationListsEveryStep(t *testing.T) {
	chain := NewReasoningChain("test", &stubCalculator{}, nil)
	chain.AddStep(&ReasoningStep{
		StepNumber: 1, Description: "Calculate volatility for AAPL", Action: StepActionCalculate,
		Inputs: map[string]any{"metric": "volatility", "ticker": "AAPL"}, Confidence: 0.95,
	})

	result := chain.Execute(context.Background())
	if result.Explanation == "" {
		t.Fatal("explanation must be non-empty after at least one executed step")
	}
	if !strings.Contains(result.Explanation, "Calculate volatility for AAPL") {
		t.Errorf("explanation should contain the step description, got %q", result.Explanation)
	}
	if !strings.Contains(result.Explanation, "95%") {
		t.Errorf("explanation should contain the step confidence, got %q", result.Explanation)
	}
}

func TestChainStopsOnStepFailure(t *testing.T) {
	calc := &stubCalculator{failMetric: "compare"}
	chain := NewReasoningChain("compare", calc, nil)
	chain.AddStep(&ReasoningStep{
		StepNumber: 1, Description: "calc A", Action: StepActionCalculate,
		Inputs: map[string]any{"metric": "sharpe_ratio", "ticker": "AAPL"}, Confidence: 0.95,
	})
	chain.AddStep(&ReasoningStep{
		StepNumber: 2, Description: "compare", Action: StepActionCompare,
		Inputs: map[string]any{"metric": "sharpe_ratio"}, Confidence: 0.9,
	})
	chain.AddStep(&ReasoningStep{
		StepNumber: 3, Description: "never runs", Action: StepActionConclude,
		Inputs: map[string]any{}, Confidence: 0.8,
	})

	result := chain.Execute(context.Background())
	if result.Success {
		t.Fatal("expected failure")
	}
	if len(result.Steps) != 1 {
		t.Errorf("expected only the first step to have executed, got %d", len(result.Steps))
	}
	if calc.calls != 2 {
		t.Errorf("expected execution to stop after the failing call, got %d calls", calc.calls)
	}
	if result.Explanation == "" {
		t.Error("explanation must cover the executed prefix")
	}
}

func TestChainBuilderComparisonTemplate(t *testing.T) {
	builder := NewReasoningChainBuilder(&stubCalculator{}, nil)
	chain, err := builder.Build("Compare the volatility of AAPL and MSFT")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(chain.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(chain.Steps))
	}
	if chain.Steps[2].Action != StepActionCompare {
		t.Errorf("expected terminal COMPARE step, got %s", chain.Steps[2].Action)
	}
	for i, step := range chain.Steps {
		if step.StepNumber != i+1 {
			t.Errorf("step numbers must increase strictly: step %d has number %d", i, step.StepNumber)
		}
	}
}

func TestChainBuilderValuationTemplate(t *testing.T) {
	builder := NewReasoningChainBuilder(&stubCalculator{}, nil)
	chain, err := builder.Build("Is AAPL undervalued?")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(chain.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(chain.Steps))
	}
	if chain.Steps[3].Action != StepActionConclude {
		t.Errorf("expected terminal CONCLUDE step, got %s", chain.Steps[3].Action)
	}

	result := chain.Execute(context.Background())
	if !result.Success {
		t.Fatalf("valuation chain failed: %s", result.Error)
	}
}

func TestChainBuilderSingleCalculationTemplate(t *testing.T) {
	builder := NewReasoningChainBuilder(&stubCalculator{}, nil)
	chain, err := builder.Build("What is the beta of TSLA?")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(chain.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(chain.Steps))
	}
	if chain.Steps[0].Inputs["metric"] != "beta" || chain.Steps[0].Inputs["ticker"] != "TSLA" {
		t.Errorf("unexpected step inputs: %v", chain.Steps[0].Inputs)
	}
}

func TestChainBuilderRejectsUnrecognizedQuery(t *testing.T) {
	builder := NewReasoningChainBuilder(&stubCalculator{}, nil)
	if _, err := builder.Build("tell me a joke"); err == nil {
		t.Fatal("expected error for unrecognized query")
	}
}
