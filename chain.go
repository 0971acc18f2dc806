package finhop

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// StepAction tags what a reasoning step does.
type StepAction string

const (
	StepActionCalculate StepAction = "calculate"
	StepActionCompare   StepAction = "compare"
	StepActionAnalyze   StepAction = "analyze"
	StepActionConclude  StepAction = "conclude"
)

// ReasoningStep is one unit of a linear reasoning chain. Output stays nil
// until the step has executed.
type ReasoningStep struct {
	StepNumber  int            `json:"step_number"`
	Description string         `json:"description"`
	Action      StepAction     `json:"action"`
	Inputs      map[string]any `json:"inputs"`
	Output      map[string]any `json:"output,omitempty"`
	Confidence  float64        `json:"confidence"`
}

// ReasoningChain is a strictly sequential executor over an ordered list of
// steps. Unlike the plan scheduler it never parallelizes: each step runs
// after the previous one and may consume every prior step's output.
type ReasoningChain struct {
	Query string
	Steps []*ReasoningStep

	calculator Calculator
	logger     *zap.Logger
}

// ChainResult is the outcome of executing a reasoning chain.
type ChainResult struct {
	Success           bool            `json:"success"`
	Steps             []ReasoningStep `json:"steps"`
	FinalOutput       map[string]any  `json:"final_output,omitempty"`
	OverallConfidence float64         `json:"overall_confidence"`
	Explanation       string          `json:"explanation"`
	Error             string          `json:"error,omitempty"`
}

// NewReasoningChain creates an empty chain for the query. A nil logger
// leaves logging disabled.
func NewReasoningChain(query string, calculator Calculator, logger *zap.Logger) *ReasoningChain {
	if logger == nil {
		logger = zap.NewNop()
	} else {
		logger = logger.With(zap.String("component", "reasoning_chain"))
	}
	return &ReasoningChain{
		Query:      query,
		calculator: calculator,
		logger:     logger,
	}
}

// AddStep appends a step, preserving the caller-assigned step order.
func (c *ReasoningChain) AddStep(step *ReasoningStep) {
	c.Steps = append(c.Steps, step)
}

// Execute runs the steps strictly in order, feeding each COMPARE, ANALYZE,
// or CONCLUDE step the outputs of every prior step. Overall confidence is
// the minimum step confidence: one weak link caps the whole chain no matter
// how confident later steps are. Failures are reported in the result, never
// as a panic or a crossing error.
func (c *ReasoningChain) Execute(ctx context.Context) *ChainResult {
	if len(c.Steps) == 0 {
		return &ChainResult{
			Success: false,
			Error:   NewEmptyChainError().Error(),
		}
	}
	if c.calculator == nil {
		return &ChainResult{
			Success: false,
			Error:   NewConfigurationError("reasoning chain requires a calculator", nil).Error(),
		}
	}

	priorOutputs := make(map[string]map[string]any, len(c.Steps))
	var executed []ReasoningStep

	for _, step := range c.Steps {
		if err := ctx.Err(); err != nil {
			return c.failedResult(executed, NewCancelledError("chain", err))
		}

		var depOutputs map[string]map[string]any
		switch step.Action {
		case StepActionCompare, StepActionAnalyze, StepActionConclude:
			depOutputs = priorOutputs
		}

		output, err := c.calculator.Calculate(ctx, stepMetric(step), step.Inputs, depOutputs)
		if err != nil {
			c.logger.Warn("reasoning step failed",
				zap.Int("step", step.StepNumber),
				zap.String("action", string(step.Action)),
				zap.Error(err))
			return c.failedResult(executed, NewSubQueryError(fmt.Sprintf("step_%d", step.StepNumber), stepMetric(step), err))
		}

		step.Output = output
		if step.Confidence == 0 {
			if conf, ok := output["confidence"].(float64); ok {
				step.Confidence = conf
			}
		}
		priorOutputs[fmt.Sprintf("step_%d", step.StepNumber)] = output
		executed = append(executed, *step)
	}

	final := executed[len(executed)-1].Output
	return &ChainResult{
		Success:           true,
		Steps:             executed,
		FinalOutput:       final,
		OverallConfidence: minConfidence(executed),
		Explanation:       explain(executed),
	}
}

func (c *ReasoningChain) failedResult(executed []ReasoningStep, err error) *ChainResult {
	result := &ChainResult{
		Success:     false,
		Steps:       executed,
		Explanation: explain(executed),
		Error:       err.Error(),
	}
	if len(executed) > 0 {
		result.OverallConfidence = minConfidence(executed)
	}
	return result
}

// stepMetric resolves the calculator metric for a step: an explicit
// "metric" input wins, otherwise the action itself names the computation.
func stepMetric(step *ReasoningStep) string {
	if m, ok := step.Inputs["metric"].(string); ok && m != "" && step.Action == StepActionCalculate {
		return m
	}
	switch step.Action {
	case StepActionCompare:
		return "compare"
	case StepActionAnalyze:
		return "analyze"
	case StepActionConclude:
		return "conclude"
	}
	if m, ok := step.Inputs["metric"].(string); ok {
		return m
	}
	return ""
}

func minConfidence(steps []ReasoningStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	min := steps[0].Confidence
	for _, s := range steps[1:] {
		if s.Confidence < min {
			min = s.Confidence
		}
	}
	return min
}

// explain renders the executed steps as one human-readable trace.
func explain(steps []ReasoningStep) string {
	if len(steps) == 0 {
		return ""
	}
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		lines = append(lines, fmt.Sprintf("Step %d: %s (confidence %.0f%%)",
			s.StepNumber, s.Description, s.Confidence*100))
	}
	return strings.Join(lines, "\n")
}
