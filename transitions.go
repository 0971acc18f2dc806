package finhop

import (
	"context"
	"fmt"
	"time"

	"github.com/quantrel/finhop/internal/eventbus"
)

// CreateProcessStateMachine builds the complete state machine for the
// multi-hop query workflow.
func CreateProcessStateMachine(components Components, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StateDecomposition, createDecompositionTransition(components))
	sm.RegisterTransition(StateValidation, createValidationTransition(components))
	sm.RegisterTransition(StateExecution, createExecutionTransition(components))
	sm.RegisterTransition(StateAggregation, createAggregationTransition(components))

	return sm
}

// createInitTransition handles the initialization state.
func createInitTransition(_ Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		if eb != nil {
			startEvent := eventbus.NewEvent(
				eventbus.EventQueryProcessingStarted,
				pCtx.Query,
				"StateMachine.Init",
				map[string]interface{}{
					"timestamp": time.Now().Format(time.RFC3339),
				},
			)
			eb.Publish(ctx, startEvent)
		}

		if pCtx.Query == "" {
			return StateError, NewValidationError("init", "query must not be empty", nil)
		}
		return StateDecomposition, nil
	}
}

// createDecompositionTransition turns the query into typed sub-queries.
func createDecompositionTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		hasEventBus := eb != nil

		if hasEventBus {
			eb.Publish(ctx, eventbus.NewEvent(
				eventbus.EventDecompositionStarted,
				pCtx.Query,
				"StateMachine.Decomposition",
				nil,
			))
		}

		subQueries, err := components.Decomposer.Decompose(ctx, pCtx.Query)
		if err != nil {
			if hasEventBus {
				eb.Publish(ctx, eventbus.NewEvent(
					eventbus.EventDecompositionFailure,
					err.Error(),
					"StateMachine.Decomposition",
					map[string]interface{}{"error": err.Error()},
				))
				eb.Publish(ctx, eventbus.NewEvent(
					eventbus.EventQueryProcessingFailure,
					pCtx.Query,
					"StateMachine.Decomposition",
					map[string]interface{}{
						"error": err.Error(),
						"stage": "decomposition",
					},
				))
			}
			return StateError, err
		}
		if len(subQueries) == 0 {
			err := NewDecompositionError(pCtx.Query, nil)
			if hasEventBus {
				eb.Publish(ctx, eventbus.NewEvent(
					eventbus.EventDecompositionFailure,
					err.Error(),
					"StateMachine.Decomposition",
					nil,
				))
			}
			return StateError, err
		}

		if hasEventBus {
			eb.Publish(ctx, eventbus.NewEvent(
				eventbus.EventDecompositionSuccess,
				subQueries,
				"StateMachine.Decomposition",
				map[string]interface{}{"sub_query_count": len(subQueries)},
			))
		}

		pCtx.SubQueries = subQueries
		return StateValidation, nil
	}
}

// createValidationTransition builds the query plan and checks construction
// invariants. Graph-level validation (cycles) is re-checked by the executor.
func createValidationTransition(_ Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		plan := NewQueryPlan(pCtx.SubQueries)

		for _, sq := range pCtx.SubQueries {
			for _, dep := range sq.DependsOn {
				if _, ok := plan.Index[dep]; !ok {
					err := NewValidationError("validation",
						fmt.Sprintf("sub-query %q depends on unknown sub-query %q", sq.ID, dep), nil)
					if eb != nil {
						eb.Publish(ctx, eventbus.NewEvent(
							eventbus.EventPlanValidationFailure,
							err.Error(),
							"StateMachine.Validation",
							nil,
						))
					}
					return StateError, err
				}
			}
		}

		pCtx.Plan = plan
		return StateExecution, nil
	}
}

// createExecutionTransition drives the plan through the executor. Sub-query
// failures still proceed to aggregation so completed branches are surfaced;
// structural failures (cycle, cancellation) terminate without partial data.
func createExecutionTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		err := components.Executor.ExecutePlan(ctx, pCtx.Plan)
		if err != nil {
			switch CodeOf(err) {
			case ErrCodeCycle, ErrCodeValidation, ErrCodeCancelled:
				if eb != nil {
					eb.Publish(ctx, eventbus.NewEvent(
						eventbus.EventQueryProcessingFailure,
						pCtx.Query,
						"StateMachine.Execution",
						map[string]interface{}{
							"error": err.Error(),
							"stage": "execution",
						},
					))
				}
				return StateError, err
			}
			pCtx.ExecError = err
		}
		return StateAggregation, nil
	}
}

// createAggregationTransition folds the executed plan into a MultiHopResult.
func createAggregationTransition(_ Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		plan := pCtx.Plan
		result := &MultiHopResult{
			Success:             pCtx.ExecError == nil,
			IntermediateResults: make(map[string]map[string]any, len(plan.SubQueries)),
		}

		plan.StateMutex.RLock()
		for id, output := range plan.Results {
			result.IntermediateResults[id] = output
		}
		result.CompletionOrder = append(result.CompletionOrder, plan.CompletionOrder...)
		plan.StateMutex.RUnlock()

		if pCtx.ExecError != nil {
			result.Error = pCtx.ExecError.Error()
		} else {
			result.FinalResult = terminalOutput(plan)
		}

		if eb != nil {
			if result.Success {
				eb.Publish(ctx, eventbus.NewEvent(
					eventbus.EventQueryProcessingSuccess,
					pCtx.Query,
					"StateMachine.Aggregation",
					map[string]interface{}{
						"result_count": len(result.IntermediateResults),
					},
				))
			} else {
				eb.Publish(ctx, eventbus.NewEvent(
					eventbus.EventQueryProcessingFailure,
					pCtx.Query,
					"StateMachine.Aggregation",
					map[string]interface{}{
						"error":        result.Error,
						"stage":        "aggregation",
						"result_count": len(result.IntermediateResults),
					},
				))
			}
		}

		pCtx.Result = result
		pCtx.Complete()
		return StateComplete, nil
	}
}

// terminalOutput returns the output of the plan's sink node. Decomposition
// emits the terminal node last, so the last sub-query with a recorded result
// is the aggregate answer.
func terminalOutput(plan *QueryPlan) map[string]any {
	plan.StateMutex.RLock()
	defer plan.StateMutex.RUnlock()
	for i := len(plan.SubQueries) - 1; i >= 0; i-- {
		if output, ok := plan.Results[plan.SubQueries[i].ID]; ok {
			return output
		}
	}
	return nil
}
