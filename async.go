package finhop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantrel/finhop/internal/eventbus"
)

// AsyncExecutionStatus represents the status information for an async execution.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	Query        string        `json:"query"`
	CurrentState ProcessState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// ExecuteAsync starts an asynchronous query execution. It returns a unique
// execution ID that can be used to check the status or fetch the result.
func (f *FinHop) ExecuteAsync(ctx context.Context, query string) (string, error) {
	executionID := uuid.New().String()

	stateMachine := f.createStateMachine()
	processContext := NewProcessContext(query)

	f.asyncExecutionsMutex.Lock()
	f.asyncExecutions[executionID] = processContext
	f.asyncExecutionsMutex.Unlock()

	// Detach from the caller's context so the execution outlives the request.
	asyncCtx, cancel := context.WithCancel(context.Background())
	processContext.StateData["cancel"] = cancel

	if f.config.EnableEventBus && f.eventBus != nil {
		startEvent := eventbus.NewEvent(
			eventbus.EventQueryAsyncStarted,
			query,
			"FinHop.ExecuteAsync",
			map[string]interface{}{
				"timestamp":    time.Now().Format(time.RFC3339),
				"execution_id": executionID,
			},
		)
		f.eventBus.Publish(ctx, startEvent)
	}

	go func() {
		defer cancel()

		result, err := stateMachine.Execute(asyncCtx, processContext)

		f.asyncExecutionsMutex.Lock()
		if pCtx, exists := f.asyncExecutions[executionID]; exists {
			pCtx.Result = result
			if err != nil {
				if !pCtx.IsTerminal() {
					pCtx.SetError(err, string(pCtx.CurrentState))
				}
			} else if pCtx.CurrentState != StateComplete {
				pCtx.Complete()
			}
		}
		f.asyncExecutionsMutex.Unlock()

		if f.config.EnableEventBus && f.eventBus != nil {
			eventType := eventbus.EventQueryAsyncSuccess
			metadata := map[string]interface{}{
				"execution_id": executionID,
				"duration_ms":  processContext.GetTotalDuration().Milliseconds(),
			}
			if err != nil {
				eventType = eventbus.EventQueryAsyncFailure
				metadata["error"] = err.Error()
				metadata["error_stage"] = processContext.ErrorStage
			} else if result != nil && !result.Success {
				eventType = eventbus.EventQueryAsyncFailure
				metadata["error"] = result.Error
			}

			// Use a background context since the original may be done.
			f.eventBus.Publish(context.Background(), eventbus.NewEvent(
				eventType,
				query,
				"FinHop.ExecuteAsync",
				metadata,
			))
		}
	}()

	return executionID, nil
}

// GetAsyncStatus retrieves the current status of an async execution.
func (f *FinHop) GetAsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	f.asyncExecutionsMutex.RLock()
	defer f.asyncExecutionsMutex.RUnlock()

	pCtx, exists := f.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		Query:        pCtx.Query,
		CurrentState: pCtx.CurrentState,
		StartTime:    pCtx.StartTime,
		Duration:     pCtx.GetTotalDuration(),
		IsComplete:   pCtx.CurrentState == StateComplete,
		HasError:     pCtx.CurrentState == StateError,
	}

	if pCtx.LastError != nil {
		status.ErrorMessage = pCtx.LastError.Error()
		status.ErrorStage = pCtx.ErrorStage
	}

	return status, nil
}

// GetAsyncResult retrieves the result of a completed async execution.
// Returns an error if the execution is still in progress or was not found.
func (f *FinHop) GetAsyncResult(executionID string) (*MultiHopResult, error) {
	f.asyncExecutionsMutex.RLock()
	defer f.asyncExecutionsMutex.RUnlock()

	pCtx, exists := f.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	if pCtx.CurrentState != StateComplete {
		if pCtx.CurrentState == StateError || pCtx.CurrentState == StateCancelled {
			if pCtx.Result != nil {
				return pCtx.Result, nil
			}
			return nil, fmt.Errorf("execution failed during stage '%s': %w", pCtx.ErrorStage, pCtx.LastError)
		}
		return nil, fmt.Errorf("execution is still in progress (current state: %s)", pCtx.CurrentState)
	}

	return pCtx.Result, nil
}

// CancelAsyncExecution cancels an ongoing async execution. Returns true if
// the execution was cancelled, false if it already finished.
func (f *FinHop) CancelAsyncExecution(executionID string) (bool, error) {
	f.asyncExecutionsMutex.Lock()
	defer f.asyncExecutionsMutex.Unlock()

	pCtx, exists := f.asyncExecutions[executionID]
	if !exists {
		return false, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	if pCtx.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := pCtx.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel execution: cancel function not found")
	}
	cancelFn()
	pCtx.SetCancelled(fmt.Errorf("execution cancelled by caller"), string(pCtx.CurrentState))

	if f.config.EnableEventBus && f.eventBus != nil {
		cancelEvent := eventbus.NewEvent(
			eventbus.EventQueryAsyncCancelled,
			pCtx.Query,
			"FinHop.CancelAsyncExecution",
			map[string]interface{}{
				"execution_id": executionID,
				"duration_ms":  pCtx.GetTotalDuration().Milliseconds(),
			},
		)
		f.eventBus.Publish(context.Background(), cancelEvent)
	}

	return true, nil
}

// ListAsyncExecutions returns all async execution IDs and their current states.
func (f *FinHop) ListAsyncExecutions() map[string]string {
	f.asyncExecutionsMutex.RLock()
	defer f.asyncExecutionsMutex.RUnlock()

	result := make(map[string]string)
	for id, pCtx := range f.asyncExecutions {
		result[id] = string(pCtx.CurrentState)
	}
	return result
}

// CleanupCompletedExecutions removes terminal executions older than the given
// duration, bounding the memory held by the async registry.
func (f *FinHop) CleanupCompletedExecutions(olderThan time.Duration) int {
	f.asyncExecutionsMutex.Lock()
	defer f.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, pCtx := range f.asyncExecutions {
		if pCtx.IsTerminal() && now.Sub(pCtx.StateStartTimes[pCtx.CurrentState]) > olderThan {
			delete(f.asyncExecutions, id)
			count++
		}
	}
	return count
}
