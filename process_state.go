package finhop

import (
	"context"
	"fmt"
	"time"

	"github.com/quantrel/finhop/internal/eventbus"
)

// The pushdown automaton approach was chosen because it tracks execution
// history through the state stack and keeps each pipeline phase independently
// testable and extendable.

// ProcessState represents the current state of a query execution.
type ProcessState string

const (
	// StateInit is the initial state of the process
	StateInit ProcessState = "init"
	// StateDecomposition represents the query decomposition phase
	StateDecomposition ProcessState = "decomposition"
	// StateValidation represents the plan construction and validation phase
	StateValidation ProcessState = "validation"
	// StateExecution represents the plan execution phase
	StateExecution ProcessState = "execution"
	// StateAggregation represents the result aggregation phase
	StateAggregation ProcessState = "aggregation"
	// StateError represents an error state
	StateError ProcessState = "error"
	// StateComplete represents the completed state
	StateComplete ProcessState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled ProcessState = "cancelled"
	// StateUnknown is used when the status of an async execution cannot be determined.
	StateUnknown ProcessState = "unknown"
)

// ProcessContext contains the data threaded through one query execution.
// It acts as the "tape" in the pushdown automaton.
type ProcessContext struct {
	// Input parameters
	Query string

	// Intermediate results
	SubQueries []*SubQuery
	Plan       *QueryPlan
	ExecError  error
	Result     *MultiHopResult

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState ProcessState
	StateStack   []ProcessState
	StateData    map[string]interface{}

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ProcessState]time.Time
}

// NewProcessContext creates a new process context with the given query.
func NewProcessContext(query string) *ProcessContext {
	return &ProcessContext{
		Query:           query,
		CurrentState:    StateInit,
		StateStack:      []ProcessState{},
		StateData:       make(map[string]interface{}),
		StartTime:       time.Now(),
		StateStartTimes: make(map[ProcessState]time.Time),
	}
}

// PushState pushes the current state onto the stack and sets a new current state.
func (pc *ProcessContext) PushState(state ProcessState) {
	pc.StateStack = append(pc.StateStack, pc.CurrentState)
	pc.CurrentState = state
	pc.StateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current state.
// Returns false if the stack is empty.
func (pc *ProcessContext) PopState() bool {
	if len(pc.StateStack) == 0 {
		return false
	}
	lastIdx := len(pc.StateStack) - 1
	pc.CurrentState = pc.StateStack[lastIdx]
	pc.StateStack = pc.StateStack[:lastIdx]
	pc.StateStartTimes[pc.CurrentState] = time.Now()
	return true
}

// IsTerminal checks if the current state is a terminal state (Complete, Error, Cancelled).
func (pc *ProcessContext) IsTerminal() bool {
	return pc.CurrentState == StateComplete || pc.CurrentState == StateError || pc.CurrentState == StateCancelled
}

// SetError sets the last error and error stage, transitioning to StateError.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.LastError = err
	pc.ErrorStage = stage
	pc.CurrentState = StateError
	pc.StateStartTimes[StateError] = time.Now()
}

// SetCancelled sets the state to Cancelled and records the cancellation error.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.LastError = err
	pc.ErrorStage = stage
	pc.CurrentState = StateCancelled
	pc.StateStartTimes[StateCancelled] = time.Now()
}

// Complete marks the process as complete and sets the end time.
func (pc *ProcessContext) Complete() {
	pc.CurrentState = StateComplete
	pc.EndTime = time.Now()
	pc.StateStartTimes[StateComplete] = pc.EndTime
}

// GetStateDuration returns the duration spent in the given state.
func (pc *ProcessContext) GetStateDuration(state ProcessState) time.Duration {
	startTime, ok := pc.StateStartTimes[state]
	if !ok {
		return 0
	}
	if state == pc.CurrentState {
		return time.Since(startTime)
	}
	return 0
}

// GetTotalDuration returns the total duration of the process so far.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	if pc.CurrentState == StateComplete {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine represents a finite state machine for query processing.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a new state machine with the provided event bus.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until a terminal state is reached. The
// aggregated result is always populated on normal termination; the returned
// error reports cancellation or a missing transition.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (*MultiHopResult, error) {
	for !pCtx.IsTerminal() {
		// Check for context cancellation before executing the next state
		select {
		case <-ctx.Done():
			err := ctx.Err()
			pCtx.SetCancelled(err, string(pCtx.CurrentState))
			return nil, err
		default:
		}

		transition, exists := sm.transitions[pCtx.CurrentState]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", pCtx.CurrentState)
			pCtx.SetError(err, string(pCtx.CurrentState))
			return nil, err
		}

		nextState, err := transition(ctx, sm.eventBus, pCtx)
		if err != nil {
			currentStage := string(pCtx.CurrentState)
			if err == context.Canceled || err == context.DeadlineExceeded {
				pCtx.SetCancelled(err, currentStage)
			} else if !pCtx.IsTerminal() {
				pCtx.SetError(err, currentStage)
			}
			continue
		}

		if !pCtx.IsTerminal() {
			pCtx.CurrentState = nextState
			pCtx.StateStartTimes[nextState] = time.Now()
		}
	}

	// Error and Cancelled are terminal before their transition runs, so the
	// failure result is assembled here rather than in a transition.
	if pCtx.Result == nil {
		pCtx.Result = failureResult(pCtx)
	}
	if pCtx.CurrentState == StateCancelled {
		return pCtx.Result, pCtx.LastError
	}
	return pCtx.Result, nil
}

// failureResult renders a terminal error state as a structured result,
// retaining whatever intermediate results the plan accumulated.
func failureResult(pCtx *ProcessContext) *MultiHopResult {
	result := &MultiHopResult{
		Success:             false,
		IntermediateResults: make(map[string]map[string]any),
	}
	if pCtx.LastError != nil {
		result.Error = pCtx.LastError.Error()
	}
	if pCtx.Plan != nil {
		pCtx.Plan.StateMutex.RLock()
		for id, output := range pCtx.Plan.Results {
			result.IntermediateResults[id] = output
		}
		result.CompletionOrder = append(result.CompletionOrder, pCtx.Plan.CompletionOrder...)
		pCtx.Plan.StateMutex.RUnlock()
	}
	return result
}
