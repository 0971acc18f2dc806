package finhop

import (
	"sync"
	"time"
)

// QueryType tags the kind of work a decomposed sub-query performs.
type QueryType string

const (
	// QueryTypeCalculate computes a single metric for a single entity.
	QueryTypeCalculate QueryType = "calculate"
	// QueryTypeCompare compares the outputs of two or more calculations.
	QueryTypeCompare QueryType = "compare"
	// QueryTypeCorrelate correlates the raw series behind two calculations.
	QueryTypeCorrelate QueryType = "correlate"
)

// SubQueryStatus represents the possible states of a sub-query.
type SubQueryStatus string

const (
	// SubQueryStatusPending indicates the sub-query is waiting for dependencies.
	SubQueryStatusPending SubQueryStatus = "pending"
	// SubQueryStatusRunning indicates the sub-query is currently executing.
	SubQueryStatusRunning SubQueryStatus = "running"
	// SubQueryStatusCompleted indicates the sub-query completed successfully.
	SubQueryStatusCompleted SubQueryStatus = "completed"
	// SubQueryStatusFailed indicates the sub-query's calculator call failed.
	SubQueryStatusFailed SubQueryStatus = "failed"
	// SubQueryStatusSkipped indicates a dependency (transitively) failed, so
	// the sub-query was never dispatched.
	SubQueryStatusSkipped SubQueryStatus = "skipped"
	// SubQueryStatusCancelled indicates the surrounding execution was cancelled.
	SubQueryStatusCancelled SubQueryStatus = "cancelled"
)

// SubQuery is one decomposed unit of work: a metric computed with a set of
// parameters, gated on the completion of its declared dependencies. A
// SubQuery is created by the decomposer, is immutable in its declarative
// fields once produced, and lives for a single Execute call.
type SubQuery struct {
	ID        string         `json:"id"`
	Type      QueryType      `json:"type"`
	Metric    string         `json:"metric"`
	Params    map[string]any `json:"params"`
	DependsOn []string       `json:"depends_on"`

	// Internal execution state
	status    SubQueryStatus
	output    map[string]any
	err       error
	fromCache bool
	mutex     sync.Mutex

	StartTime time.Time `json:"-"`
	EndTime   time.Time `json:"-"`
}

// NewSubQuery creates a pending sub-query with the given declarative fields.
func NewSubQuery(id string, queryType QueryType, metric string, params map[string]any, dependsOn []string) *SubQuery {
	return &SubQuery{
		ID:        id,
		Type:      queryType,
		Metric:    metric,
		Params:    params,
		DependsOn: dependsOn,
		status:    SubQueryStatusPending,
	}
}

// Status safely retrieves the sub-query's current status.
func (s *SubQuery) Status() SubQueryStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.status
}

// UpdateStatus safely updates the sub-query's status and error information,
// recording start and end timestamps on the running/terminal transitions.
func (s *SubQuery) UpdateStatus(newStatus SubQueryStatus, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	oldStatus := s.status
	s.status = newStatus

	now := time.Now()
	if newStatus == SubQueryStatusRunning && oldStatus != SubQueryStatusRunning {
		s.StartTime = now
	}
	if isTerminalStatus(newStatus) && !isTerminalStatus(oldStatus) {
		s.EndTime = now
	}
	if err != nil {
		s.err = err
	}
}

// Output returns the computed output, nil until the sub-query completed.
func (s *SubQuery) Output() map[string]any {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.output
}

// Err returns the recorded execution error, if any.
func (s *SubQuery) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// FromCache reports whether the output was served from the result cache
// instead of a calculator invocation.
func (s *SubQuery) FromCache() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.fromCache
}

// SetOutput records the computed output and whether it was served from cache.
func (s *SubQuery) SetOutput(output map[string]any, fromCache bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.output = output
	s.fromCache = fromCache
}

// Duration returns the execution duration of the sub-query.
func (s *SubQuery) Duration() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

func isTerminalStatus(st SubQueryStatus) bool {
	switch st {
	case SubQueryStatusCompleted, SubQueryStatusFailed, SubQueryStatusSkipped, SubQueryStatusCancelled:
		return true
	}
	return false
}

// QueryPlan holds one decomposition's sub-queries together with the results
// accumulated while executing them.
type QueryPlan struct {
	SubQueries []*SubQuery
	Index      map[string]*SubQuery

	// Results stores the full output map of completed sub-queries keyed by
	// sub-query ID. CompletionOrder records the order results landed in,
	// which is what callers inspect to verify scheduling.
	Results         map[string]map[string]any
	CompletionOrder []string

	StateMutex sync.RWMutex
}

// NewQueryPlan creates a plan over the given sub-queries and initializes
// internal state.
func NewQueryPlan(subQueries []*SubQuery) *QueryPlan {
	plan := &QueryPlan{
		SubQueries: subQueries,
		Index:      make(map[string]*SubQuery, len(subQueries)),
		Results:    make(map[string]map[string]any, len(subQueries)),
	}
	for _, sq := range subQueries {
		sq.status = SubQueryStatusPending
		plan.Index[sq.ID] = sq
	}
	return plan
}

// GetSubQuery safely retrieves a sub-query by ID.
func (p *QueryPlan) GetSubQuery(id string) (*SubQuery, bool) {
	p.StateMutex.RLock()
	defer p.StateMutex.RUnlock()
	sq, ok := p.Index[id]
	return sq, ok
}

// GetResult safely retrieves the result for a given sub-query ID.
func (p *QueryPlan) GetResult(id string) (map[string]any, bool) {
	p.StateMutex.RLock()
	defer p.StateMutex.RUnlock()
	result, ok := p.Results[id]
	return result, ok
}

// SetResult safely records the result for a given sub-query ID and appends
// it to the completion order.
func (p *QueryPlan) SetResult(id string, result map[string]any) {
	p.StateMutex.Lock()
	defer p.StateMutex.Unlock()
	if _, exists := p.Results[id]; !exists {
		p.CompletionOrder = append(p.CompletionOrder, id)
	}
	p.Results[id] = result
}

// DependencyOutputs collects the recorded outputs of the given sub-query's
// dependencies, keyed by dependency ID.
func (p *QueryPlan) DependencyOutputs(sq *SubQuery) map[string]map[string]any {
	p.StateMutex.RLock()
	defer p.StateMutex.RUnlock()
	outputs := make(map[string]map[string]any, len(sq.DependsOn))
	for _, dep := range sq.DependsOn {
		if result, ok := p.Results[dep]; ok {
			outputs[dep] = result
		}
	}
	return outputs
}

// MultiHopResult is the aggregated outcome of executing one multi-hop query.
// IntermediateResults retains every sub-query that completed even when the
// overall execution failed, so partially answerable queries still surface
// useful data.
type MultiHopResult struct {
	Success             bool                      `json:"success"`
	FinalResult         map[string]any            `json:"final_result,omitempty"`
	IntermediateResults map[string]map[string]any `json:"intermediate_results"`
	CompletionOrder     []string                  `json:"completion_order"`
	Error               string                    `json:"error,omitempty"`
}
