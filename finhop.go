// Package finhop decomposes compound financial queries into typed sub-query
// graphs and executes them with dependency ordering, caching, and partial
// failure tolerance.
package finhop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantrel/finhop/internal/eventbus"
)

// FinHop is the main entry point into the multi-hop query runtime. It
// composes a decomposer and a plan executor behind a state-machine driven
// pipeline.
type FinHop struct {
	// Core components
	decomposer Decomposer
	executor   Executor
	eventBus   eventbus.EventBus
	logger     *zap.Logger

	// Configuration
	config Config

	// Async processing
	asyncExecutions      map[string]*ProcessContext
	asyncExecutionsMutex sync.RWMutex
}

// Components holds references to the core components needed for state
// transitions.
type Components struct {
	Decomposer Decomposer
	Executor   Executor
	Config     Config
	Logger     *zap.Logger
}

// Option is a function that configures a FinHop instance.
type Option func(*FinHop)

// WithConfig sets the runtime configuration.
func WithConfig(config Config) Option {
	return func(f *FinHop) {
		f.config = config
	}
}

// WithDecomposer sets the query decomposer component.
func WithDecomposer(decomposer Decomposer) Option {
	return func(f *FinHop) {
		f.decomposer = decomposer
	}
}

// WithExecutor sets the plan executor component.
func WithExecutor(executor Executor) Option {
	return func(f *FinHop) {
		f.executor = executor
	}
}

// WithLogger sets the logger. A nil logger leaves the no-op default.
func WithLogger(logger *zap.Logger) Option {
	return func(f *FinHop) {
		if logger != nil {
			f.logger = logger.With(zap.String("component", "finhop"))
		}
	}
}

// New creates a new FinHop instance with the provided options.
func New(options ...Option) (*FinHop, error) {
	f := &FinHop{
		config:          DefaultConfig(),
		logger:          zap.NewNop(),
		asyncExecutions: make(map[string]*ProcessContext),
	}

	for _, option := range options {
		option(f)
	}

	if f.decomposer == nil {
		return nil, NewConfigurationError("decomposer is required", nil)
	}
	if f.executor == nil {
		return nil, NewConfigurationError("executor is required", nil)
	}

	// Initialize event bus if enabled but not provided
	if f.config.EnableEventBus && f.eventBus == nil {
		f.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(f.config.EventBusBufferSize),
			eventbus.WithWorkerCount(f.config.EventBusWorkerCount),
			eventbus.WithLogger(f.logger),
		)
		f.logger.Debug("initialized default channel-based event bus")
	}

	return f, nil
}

// EventBus exposes the bus so callers can subscribe to pipeline events.
// Returns nil when the bus is disabled.
func (f *FinHop) EventBus() eventbus.EventBus {
	return f.eventBus
}

// Execute handles an end-to-end query execution using a pushdown automaton
// state machine. Failures of any kind are reported inside the returned
// result, never as a panic: an unanswerable query yields success=false with
// a populated error, and a partially answerable one additionally retains
// every completed intermediate result.
func (f *FinHop) Execute(ctx context.Context, query string) *MultiHopResult {
	stateMachine := f.createStateMachine()
	processContext := NewProcessContext(query)

	start := time.Now()
	result, err := stateMachine.Execute(ctx, processContext)
	if result == nil {
		result = failureResult(processContext)
	}
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}

	f.logger.Debug("query executed",
		zap.String("query", query),
		zap.Bool("success", result.Success),
		zap.Int("results", len(result.IntermediateResults)),
		zap.Duration("duration", time.Since(start)))
	return result
}

// createStateMachine builds a state machine with all transitions for the
// query processing workflow.
func (f *FinHop) createStateMachine() *StateMachine {
	var eventBus eventbus.EventBus
	if f.config.EnableEventBus {
		eventBus = f.eventBus
	}

	components := Components{
		Decomposer: f.decomposer,
		Executor:   f.executor,
		Config:     f.config,
		Logger:     f.logger,
	}
	return CreateProcessStateMachine(components, eventBus)
}
