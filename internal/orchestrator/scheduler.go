// Package orchestrator schedules a decomposed query plan over its dependency
// graph: sequential topological dispatch by default, opt-in layered parallel
// dispatch, read-through caching, and best-effort partial failure.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quantrel/finhop"
	"github.com/quantrel/finhop/internal/eventbus"
	"github.com/quantrel/finhop/internal/graph"
)

// Scheduler executes a QueryPlan against a metric calculator. Implements the
// root Executor interface.
type Scheduler struct {
	calculator finhop.Calculator
	cache      finhop.Cache
	bus        eventbus.EventBus
	logger     *zap.Logger
	parallel   bool
	maxWorkers int

	// flight deduplicates concurrent calculator calls per signature so at
	// most one computation happens even when parallel layers race.
	flight  singleflight.Group
	metrics SchedulerMetrics
}

// Option represents an option for configuring the Scheduler.
type Option func(*Scheduler)

// WithCache sets the read-through result cache.
func WithCache(cache finhop.Cache) Option {
	return func(s *Scheduler) {
		s.cache = cache
	}
}

// WithEventBus attaches a bus for execution lifecycle events.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Scheduler) {
		s.bus = bus
	}
}

// WithLogger sets the logger. A nil logger leaves the no-op default.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With(zap.String("component", "scheduler"))
		}
	}
}

// WithParallel enables layered concurrent dispatch with the given worker
// bound. Non-positive worker counts fall back to 4.
func WithParallel(maxWorkers int) Option {
	return func(s *Scheduler) {
		s.parallel = true
		if maxWorkers <= 0 {
			maxWorkers = 4
		}
		s.maxWorkers = maxWorkers
	}
}

// NewScheduler creates a sequential scheduler around the calculator.
func NewScheduler(calculator finhop.Calculator, opts ...Option) (*Scheduler, error) {
	if calculator == nil {
		return nil, finhop.NewConfigurationError("scheduler requires a calculator", nil)
	}
	s := &Scheduler{
		calculator: calculator,
		logger:     zap.NewNop(),
		maxWorkers: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Metrics returns a copy of the counters accumulated so far.
func (s *Scheduler) Metrics() SchedulerMetrics {
	return s.metrics.Copy()
}

// ExecutePlan validates the plan's dependency graph and dispatches every
// sub-query. A sub-query failure does not stop the plan: nodes downstream of
// the failure are skipped, independent branches still run, and the combined
// failure set is returned after all reachable work has finished.
func (s *Scheduler) ExecutePlan(ctx context.Context, plan *finhop.QueryPlan) error {
	g := graph.New[*finhop.SubQuery]()
	for _, sq := range plan.SubQueries {
		if err := g.Add(sq.ID, sq.DependsOn, sq); err != nil {
			s.publish(ctx, eventbus.EventPlanValidationFailure, err.Error(), nil)
			return finhop.NewValidationError("plan", "duplicate sub-query id", err)
		}
	}
	if err := g.Validate(); err != nil {
		s.publish(ctx, eventbus.EventPlanValidationFailure, err.Error(), nil)
		return finhop.NewValidationError("plan", "dangling dependency", err)
	}
	if g.HasCycles() {
		err := finhop.NewCycleError(fmt.Errorf("dependency graph contains a cycle"))
		s.publish(ctx, eventbus.EventPlanValidationFailure, err.Error(), nil)
		return err
	}
	s.publish(ctx, eventbus.EventPlanValidationSuccess, plan, map[string]interface{}{"sub_queries": g.Len()})

	s.metrics.Reset()
	s.logger.Debug("starting plan execution",
		zap.Int("sub_queries", g.Len()),
		zap.Bool("parallel", s.parallel))

	var execErr error
	if s.parallel {
		execErr = s.runLayered(ctx, g, plan)
	} else {
		execErr = s.runSequential(ctx, g, plan)
	}
	if execErr != nil {
		return execErr
	}

	// Surface failures after the whole reachable plan has been driven.
	var failures error
	for _, sq := range plan.SubQueries {
		if sq.Status() == finhop.SubQueryStatusFailed {
			failures = multierr.Append(failures, finhop.NewSubQueryError(sq.ID, sq.Metric, sq.Err()))
		}
	}
	return failures
}

// runSequential dispatches sub-queries one at a time in topological order.
func (s *Scheduler) runSequential(ctx context.Context, g *graph.Graph[*finhop.SubQuery], plan *finhop.QueryPlan) error {
	order, err := g.TopologicalSort()
	if err != nil {
		return finhop.NewCycleError(err)
	}
	for _, id := range order {
		if ctx.Err() != nil {
			s.cancelRemaining(plan, ctx.Err())
			return finhop.NewCancelledError("execution", ctx.Err())
		}
		sq, _ := g.Node(id)
		s.executeSubQuery(ctx, plan, sq)
	}
	return nil
}

// runLayered dispatches each parallel group concurrently with a barrier
// between layers: layer k+1 starts only after every node of layer k is done.
func (s *Scheduler) runLayered(ctx context.Context, g *graph.Graph[*finhop.SubQuery], plan *finhop.QueryPlan) error {
	groups, err := g.ParallelGroups()
	if err != nil {
		return finhop.NewCycleError(err)
	}
	for _, group := range groups {
		if ctx.Err() != nil {
			s.cancelRemaining(plan, ctx.Err())
			return finhop.NewCancelledError("execution", ctx.Err())
		}
		workers := pool.New().WithMaxGoroutines(s.maxWorkers)
		for _, id := range group {
			sq, _ := g.Node(id)
			workers.Go(func() {
				s.executeSubQuery(ctx, plan, sq)
			})
		}
		workers.Wait()
	}
	return nil
}

// executeSubQuery drives one node through its lifecycle: skip when an
// upstream dependency did not complete, serve from cache when possible,
// otherwise invoke the calculator exactly once per signature.
func (s *Scheduler) executeSubQuery(ctx context.Context, plan *finhop.QueryPlan, sq *finhop.SubQuery) {
	for _, depID := range sq.DependsOn {
		dep, ok := plan.GetSubQuery(depID)
		if !ok || dep.Status() != finhop.SubQueryStatusCompleted {
			sq.UpdateStatus(finhop.SubQueryStatusSkipped, nil)
			s.metrics.RecordSkipped()
			s.logger.Debug("sub-query skipped",
				zap.String("id", sq.ID),
				zap.String("blocked_on", depID))
			s.publish(ctx, eventbus.EventSubQuerySkipped, sq.ID, map[string]interface{}{"blocked_on": depID})
			return
		}
	}

	sq.UpdateStatus(finhop.SubQueryStatusRunning, nil)
	s.publish(ctx, eventbus.EventSubQueryStarted, sq.ID, nil)

	key := Signature(sq.Metric, sq.Params)
	if s.cache != nil {
		if value, err := s.cache.Get(ctx, key); err == nil {
			if output, ok := value.(map[string]any); ok {
				sq.SetOutput(output, true)
				sq.UpdateStatus(finhop.SubQueryStatusCompleted, nil)
				plan.SetResult(sq.ID, output)
				s.metrics.RecordCacheHit()
				s.logger.Debug("sub-query served from cache", zap.String("id", sq.ID), zap.String("signature", key))
				s.publish(ctx, eventbus.EventSubQueryCacheHit, sq.ID, map[string]interface{}{"signature": key})
				s.publish(ctx, eventbus.EventSubQuerySuccess, sq.ID, nil)
				return
			}
		}
	}

	value, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.calculator.Calculate(ctx, sq.Metric, sq.Params, plan.DependencyOutputs(sq))
	})
	if err != nil {
		sq.UpdateStatus(finhop.SubQueryStatusFailed, err)
		s.metrics.RecordFailure(sq.Duration())
		s.logger.Warn("sub-query failed",
			zap.String("id", sq.ID),
			zap.String("metric", sq.Metric),
			zap.Error(err))
		s.publish(ctx, eventbus.EventSubQueryFailure, sq.ID, map[string]interface{}{"error": err.Error()})
		return
	}

	output, ok := value.(map[string]any)
	if !ok {
		err := fmt.Errorf("calculator returned %T, expected map output", value)
		sq.UpdateStatus(finhop.SubQueryStatusFailed, err)
		s.metrics.RecordFailure(sq.Duration())
		s.publish(ctx, eventbus.EventSubQueryFailure, sq.ID, map[string]interface{}{"error": err.Error()})
		return
	}

	sq.SetOutput(output, false)
	sq.UpdateStatus(finhop.SubQueryStatusCompleted, nil)
	plan.SetResult(sq.ID, output)
	s.metrics.RecordSuccess(sq.Duration())
	s.publish(ctx, eventbus.EventSubQuerySuccess, sq.ID, nil)

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, key, output); cacheErr != nil {
			s.logger.Warn("failed to cache sub-query result",
				zap.String("signature", key),
				zap.Error(cacheErr))
		}
	}
}

// cancelRemaining marks every non-terminal sub-query cancelled.
func (s *Scheduler) cancelRemaining(plan *finhop.QueryPlan, cause error) {
	for _, sq := range plan.SubQueries {
		switch sq.Status() {
		case finhop.SubQueryStatusPending, finhop.SubQueryStatusRunning:
			sq.UpdateStatus(finhop.SubQueryStatusCancelled, cause)
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventbus.NewEvent(eventType, payload, "scheduler", metadata)); err != nil {
		s.logger.Debug("failed to publish event", zap.String("event", string(eventType)), zap.Error(err))
	}
}

// Signature derives the canonical cache key for a computation: the metric
// followed by the parameters in sorted key order, so equal work always maps
// to the same key regardless of map iteration order.
func Signature(metric string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(metric)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		fmt.Fprintf(&b, "%v", params[k])
	}
	return b.String()
}
