package finhop

import "context"

// Decomposer turns one free-text analytical query into an ordered set of
// sub-queries with explicit dependencies.
type Decomposer interface {
	Decompose(ctx context.Context, query string) ([]*SubQuery, error)
}

// Calculator is the external collaborator that performs the actual numeric
// computation of a metric. Dependency outputs are the full result maps of
// the sub-query's dependencies, keyed by their IDs.
//
// The core never retries a failed calculation; retry and backoff policy
// belong to the Calculator implementation.
type Calculator interface {
	Calculate(ctx context.Context, metric string, params map[string]any, depOutputs map[string]map[string]any) (map[string]any, error)
}

// Executor runs a query plan, recording per-sub-query results and statuses
// on the plan itself. The returned error aggregates every sub-query
// execution failure; the plan retains every result that completed before
// (or independently of) a failure.
type Executor interface {
	ExecutePlan(ctx context.Context, plan *QueryPlan) error
}

// Cache provides read-through storage for computed metric outputs, keyed by
// a canonical signature of (metric, params). Get returns a not-found error
// for absent keys.
type Cache interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
}
