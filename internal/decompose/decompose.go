// Package decompose turns a free-text financial query into typed sub-queries
// with explicit dependency edges, using a registry of template strategies
// matched against the parsed query.
package decompose

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quantrel/finhop"
	"github.com/quantrel/finhop/internal/queryparse"
)

// template pairs a matcher with a sub-query generator. Templates are tried
// in registration order and the first match wins.
type template struct {
	name  string
	match func(q *queryparse.ParsedQuery) bool
	build func(q *queryparse.ParsedQuery) []*finhop.SubQuery
}

// Decomposer matches queries against its template registry. Implements the
// root Decomposer interface.
type Decomposer struct {
	parser    *queryparse.Parser
	logger    *zap.Logger
	templates []template
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithLogger sets the logger. A nil logger leaves the no-op default.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Decomposer) {
		if logger != nil {
			d.logger = logger.With(zap.String("component", "decomposer"))
		}
	}
}

// WithAliasFile merges additional metric aliases from a YAML file into the
// parser before any query is decomposed.
func WithAliasFile(path string) Option {
	return func(d *Decomposer) {
		if path != "" {
			if err := d.parser.LoadAliases(path); err != nil {
				d.logger.Warn("failed to load metric aliases", zap.String("path", path), zap.Error(err))
			}
		}
	}
}

// New creates a Decomposer with the built-in template registry.
func New(opts ...Option) *Decomposer {
	d := &Decomposer{
		parser: queryparse.NewParser(),
		logger: zap.NewNop(),
	}
	d.templates = []template{
		// Correlation is tried before comparison: "correlation between A and
		// B" reads as comparison language but wants a CORRELATE plan.
		{name: "chained_correlation", match: d.matchChainedCorrelation, build: d.buildChainedCorrelation},
		{name: "correlation", match: d.matchCorrelation, build: d.buildCorrelation},
		{name: "comparison", match: d.matchComparison, build: d.buildComparison},
		{name: "calculation", match: d.matchCalculation, build: d.buildCalculation},
		{name: "opaque_metric", match: d.matchOpaqueMetric, build: d.buildOpaqueMetric},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose parses the query and expands the first matching template into
// sub-queries. A query matching no template is a decomposition failure, not
// a crash.
func (d *Decomposer) Decompose(ctx context.Context, query string) ([]*finhop.SubQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, finhop.NewDecompositionError(query, fmt.Errorf("empty query"))
	}

	parsed := d.parser.Parse(query)
	for _, tpl := range d.templates {
		if !tpl.match(parsed) {
			continue
		}
		subQueries := tpl.build(parsed)
		d.logger.Debug("query decomposed",
			zap.String("template", tpl.name),
			zap.Int("sub_queries", len(subQueries)),
			zap.Strings("tickers", parsed.Tickers),
			zap.Strings("metrics", parsed.Metrics))
		return subQueries, nil
	}
	return nil, finhop.NewDecompositionError(query, fmt.Errorf("no recognizable financial pattern"))
}

func (d *Decomposer) matchChainedCorrelation(q *queryparse.ParsedQuery) bool {
	return q.ChainedCorrelation() && len(q.Tickers) >= 2
}

// buildChainedCorrelation expands "calculate X for A and B, compare them,
// then calculate correlation" into one CALCULATE per ticker, a COMPARE over
// all of them, and a CORRELATE. The CORRELATE depends only on the CALCULATE
// nodes: it consumes their raw return series, not the comparison verdict.
func (d *Decomposer) buildChainedCorrelation(q *queryparse.ParsedQuery) []*finhop.SubQuery {
	metric := q.PrimaryMetric()
	subQueries, calcIDs := calculatePerTicker(metric, q.Tickers)

	if q.Comparison() {
		subQueries = append(subQueries, finhop.NewSubQuery(
			"compare_"+metric,
			finhop.QueryTypeCompare,
			"compare",
			map[string]any{"metric": metric, "tickers": q.Tickers},
			calcIDs,
		))
	}
	subQueries = append(subQueries, finhop.NewSubQuery(
		"correlate_"+metric,
		finhop.QueryTypeCorrelate,
		"correlation",
		map[string]any{"tickers": q.Tickers},
		calcIDs,
	))
	return subQueries
}

func (d *Decomposer) matchComparison(q *queryparse.ParsedQuery) bool {
	return q.Comparison() && len(q.Tickers) >= 2 && q.PrimaryMetric() != ""
}

// buildComparison emits one CALCULATE per ticker plus a COMPARE whose
// dependencies are exactly the CALCULATE ids. More than two tickers simply
// widen both the fan-out and the COMPARE's dependency set.
func (d *Decomposer) buildComparison(q *queryparse.ParsedQuery) []*finhop.SubQuery {
	metric := q.PrimaryMetric()
	subQueries, calcIDs := calculatePerTicker(metric, q.Tickers)

	return append(subQueries, finhop.NewSubQuery(
		"compare_"+metric,
		finhop.QueryTypeCompare,
		"compare",
		map[string]any{"metric": metric, "tickers": q.Tickers},
		calcIDs,
	))
}

func (d *Decomposer) matchCorrelation(q *queryparse.ParsedQuery) bool {
	return q.PrimaryMetric() == queryparse.MetricCorrelation && len(q.Tickers) >= 2
}

// buildCorrelation handles a standalone "correlation between A and B": the
// return series for each ticker is computed first, then correlated.
func (d *Decomposer) buildCorrelation(q *queryparse.ParsedQuery) []*finhop.SubQuery {
	subQueries, calcIDs := calculatePerTicker(queryparse.MetricReturns, q.Tickers)

	return append(subQueries, finhop.NewSubQuery(
		"correlate_returns",
		finhop.QueryTypeCorrelate,
		"correlation",
		map[string]any{"tickers": q.Tickers},
		calcIDs,
	))
}

func (d *Decomposer) matchCalculation(q *queryparse.ParsedQuery) bool {
	return q.PrimaryMetric() != "" && len(q.Tickers) >= 1
}

// buildCalculation emits one independent CALCULATE per mentioned ticker. The
// common single-entity case produces exactly one sub-query.
func (d *Decomposer) buildCalculation(q *queryparse.ParsedQuery) []*finhop.SubQuery {
	subQueries, _ := calculatePerTicker(q.PrimaryMetric(), q.Tickers)
	return subQueries
}

func (d *Decomposer) matchOpaqueMetric(q *queryparse.ParsedQuery) bool {
	return len(q.Tickers) >= 1 && queryparse.OpaqueMetric(q.Raw) != ""
}

// buildOpaqueMetric passes an unrecognized metric phrase through as-is and
// lets the calculator reject it.
func (d *Decomposer) buildOpaqueMetric(q *queryparse.ParsedQuery) []*finhop.SubQuery {
	subQueries, _ := calculatePerTicker(queryparse.OpaqueMetric(q.Raw), q.Tickers)
	return subQueries
}

// calculatePerTicker emits one dependency-free CALCULATE per ticker and
// returns the generated ids for downstream nodes to depend on.
func calculatePerTicker(metric string, tickers []string) ([]*finhop.SubQuery, []string) {
	subQueries := make([]*finhop.SubQuery, 0, len(tickers))
	ids := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		id := fmt.Sprintf("calc_%s_%s", metric, idToken(ticker))
		ids = append(ids, id)
		subQueries = append(subQueries, finhop.NewSubQuery(
			id,
			finhop.QueryTypeCalculate,
			metric,
			map[string]any{"ticker": ticker},
			nil,
		))
	}
	return subQueries, ids
}

// idToken normalizes a ticker for use inside a sub-query id.
func idToken(ticker string) string {
	return strings.ToLower(strings.ReplaceAll(ticker, ".", "_"))
}
