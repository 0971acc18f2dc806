package decompose

import (
	"context"
	"errors"
	"testing"

	"github.com/quantrel/finhop"
)

func TestDecomposeSingleEntitySingleMetric(t *testing.T) {
	d := New()
	subQueries, err := d.Decompose(context.Background(), "What is the Sharpe ratio of AAPL?")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(subQueries) != 1 {
		t.Fatalf("expected exactly 1 sub-query, got %d", len(subQueries))
	}
	sq := subQueries[0]
	if sq.Type != finhop.QueryTypeCalculate {
		t.Errorf("expected CALCULATE, got %s", sq.Type)
	}
	if sq.Metric != "sharpe_ratio" {
		t.Errorf("expected metric sharpe_ratio, got %s", sq.Metric)
	}
	if sq.Params["ticker"] != "AAPL" {
		t.Errorf("expected ticker AAPL, got %v", sq.Params["ticker"])
	}
	if len(sq.DependsOn) != 0 {
		t.Errorf("expected no dependencies, got %v", sq.DependsOn)
	}
}

func TestDecomposeComparison(t *testing.T) {
	d := New()
	subQueries, err := d.Decompose(context.Background(), "Compare the Sharpe ratios of AAPL and MSFT")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(subQueries) < 3 {
		t.Fatalf("expected at least 3 sub-queries, got %d", len(subQueries))
	}

	calcIDs := make(map[string]bool)
	var compare *finhop.SubQuery
	for _, sq := range subQueries {
		switch sq.Type {
		case finhop.QueryTypeCalculate:
			calcIDs[sq.ID] = true
		case finhop.QueryTypeCompare:
			if compare != nil {
				t.Fatal("expected exactly one COMPARE node")
			}
			compare = sq
		}
	}
	if compare == nil {
		t.Fatal("expected a COMPARE node")
	}
	if len(compare.DependsOn) != len(calcIDs) {
		t.Fatalf("COMPARE should depend on all %d CALCULATE nodes, got %d deps", len(calcIDs), len(compare.DependsOn))
	}
	for _, dep := range compare.DependsOn {
		if !calcIDs[dep] {
			t.Errorf("COMPARE depends on %s, which is not a CALCULATE node", dep)
		}
	}
}

func TestDecomposeComparisonManyEntities(t *testing.T) {
	d := New()
	subQueries, err := d.Decompose(context.Background(), "Compare volatility for AAPL, MSFT and GOOG")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	calcs := 0
	for _, sq := range subQueries {
		if sq.Type == finhop.QueryTypeCalculate {
			calcs++
		}
	}
	if calcs != 3 {
		t.Errorf("expected 3 CALCULATE nodes, got %d", calcs)
	}
	if len(subQueries) != 4 {
		t.Errorf("expected 4 sub-queries total, got %d", len(subQueries))
	}
}

func TestDecomposeChainedCorrelation(t *testing.T) {
	d := New()
	subQueries, err := d.Decompose(context.Background(),
		"Calculate Sharpe ratios for AAPL and MSFT, compare them, then calculate correlation between the stocks")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}

	byType := make(map[finhop.QueryType][]*finhop.SubQuery)
	for _, sq := range subQueries {
		byType[sq.Type] = append(byType[sq.Type], sq)
	}
	if len(byType[finhop.QueryTypeCalculate]) != 2 {
		t.Fatalf("expected 2 CALCULATE nodes, got %d", len(byType[finhop.QueryTypeCalculate]))
	}
	if len(byType[finhop.QueryTypeCompare]) != 1 {
		t.Fatalf("expected 1 COMPARE node, got %d", len(byType[finhop.QueryTypeCompare]))
	}
	if len(byType[finhop.QueryTypeCorrelate]) != 1 {
		t.Fatalf("expected 1 CORRELATE node, got %d", len(byType[finhop.QueryTypeCorrelate]))
	}

	// Correlation consumes the raw per-entity results, not the verdict.
	correlate := byType[finhop.QueryTypeCorrelate][0]
	compareID := byType[finhop.QueryTypeCompare][0].ID
	for _, dep := range correlate.DependsOn {
		if dep == compareID {
			t.Errorf("CORRELATE must not depend on the COMPARE node")
		}
	}
	if len(correlate.DependsOn) != 2 {
		t.Errorf("CORRELATE should depend on both CALCULATE nodes, got %v", correlate.DependsOn)
	}
}

func TestDecomposeStandaloneCorrelation(t *testing.T) {
	d := New()
	subQueries, err := d.Decompose(context.Background(), "What is the correlation between AAPL and MSFT?")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(subQueries) != 3 {
		t.Fatalf("expected 3 sub-queries, got %d", len(subQueries))
	}
	last := subQueries[len(subQueries)-1]
	if last.Type != finhop.QueryTypeCorrelate {
		t.Errorf("expected terminal CORRELATE node, got %s", last.Type)
	}
	for _, sq := range subQueries[:2] {
		if sq.Metric != "returns" {
			t.Errorf("expected upstream returns calculation, got %s", sq.Metric)
		}
	}
}

func TestDecomposeOpaqueMetric(t *testing.T) {
	d := New()
	subQueries, err := d.Decompose(context.Background(), "Calculate piotroski score for AAPL")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(subQueries) != 1 {
		t.Fatalf("expected 1 sub-query, got %d", len(subQueries))
	}
	if subQueries[0].Metric != "piotroski_score" {
		t.Errorf("expected opaque metric piotroski_score, got %s", subQueries[0].Metric)
	}
}

func TestDecomposeUnrecognizedQuery(t *testing.T) {
	d := New()
	_, err := d.Decompose(context.Background(), "what should I eat for lunch")
	if err == nil {
		t.Fatal("expected decomposition error, got nil")
	}
	var domainErr *finhop.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected *finhop.Error, got %T", err)
	}
	if domainErr.Code != finhop.ErrCodeDecomposition {
		t.Errorf("expected code %s, got %s", finhop.ErrCodeDecomposition, domainErr.Code)
	}
}

func TestDecomposeEmptyQuery(t *testing.T) {
	d := New()
	if _, err := d.Decompose(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty query, got nil")
	}
}

func TestDecomposeNoDanglingDependencies(t *testing.T) {
	d := New()
	queries := []string{
		"Compare the Sharpe ratios of AAPL and MSFT",
		"Calculate Sharpe ratios for AAPL and MSFT, compare them, then calculate correlation between the stocks",
		"What is the correlation between AAPL and MSFT?",
	}
	for _, query := range queries {
		subQueries, err := d.Decompose(context.Background(), query)
		if err != nil {
			t.Fatalf("Decompose(%q) failed: %v", query, err)
		}
		ids := make(map[string]bool)
		for _, sq := range subQueries {
			ids[sq.ID] = true
		}
		for _, sq := range subQueries {
			for _, dep := range sq.DependsOn {
				if !ids[dep] {
					t.Errorf("query %q: sub-query %s has dangling dependency %s", query, sq.ID, dep)
				}
			}
		}
	}
}
