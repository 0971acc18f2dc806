package queryparse

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParser_Parse_MetricAliases(t *testing.T) {
	p := NewParser()
	tests := []struct {
		query   string
		metrics []string
	}{
		{"What is the Sharpe ratio of AAPL?", []string{MetricSharpeRatio}},
		{"sharpe for AAPL", []string{MetricSharpeRatio}},
		{"Compare the standard deviation of AAPL and MSFT", []string{MetricVolatility}},
		{"maximum drawdown of TSLA", []string{MetricMaxDrawdown}},
		{"relative strength index for NVDA", []string{MetricRSI}},
		{"p/e ratio of GOOG", []string{MetricPERatio}},
		{"compare sortino ratios, then correlation", []string{MetricSortinoRatio, MetricCorrelation}},
	}
	for _, tt := range tests {
		parsed := p.Parse(tt.query)
		if !reflect.DeepEqual(parsed.Metrics, tt.metrics) {
			t.Errorf("Parse(%q).Metrics = %v, want %v", tt.query, parsed.Metrics, tt.metrics)
		}
	}
}

func TestParser_Parse_MetricsInMentionOrder(t *testing.T) {
	p := NewParser()
	parsed := p.Parse("correlation between the volatility of AAPL and MSFT")
	want := []string{MetricCorrelation, MetricVolatility}
	if !reflect.DeepEqual(parsed.Metrics, want) {
		t.Errorf("expected mention order %v, got %v", want, parsed.Metrics)
	}
}

func TestParser_Parse_Tickers(t *testing.T) {
	p := NewParser()
	tests := []struct {
		query   string
		tickers []string
	}{
		{"What is the Sharpe ratio of AAPL?", []string{"AAPL"}},
		{"Compare AAPL and MSFT", []string{"AAPL", "MSFT"}},
		{"Compare AAPL vs BRK.B over the past year", []string{"AAPL", "BRK.B"}},
		// Stop words and metric aliases in caps never read as tickers.
		{"IS THE VOLATILITY OF AAPL AND MSFT CORRELATED", []string{"AAPL", "MSFT"}},
		{"Compare volatility of AAPL and INVALID_TICKER", []string{"AAPL", "INVALID_TICKER"}},
		{"AAPL versus AAPL", []string{"AAPL"}},
	}
	for _, tt := range tests {
		parsed := p.Parse(tt.query)
		if !reflect.DeepEqual(parsed.Tickers, tt.tickers) {
			t.Errorf("Parse(%q).Tickers = %v, want %v", tt.query, parsed.Tickers, tt.tickers)
		}
	}
}

func TestParser_Parse_MetricWordsNotTickers(t *testing.T) {
	p := NewParser()
	// "RSI" and "BETA" are metric aliases, not symbols.
	parsed := p.Parse("RSI of AAPL")
	if !reflect.DeepEqual(parsed.Tickers, []string{"AAPL"}) {
		t.Errorf("expected [AAPL], got %v", parsed.Tickers)
	}
	if !reflect.DeepEqual(parsed.Metrics, []string{MetricRSI}) {
		t.Errorf("expected [rsi], got %v", parsed.Metrics)
	}
}

func TestParsedQuery_Comparison(t *testing.T) {
	p := NewParser()
	tests := []struct {
		query string
		want  bool
	}{
		{"Compare the Sharpe ratios of AAPL and MSFT", true},
		{"AAPL vs MSFT volatility", true},
		{"AAPL versus MSFT", true},
		{"volatility of AAPL and MSFT", true},
		{"What is the Sharpe ratio of AAPL?", false},
		{"beta of TSLA and its meaning", false},
	}
	for _, tt := range tests {
		if got := p.Parse(tt.query).Comparison(); got != tt.want {
			t.Errorf("Comparison(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestParsedQuery_ChainedCorrelation(t *testing.T) {
	p := NewParser()
	chained := p.Parse("Which has the better Sharpe ratio, AAPL or MSFT, and how correlated are their returns?")
	if !chained.ChainedCorrelation() {
		t.Error("expected chained correlation to be detected")
	}
	if chained.PrimaryMetric() != MetricSharpeRatio {
		t.Errorf("expected primary metric sharpe_ratio, got %s", chained.PrimaryMetric())
	}

	standalone := p.Parse("correlation between AAPL and MSFT")
	if standalone.ChainedCorrelation() {
		t.Error("standalone correlation is not chained")
	}
	if standalone.PrimaryMetric() != MetricCorrelation {
		t.Errorf("expected primary metric correlation, got %s", standalone.PrimaryMetric())
	}
}

func TestParsedQuery_Valuation(t *testing.T) {
	p := NewParser()
	if !p.Parse("Is AAPL overvalued compared to MSFT?").Valuation() {
		t.Error("expected valuation question to be detected")
	}
	if p.Parse("What is the beta of AAPL?").Valuation() {
		t.Error("plain metric query is not a valuation question")
	}
}

func TestOpaqueMetric(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"calculate piotroski score for MSFT", "piotroski_score"},
		{"What is the altman z-score of TSLA?", "altman_z-score"},
		{"calculate free cash flow yield on AAPL", "free_cash_flow_yield"},
		{"AAPL vs MSFT", ""},
		{"calculate ", ""},
	}
	for _, tt := range tests {
		if got := OpaqueMetric(tt.query); got != tt.want {
			t.Errorf("OpaqueMetric(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestParser_LoadAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	content := "information_ratio:\n  - information ratio\n  - ir\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewParser()
	if err := p.LoadAliases(path); err != nil {
		t.Fatalf("LoadAliases failed: %v", err)
	}
	parsed := p.Parse("information ratio of AAPL")
	if !reflect.DeepEqual(parsed.Metrics, []string{"information_ratio"}) {
		t.Errorf("expected [information_ratio], got %v", parsed.Metrics)
	}

	if err := p.LoadAliases(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing alias file")
	}
}
