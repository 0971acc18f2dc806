// Package queryparse extracts the financial vocabulary of a free-text
// analytical query: requested metrics, target tickers, and the comparison or
// chaining language that decides how the query is decomposed.
package queryparse

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonical metric names understood by the default alias table. The set is
// open: callers may register further aliases, and unmatched phrases can still
// travel as opaque metric strings for the calculator to reject.
const (
	MetricSharpeRatio  = "sharpe_ratio"
	MetricSortinoRatio = "sortino_ratio"
	MetricVolatility   = "volatility"
	MetricBeta         = "beta"
	MetricCorrelation  = "correlation"
	MetricMaxDrawdown  = "max_drawdown"
	MetricRSI          = "rsi"
	MetricReturns      = "returns"
	MetricPERatio      = "pe_ratio"
)

// Deliberately loose: malformed symbols like INVALID_TICKER still parse so
// the failure surfaces during execution instead of being silently dropped.
var tickerPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9._]{0,14}\b`)

// Uppercase tokens that look like tickers but never are.
var tickerStopWords = map[string]struct{}{
	"A": {}, "I": {}, "AND": {}, "OR": {}, "VS": {}, "THE": {}, "OF": {},
	"FOR": {}, "TO": {}, "IN": {}, "ON": {}, "IS": {}, "BETWEEN": {},
	"THEN": {}, "WITH": {},
}

var comparisonWords = []string{"compare", "compared", "comparison", " vs ", " vs. ", "versus"}

var valuationWords = []string{"undervalued", "overvalued", "fairly valued", "valuation", "should i buy", "worth buying"}

// ParsedQuery is the structured reading of one free-text query.
type ParsedQuery struct {
	Raw     string
	Metrics []string // canonical metric names in order of first mention
	Tickers []string // ticker symbols in order of first mention, deduplicated
}

// Comparison reports whether the query uses comparison language, either an
// explicit comparison word or an "and"-joined list of two or more tickers.
func (q *ParsedQuery) Comparison() bool {
	lower := strings.ToLower(q.Raw)
	for _, w := range comparisonWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return len(q.Tickers) >= 2 && strings.Contains(lower, " and ")
}

// ChainedCorrelation reports whether the query chains a trailing correlation
// step onto another metric ("..., then calculate correlation between them").
func (q *ParsedQuery) ChainedCorrelation() bool {
	if len(q.Metrics) < 2 {
		return false
	}
	hasCorrelation := false
	for _, m := range q.Metrics {
		if m == MetricCorrelation {
			hasCorrelation = true
		}
	}
	return hasCorrelation && q.PrimaryMetric() != MetricCorrelation
}

// Valuation reports whether the query asks a valuation question, which the
// reasoning-chain builder answers with a concluding step.
func (q *ParsedQuery) Valuation() bool {
	lower := strings.ToLower(q.Raw)
	for _, w := range valuationWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// PrimaryMetric returns the first non-correlation metric mentioned, falling
// back to correlation when it is the only one.
func (q *ParsedQuery) PrimaryMetric() string {
	for _, m := range q.Metrics {
		if m != MetricCorrelation {
			return m
		}
	}
	if len(q.Metrics) > 0 {
		return q.Metrics[0]
	}
	return ""
}

type aliasEntry struct {
	phrase string
	metric string
}

// Parser matches query text against a metric alias table. The zero value is
// not usable; construct with NewParser.
type Parser struct {
	aliases []aliasEntry // ordered longest phrase first
}

// NewParser returns a parser loaded with the default metric alias table.
func NewParser() *Parser {
	p := &Parser{}
	p.register(map[string][]string{
		MetricSharpeRatio:  {"sharpe ratio", "sharpe ratios", "sharpe"},
		MetricSortinoRatio: {"sortino ratio", "sortino"},
		MetricVolatility:   {"volatility", "standard deviation"},
		MetricBeta:         {"beta"},
		MetricCorrelation:  {"correlation", "correlate", "correlated"},
		MetricMaxDrawdown:  {"maximum drawdown", "max drawdown", "drawdown"},
		MetricRSI:          {"relative strength index", "rsi"},
		MetricReturns:      {"returns", "return"},
		MetricPERatio:      {"p/e ratio", "pe ratio", "price to earnings"},
	})
	return p
}

// LoadAliases merges additional metric aliases from a YAML file mapping
// canonical metric names to phrase lists. Later registrations win ties with
// equal phrase length.
func (p *Parser) LoadAliases(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to open alias file: %w", err)
	}
	var table map[string][]string
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return fmt.Errorf("failed to parse alias YAML: %w", err)
	}
	p.register(table)
	return nil
}

func (p *Parser) register(table map[string][]string) {
	for metric, phrases := range table {
		for _, phrase := range phrases {
			p.aliases = append(p.aliases, aliasEntry{phrase: strings.ToLower(phrase), metric: metric})
		}
	}
	// Longest phrase first so "sharpe ratio" wins over "sharpe".
	for i := 1; i < len(p.aliases); i++ {
		for j := i; j > 0 && len(p.aliases[j].phrase) > len(p.aliases[j-1].phrase); j-- {
			p.aliases[j], p.aliases[j-1] = p.aliases[j-1], p.aliases[j]
		}
	}
}

// Parse reads the metrics and tickers out of one query.
func (p *Parser) Parse(query string) *ParsedQuery {
	parsed := &ParsedQuery{Raw: query}
	lower := strings.ToLower(query)

	seen := make(map[string]bool)
	consumed := lower
	for _, alias := range p.aliases {
		idx := strings.Index(consumed, alias.phrase)
		if idx < 0 || seen[alias.metric] {
			continue
		}
		seen[alias.metric] = true
		parsed.Metrics = append(parsed.Metrics, alias.metric)
		// Blank out the match so shorter aliases cannot re-match inside it.
		consumed = consumed[:idx] + strings.Repeat(" ", len(alias.phrase)) + consumed[idx+len(alias.phrase):]
	}
	// Restore first-mention order; the alias table is scanned longest-first.
	sortByMention(parsed.Metrics, lower, p)

	seenTicker := make(map[string]bool)
	for _, tok := range tickerPattern.FindAllString(query, -1) {
		if _, stop := tickerStopWords[tok]; stop {
			continue
		}
		if p.isMetricWord(strings.ToLower(tok)) {
			continue
		}
		if seenTicker[tok] {
			continue
		}
		seenTicker[tok] = true
		parsed.Tickers = append(parsed.Tickers, tok)
	}
	return parsed
}

// OpaqueMetric extracts an unrecognized metric phrase from queries shaped
// like "calculate <phrase> for AAPL", normalized to snake_case. Returns ""
// when the query has no such shape.
func OpaqueMetric(query string) string {
	lower := strings.ToLower(query)
	idx := strings.Index(lower, "calculate ")
	if idx < 0 {
		idx = strings.Index(lower, "what is the ")
		if idx < 0 {
			return ""
		}
		idx += len("what is the ")
	} else {
		idx += len("calculate ")
	}
	rest := lower[idx:]
	end := len(rest)
	for _, sep := range []string{" for ", " of ", " on "} {
		if i := strings.Index(rest, sep); i >= 0 && i < end {
			end = i
		}
	}
	phrase := strings.TrimSpace(rest[:end])
	if phrase == "" {
		return ""
	}
	fields := strings.Fields(phrase)
	return strings.Join(fields, "_")
}

func (p *Parser) isMetricWord(word string) bool {
	for _, alias := range p.aliases {
		if alias.phrase == word {
			return true
		}
	}
	return false
}

// sortByMention reorders metrics by the position of their earliest alias
// occurrence in the query.
func sortByMention(metrics []string, lower string, p *Parser) {
	pos := func(metric string) int {
		best := len(lower) + 1
		for _, alias := range p.aliases {
			if alias.metric != metric {
				continue
			}
			if i := strings.Index(lower, alias.phrase); i >= 0 && i < best {
				best = i
			}
		}
		return best
	}
	for i := 1; i < len(metrics); i++ {
		for j := i; j > 0 && pos(metrics[j]) < pos(metrics[j-1]); j-- {
			metrics[j], metrics[j-1] = metrics[j-1], metrics[j]
		}
	}
}
