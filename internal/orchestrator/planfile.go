package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantrel/finhop"
	"github.com/quantrel/finhop/internal/graph"
)

// PlanFile is a declarative query plan: hand-written sub-queries with
// explicit dependencies, bypassing the decomposer. Useful for replaying
// known analyses and for fixtures.
type PlanFile struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	SubQueries  []PlanFileSubQuery `yaml:"sub_queries"`
}

type PlanFileSubQuery struct {
	ID        string         `yaml:"id"`
	Type      string         `yaml:"type"`
	Metric    string         `yaml:"metric"`
	Params    map[string]any `yaml:"params"`
	DependsOn []string       `yaml:"depends_on"`
}

// PlanFileLoader defines an interface for loading a PlanFile from a source.
type PlanFileLoader interface {
	Load(source string) (*PlanFile, error)
	Format() string // e.g., "yaml", "json"
}

// loaderRegistry holds registered PlanFileLoaders by format name.
var loaderRegistry = make(map[string]PlanFileLoader)

// RegisterPlanFileLoader registers a new PlanFileLoader for a given format.
func RegisterPlanFileLoader(loader PlanFileLoader) {
	loaderRegistry[loader.Format()] = loader
}

// GetPlanFileLoader retrieves a loader by format name (e.g., "yaml").
func GetPlanFileLoader(format string) (PlanFileLoader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements PlanFileLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*PlanFile, error) {
	return LoadPlanFile(path)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterPlanFileLoader(YAMLLoader{})
}

// LoadPlanFile parses a YAML plan file.
func LoadPlanFile(path string) (*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()
	var plan PlanFile
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	return &plan, nil
}

// Validate checks the PlanFile for duplicate IDs, missing dependencies,
// unknown sub-query types, and cycles.
func (p *PlanFile) Validate() error {
	g := graph.New[*PlanFileSubQuery]()
	for i := range p.SubQueries {
		sq := &p.SubQueries[i]
		switch finhop.QueryType(sq.Type) {
		case finhop.QueryTypeCalculate, finhop.QueryTypeCompare, finhop.QueryTypeCorrelate:
		default:
			return fmt.Errorf("sub-query '%s' has unknown type '%s'", sq.ID, sq.Type)
		}
		if err := g.Add(sq.ID, sq.DependsOn, sq); err != nil {
			return fmt.Errorf("duplicate sub-query ID found: %s", sq.ID)
		}
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if g.HasCycles() {
		return fmt.Errorf("cycle detected in plan '%s'", p.Name)
	}
	return nil
}

// ToQueryPlan converts a PlanFile to an executable QueryPlan.
func (p *PlanFile) ToQueryPlan() *finhop.QueryPlan {
	subQueries := make([]*finhop.SubQuery, 0, len(p.SubQueries))
	for _, sq := range p.SubQueries {
		subQueries = append(subQueries, finhop.NewSubQuery(
			sq.ID,
			finhop.QueryType(sq.Type),
			sq.Metric,
			sq.Params,
			sq.DependsOn,
		))
	}
	return finhop.NewQueryPlan(subQueries)
}

// LoadAndValidatePlan loads a plan file using the default loader (YAML),
// validates it, and returns an executable QueryPlan.
func LoadAndValidatePlan(path string) (*finhop.QueryPlan, error) {
	loader, ok := GetPlanFileLoader("yaml")
	if !ok {
		return nil, fmt.Errorf("no YAML plan loader registered")
	}

	planFile, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := planFile.Validate(); err != nil {
		return nil, err
	}
	return planFile.ToQueryPlan(), nil
}
