package autonomy

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// goalValidate validates goal definitions.
var goalValidate = validator.New()

// Operator compares a measured value with a goal target.
type Operator string

const (
	OpGTE Operator = "gte"
	OpLTE Operator = "lte"
)

// Goal is a declared target for one metric.
type Goal struct {
	ID                  string   `yaml:"id" json:"id,omitempty"`
	TargetMetric        string   `yaml:"target_metric" json:"target_metric" validate:"required"`
	Operator            Operator `yaml:"operator" json:"operator" validate:"required,oneof=gte lte"`
	TargetValue         float64  `yaml:"target_value" json:"target_value"`
	AssociatedDirective string   `yaml:"associated_directive" json:"associated_directive" validate:"required"`
	Enabled             *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Name identifies the goal in logs.
func (g Goal) Name() string {
	if g.ID != "" {
		return g.ID
	}
	return g.TargetMetric
}

// IsEnabled reports whether the goal is active. Goals are enabled unless
// explicitly disabled.
func (g Goal) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// Gap reports whether value misses the target: below it for gte, above
// it for lte.
func (g Goal) Gap(value float64) bool {
	switch g.Operator {
	case OpGTE:
		return value < g.TargetValue
	case OpLTE:
		return value > g.TargetValue
	default:
		return false
	}
}

// Validate checks the goal definition.
func (g Goal) Validate() error {
	return goalValidate.Struct(g)
}

type goalsFile struct {
	Goals []Goal `yaml:"goals"`
}

// LoadGoals reads goals from a YAML or JSON file holding either a list
// of goals or an object with a "goals" list. Goals are not validated
// here, so one bad definition cannot hide the others; the loop checks
// each goal with Validate when it evaluates it.
func LoadGoals(path string) ([]Goal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading goals file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing goals file %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	var goals []Goal
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&goals); err != nil {
			return nil, fmt.Errorf("decoding goals in %s: %w", path, err)
		}
	case yaml.MappingNode:
		var gf goalsFile
		if err := root.Decode(&gf); err != nil {
			return nil, fmt.Errorf("decoding goals in %s: %w", path, err)
		}
		goals = gf.Goals
	default:
		return nil, errors.New("goals file must hold a list or a \"goals\" key")
	}
	return goals, nil
}
