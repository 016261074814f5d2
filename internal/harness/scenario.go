package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docrepo/internal/compiler"
)

// Scenario is one repository test case.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Entity holds exactly one entity declaration.
	Entity yaml.Node `yaml:"entity"`

	// Token is the writing repository's instance token. Defaults to "writer".
	Token string `yaml:"token,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`

	decl *compiler.Declaration
}

// Declaration returns the compiled entity declaration.
func (s *Scenario) Declaration() *compiler.Declaration {
	return s.decl
}

func (s *Scenario) writerToken() string {
	if s.Token != "" {
		return s.Token
	}
	return "writer"
}

// Step operations.
const (
	OpSave    = "save"
	OpSaveAll = "saveAll"
	OpFind    = "find"
	OpFindAll = "findAll"
	OpDelete  = "delete"
	OpClear   = "clear"
	OpCount   = "count"
	OpSearch  = "search"
)

// Step is one repository call. Exactly one operation field is set.
type Step struct {
	Save    map[string]any   `yaml:"save,omitempty"`
	SaveAll []map[string]any `yaml:"saveAll,omitempty"`
	Find    any              `yaml:"find,omitempty"`
	FindAll bool             `yaml:"findAll,omitempty"`
	Delete  any              `yaml:"delete,omitempty"`
	Clear   bool             `yaml:"clear,omitempty"`
	Count   bool             `yaml:"count,omitempty"`
	Search  *Search          `yaml:"search,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Ops lists the operations set on the step.
func (s Step) Ops() []string {
	var ops []string
	if s.Save != nil {
		ops = append(ops, OpSave)
	}
	if s.SaveAll != nil {
		ops = append(ops, OpSaveAll)
	}
	if s.Find != nil {
		ops = append(ops, OpFind)
	}
	if s.FindAll {
		ops = append(ops, OpFindAll)
	}
	if s.Delete != nil {
		ops = append(ops, OpDelete)
	}
	if s.Clear {
		ops = append(ops, OpClear)
	}
	if s.Count {
		ops = append(ops, OpCount)
	}
	if s.Search != nil {
		ops = append(ops, OpSearch)
	}
	return ops
}

// Op returns the step's operation, empty if not exactly one is set.
func (s Step) Op() string {
	if ops := s.Ops(); len(ops) == 1 {
		return ops[0]
	}
	return ""
}

// Search builds a query from clauses applied in order.
type Search struct {
	Where []Clause `yaml:"where" json:"where"`
	// Count returns the number of matches instead of the matches.
	Count bool `yaml:"count,omitempty" json:"count,omitempty"`
}

// Clause operators.
const (
	ClauseAndEqual    = "andEqual"
	ClauseAndNotEqual = "andNotEqual"
	ClauseOrEqual     = "orEqual"
	ClauseOrNotEqual  = "orNotEqual"
)

// Clause is one query constraint.
type Clause struct {
	Op    string `yaml:"op" json:"op"`
	Field string `yaml:"field" json:"field"`
	Value any    `yaml:"value" json:"value"`
}

// Expect states what a step should produce. Only set fields are checked.
type Expect struct {
	Key    any              `yaml:"key,omitempty"`
	Keys   []any            `yaml:"keys,omitempty"`
	Found  *bool            `yaml:"found,omitempty"`
	Value  map[string]any   `yaml:"value,omitempty"`
	Values []map[string]any `yaml:"values,omitempty"`
	Count  *int             `yaml:"count,omitempty"`
	// Error is a substring the step's error must contain.
	Error string `yaml:"error,omitempty"`
}

// Assertion types.
const (
	AssertFinalCount = "final_count"
	AssertFinalState = "final_state"
	AssertEventCount = "event_count"
	AssertEventOrder = "event_order"
)

// Assertion checks the state or the events after all steps ran.
type Assertion struct {
	Type string `yaml:"type"`

	// Key selects the row (final_state).
	Key any `yaml:"key,omitempty"`
	// Expect is a subset match on the row (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
	// Absent requires the row to be missing (final_state).
	Absent bool `yaml:"absent,omitempty"`

	// Count is the expected number (final_count, event_count).
	Count int `yaml:"count,omitempty"`
	// Event restricts event_count to one type.
	Event string `yaml:"event,omitempty"`
	// Events is the expected type order (event_order).
	Events []string `yaml:"events,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Base(path))
}

// ParseScenario parses scenario YAML. source names the input in errors.
func ParseScenario(data []byte, source string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario, source); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and compiles the entity block.
func validateScenario(s *Scenario, source string) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Entity.Kind == 0 {
		return fmt.Errorf("entity is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	decls, err := compiler.CompileYAMLNode(&s.Entity, source)
	if err != nil {
		return fmt.Errorf("entity: %w", err)
	}
	if len(decls) != 1 {
		return fmt.Errorf("entity must declare exactly one entity, got %d", len(decls))
	}
	if errs := compiler.Validate(decls[0]); len(errs) > 0 {
		return fmt.Errorf("entity: %w", errs[0])
	}
	s.decl = decls[0]

	for i, step := range s.Steps {
		switch ops := step.Ops(); len(ops) {
		case 0:
			return fmt.Errorf("steps[%d]: an operation is required", i)
		case 1:
		default:
			return fmt.Errorf("steps[%d]: only one operation allowed, got %v", i, ops)
		}
		if step.Search != nil {
			for j, c := range step.Search.Where {
				if err := validateClause(c); err != nil {
					return fmt.Errorf("steps[%d].search.where[%d]: %w", i, j, err)
				}
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateClause(c Clause) error {
	switch c.Op {
	case ClauseAndEqual, ClauseAndNotEqual, ClauseOrEqual, ClauseOrNotEqual:
	default:
		return fmt.Errorf("unknown op %q", c.Op)
	}
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for final_count", index)
		}
	case AssertFinalState:
		if a.Key == nil {
			return fmt.Errorf("assertions[%d]: key is required for final_state", index)
		}
		if len(a.Expect) == 0 && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	case AssertEventCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
		if a.Event != "" && !validEventName(a.Event) {
			return fmt.Errorf("assertions[%d]: unknown event %q", index, a.Event)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
		for _, e := range a.Events {
			if !validEventName(e) {
				return fmt.Errorf("assertions[%d]: unknown event %q", index, e)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validEventName(name string) bool {
	return name == "create" || name == "update" || name == "delete"
}
