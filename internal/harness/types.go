package harness

// Doc is the shape scenario values take: a decoded JSON object.
type Doc = map[string]any

// StepTrace records one executed step.
type StepTrace struct {
	Seq    int    `json:"seq"`
	Op     string `json:"op"`
	Input  any    `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// EventTrace records one event seen by the observing repository.
type EventTrace struct {
	Seq      int    `json:"seq"`
	Type     string `json:"type"`
	Key      any    `json:"key"`
	New      Doc    `json:"new,omitempty"`
	Previous Doc    `json:"previous,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Steps  []StepTrace  `json:"steps"`
	Events []EventTrace `json:"events"`

	// Errors holds one message per failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepTrace{},
		Events: []EventTrace{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
