package harness

// StepEvent records one executed step.
type StepEvent struct {
	Seq    int    `json:"seq"`
	Op     string `json:"op"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is the trace dump taken by a snapshot step, one line per entry.
type Snapshot struct {
	Label string   `json:"label"`
	Dump  []string `json:"dump"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	Engine string `json:"engine"`

	Steps []StepEvent `json:"steps"`

	Snapshots []Snapshot `json:"snapshots,omitempty"`

	// Final is the trace dump after the last step.
	Final []string `json:"final"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(engine string) *Result {
	return &Result{
		Pass:   true,
		Engine: engine,
		Steps:  []StepEvent{},
		Final:  []string{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addStep(op, detail string) *StepEvent {
	r.Steps = append(r.Steps, StepEvent{Seq: len(r.Steps) + 1, Op: op, Detail: detail})
	return &r.Steps[len(r.Steps)-1]
}
