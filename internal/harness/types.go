package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Step   string `json:"step,omitempty"`
	Op     string `json:"op"`
	Action string `json:"action,omitempty"`

	// Case is CaseSuccess or CaseError.
	Case string `json:"case"`

	ID string `json:"id,omitempty"`

	// Kind and Code are set when Case is CaseError.
	Kind string `json:"kind,omitempty"`
	Code string `json:"code,omitempty"`

	// Summary is a short, id-free rendering of the response.
	Summary string `json:"summary,omitempty"`

	// Setup marks steps from the setup section.
	Setup bool `json:"setup,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures. Empty if Pass is
	// true.
	Errors []string `json:"errors,omitempty"`

	// Refs maps saved names to record ids.
	Refs map[string]string `json:"refs,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Refs:   make(map[string]string),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace appends ev with the next sequence number.
func (r *Result) addTrace(ev TraceEvent) TraceEvent {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
	return ev
}
