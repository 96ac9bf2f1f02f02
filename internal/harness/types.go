package harness

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Step   string         `json:"step"`
	Result map[string]any `json:"result"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome with the next sequence number.
func (r *Result) AddTrace(step string, result map[string]any) TraceEvent {
	event := TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Step:   step,
		Result: result,
	}
	r.Trace = append(r.Trace, event)
	return event
}
