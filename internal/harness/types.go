package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keys"
)

// TraceEvent is one input or output line of a scenario trace.
type TraceEvent struct {
	Type string `json:"type"` // "input" or "output"
	Step int    `json:"step"`
	Text string `json:"text"`
}

// TimelineEntry is one processor step with the output it produced and the
// state after it.
type TimelineEntry struct {
	Step    int             `json:"step"`
	Input   string          `json:"input"`
	Outputs []string        `json:"outputs,omitempty"`
	State   engine.Snapshot `json:"state"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every input and output in order.
	Trace []TraceEvent `json:"trace"`

	// Timeline has one entry per processor step.
	Timeline []TimelineEntry `json:"timeline"`

	// Outputs is the flat output stream.
	Outputs []ir.OutputEvent `json:"-"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the processor state after the last step.
	State engine.Snapshot `json:"state"`

	// Stats are the processor counters after the last step.
	Stats engine.Stats `json:"stats"`

	// RecordingID is set when the run was stored (see WithRecorder).
	RecordingID string `json:"recording_id,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
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

// AddInputTrace adds a processor input to the trace.
func (r *Result) AddInputTrace(step int, text string) {
	r.Trace = append(r.Trace, TraceEvent{Type: "input", Step: step, Text: text})
}

// AddOutputTrace adds an output event to the trace.
func (r *Result) AddOutputTrace(step int, text string) {
	r.Trace = append(r.Trace, TraceEvent{Type: "output", Step: step, Text: text})
}

// OutputTexts returns the output lines of the trace.
func (r *Result) OutputTexts() []string {
	var out []string
	for _, e := range r.Trace {
		if e.Type == "output" {
			out = append(out, e.Text)
		}
	}
	return out
}

// FormatTime renders a timestamp in ms when it is a whole number of
// milliseconds, otherwise in µs.
func FormatTime(t ir.Timestamp) string {
	if t%1000 == 0 {
		return fmt.Sprintf("%dms", t/1000)
	}
	return fmt.Sprintf("%dus", uint64(t))
}

// FormatOutput renders an output event in scenario notation.
func FormatOutput(e ir.OutputEvent) string {
	var b strings.Builder
	b.WriteString(e.Edge.String())
	b.WriteByte(' ')
	switch e.Kind {
	case ir.KeyTranslation:
		b.WriteString(keys.Name(e.Key))
	default:
		fmt.Fprintf(&b, "%s:%d", e.Kind, e.ID)
	}
	if e.Device != 0 {
		fmt.Fprintf(&b, " dev=%d", e.Device)
	}
	b.WriteString(" @")
	b.WriteString(FormatTime(e.Time))
	return b.String()
}

// FormatStep renders a processor step in scenario notation.
func FormatStep(s engine.Step) string {
	if s.Kind == engine.StepTick {
		return "tick @" + FormatTime(s.Time)
	}
	e := s.Event
	text := e.Edge.String() + " " + keys.Name(e.Key)
	if e.Device != 0 {
		text += fmt.Sprintf(" dev=%d", e.Device)
	}
	return text + " @" + FormatTime(e.Time)
}

// MatchOutput reports whether actual, in FormatOutput notation, matches the
// expected pattern. A pattern matches the full text or any prefix of it that
// ends at a field boundary, so "press b" matches "press b dev=1 @10ms".
func MatchOutput(pattern, actual string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == actual {
		return true
	}
	return strings.HasPrefix(actual, pattern+" ")
}
