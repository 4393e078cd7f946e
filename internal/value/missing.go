package value

import "strings"

// Missing is the sentinel inhabiting every type. It propagates through
// operations, compares equal to null, and is elided from JSON output.
// The zero Missing carries no diagnostic; NewMissing sets Reason, and
// Trace grows through Access only when debug is enabled.
type Missing struct {
	Reason string
	Trace  []string
}

// None is the shared blank Missing, carrying no reason.
var None = &Missing{}

// NewMissing builds a Missing with a diagnostic reason.
func NewMissing(reason string) *Missing { return &Missing{Reason: reason} }

// IsMissing reports whether v is a Missing value.
func IsMissing(v any) bool {
	_, ok := v.(*Missing)
	return ok
}

// Access returns a derived Missing describing an attribute or method
// access, accumulating the chain only when debug is on.
func (m *Missing) Access(name string, debug bool) *Missing {
	if !debug {
		return m
	}
	next := &Missing{Reason: m.Reason}
	next.Trace = append(append(next.Trace, m.Trace...), name)
	return next
}

// Describe renders the accumulated access chain for traces.
func (m *Missing) Describe() string {
	if m.Reason == "" && len(m.Trace) == 0 {
		return "missing"
	}
	parts := []string{}
	if m.Reason != "" {
		parts = append(parts, m.Reason)
	}
	if len(m.Trace) > 0 {
		parts = append(parts, "missing."+strings.Join(m.Trace, "."))
	}
	return strings.Join(parts, ": ")
}

func (m *Missing) String() string { return m.Describe() }

// MarshalJSON renders a stray Missing as null; containers drop
// Missing-bound keys before marshaling in the strip view.
func (m *Missing) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// ToInt, ToFloat, ToMap mirror the sentinel's conversion contract.
func (m *Missing) ToInt() int            { return 0 }
func (m *Missing) ToFloat() float64      { return 0 }
func (m *Missing) ToMap() map[string]any { return nil }

// EqualsNull is true: Missing compares equal to null.
func (m *Missing) EqualsNull() bool { return true }
