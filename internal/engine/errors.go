package engine

import "fmt"

// ValidationError reports an input that violates the schema or a
// presence-validated dependency that resolved to Missing. It propagates
// to the top of Resolve and is recovered into the result envelope.
type ValidationError struct {
	Msg  string
	Path string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Msg, e.Path)
	}
	return e.Msg
}

// AbortError is an unrecoverable evaluation failure raised by a calc. It
// propagates identically to ValidationError but marks the envelope with
// status "abort".
type AbortError struct {
	Msg string
}

func (e *AbortError) Error() string { return e.Msg }

// Abort builds an AbortError; calcs return it to stop the whole query.
func Abort(format string, args ...any) *AbortError {
	return &AbortError{Msg: fmt.Sprintf(format, args...)}
}
