// Package ifaceerr collects the typed error kinds surfaced by the behavioral
// modeling core: property errors (bad construction-time parameters),
// protocol errors (runtime temporal violations), value/type errors (bad
// caller-supplied transactions) and duplicate-signal errors (bad interface
// assembly). None of them wrap a cause; they are leaves callers inspect with
// errors.As.
package ifaceerr

import "fmt"

// PropertyError reports an invalid construction-time parameter: an
// out-of-range value, a width mismatch, or a disjointness violation.
type PropertyError struct {
	Signal string
	Detail string
}

func (e *PropertyError) Error() string {
	if e.Signal == "" {
		return fmt.Sprintf("property error: %s", e.Detail)
	}
	return fmt.Sprintf("property error (%s): %s", e.Signal, e.Detail)
}

// ProtocolError reports a runtime violation of the interface's legal
// temporal behavior: an unresolvable sample, a control context escape, a
// missing or duplicate start-of-packet, a mid-packet channel change, or a
// missing required signal.
type ProtocolError struct {
	Signal   string
	Detail   string
	Observed any
}

func (e *ProtocolError) Error() string {
	if e.Observed != nil {
		return fmt.Sprintf("protocol error (%s): %s (observed %v)", e.Signal, e.Detail, e.Observed)
	}
	if e.Signal == "" {
		return fmt.Sprintf("protocol error: %s", e.Detail)
	}
	return fmt.Sprintf("protocol error (%s): %s", e.Signal, e.Detail)
}

// ValueError reports a caller-supplied transaction whose signal set does not
// match the requested role.
type ValueError struct {
	Detail string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("value error: %s", e.Detail)
}

// TypeError reports an attempt to drive a value of the wrong logical type.
type TypeError struct {
	Signal string
	Want   string
	Got    string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error (%s): expected %s, got %s", e.Signal, e.Want, e.Got)
}

// DuplicateSignalError reports a name collision during interface assembly.
type DuplicateSignalError struct {
	Name string
}

func (e *DuplicateSignalError) Error() string {
	return fmt.Sprintf("duplicate signal: %s", e.Name)
}
