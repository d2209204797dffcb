// Package rgerrors defines the error taxonomy used across restgraph:
// parsing, schema loading, resource operations and routing all fail
// through these kinds rather than ad-hoc error strings.
package rgerrors

import (
	"fmt"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
)

// Kind is one of the error taxonomy members from spec §7. It is not a Go
// error type itself; Error carries a Kind.
type Kind string

const (
	// BadRequest is malformed input at the protocol layer: unparseable
	// limit/offset, bad page, unknown filter operator, undecodable query JSON.
	BadRequest Kind = "bad_request"
	// Unprocessable is well-formed input that is semantically invalid.
	Unprocessable Kind = "unprocessable"
	// NotFound is a resource, subresource, or attribute not found on lookup.
	NotFound Kind = "not_found"
	// MethodNotAllowed is a path shape that does not permit the HTTP verb.
	MethodNotAllowed Kind = "method_not_allowed"
	// PermissionDenied is a Field op request not in the Field's allowed set.
	PermissionDenied Kind = "permission_denied"
)

// Error is the concrete error type returned by restgraph. It carries a
// machine-readable Code, human-readable Message, and an optional Params
// map for interpolation, per spec §7's "User-visible failure behavior".
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Params  map[string]interface{}
	// Path is the dotted/indexed location of this error within a load's
	// input document, e.g. "tracks.0.$op". Empty for top-level errors.
	Path string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Path, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// New builds an Error with the given kind, code and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, code, format string, args ...interface{}) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

// WithPath returns a copy of the error annotated with a location.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// WithParams returns a copy of the error with interpolation params set.
func (e *Error) WithParams(params map[string]interface{}) *Error {
	cp := *e
	cp.Params = params
	return &cp
}

// Is reports whether err is an *Error whose Kind equals kind.
func Is(err error, kind Kind) bool {
	rgErr, ok := err.(*Error)
	if !ok {
		return false
	}
	return rgErr.Kind == kind
}

// ValidationError is the error raised in strict mode when a Schema.Load
// call's aggregated error map is non-empty (spec §4.D, §7). It wraps the
// nested error tree so callers can still walk per-field errors.
type ValidationError struct {
	Errors ErrorMap
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", v.Errors.String())
}

// ErrorMap is the nested structure errors accumulate into while loading a
// document, mirroring the input shape (spec §4.D point 6, §9 "Error
// accumulation"). A scalar field maps to a list of messages; a to-many
// Nested field maps to a list of ErrorMaps aligned by input index, with
// nil entries for children that succeeded.
type ErrorMap map[string]interface{}

// AddField appends a field-level error to the map under its field name.
func (m ErrorMap) AddField(field string, err *Error) {
	existing, _ := m[field].([]*Error)
	m[field] = append(existing, err)
}

// SetChild assigns the nested error map produced by loading a to-one
// relationship child.
func (m ErrorMap) SetChild(field string, child ErrorMap) {
	if len(child) == 0 {
		return
	}
	m[field] = child
}

// SetChildList assigns the per-index error maps for a to-many
// relationship, preserving index alignment with the input list (a nil
// entry at index i means child i loaded without error).
func (m ErrorMap) SetChildList(field string, children []ErrorMap) {
	any := false
	for _, c := range children {
		if len(c) > 0 {
			any = true
			break
		}
	}
	if !any {
		return
	}
	list := make([]interface{}, len(children))
	for i, c := range children {
		if len(c) == 0 {
			list[i] = nil
		} else {
			list[i] = c
		}
	}
	m[field] = list
}

func (m ErrorMap) String() string {
	var sb strings.Builder
	for k, v := range m {
		fmt.Fprintf(&sb, "%s: %v; ", k, v)
	}
	return sb.String()
}

// SquashErrors aggregates a slice of errors into a single multierror,
// the same shape picard's batch-processing paths use. Returns nil if
// errs is empty.
func SquashErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var result *multierror.Error
	for _, err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
