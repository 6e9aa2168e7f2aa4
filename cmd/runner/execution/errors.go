package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies engine failures. The HTTP boundary maps kinds to status
// codes; handlers pick the kind closest to the root cause.
type Kind string

const (
	KindValidationFailed         Kind = "ValidationFailed"
	KindToolNotFound             Kind = "ToolNotFound"
	KindUnknownBlockKind         Kind = "UnknownBlockKind"
	KindProviderError            Kind = "ProviderError"
	KindInvalidRoutingDecision   Kind = "InvalidRoutingDecision"
	KindConditionUnsatisfied     Kind = "ConditionUnsatisfied"
	KindForEachMissingCollection Kind = "ForEachMissingCollection"
	KindForEachEmpty             Kind = "ForEachEmpty"
	KindCancelled                Kind = "Cancelled"
	KindDeadlineExceeded         Kind = "DeadlineExceeded"
	KindRateLimited              Kind = "RateLimited"
	KindMissingEnvVar            Kind = "MissingEnvVar"
	KindAggregate                Kind = "Aggregate"
)

// Error is the engine's failure value. BlockID and BlockName are attached
// by the dispatcher when the raising handler did not set them.
type Error struct {
	Kind      Kind
	BlockID   string
	BlockName string
	Message   string
	Fields    map[string]any
	Timestamp time.Time
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.BlockID != "" {
		fmt.Fprintf(&b, " [block %s", e.BlockID)
		if e.BlockName != "" {
			fmt.Fprintf(&b, " %q", e.BlockName)
		}
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates an engine error with the given kind and message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// WrapError wraps a cause under an engine kind.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
		Err:       err,
	}
}

// WithBlock attaches block identity, keeping the first attachment.
func (e *Error) WithBlock(blockID, blockName string) *Error {
	if e.BlockID == "" {
		e.BlockID = blockID
		e.BlockName = blockName
	}
	return e
}

// WithField attaches a structured detail field.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// KindOf extracts the engine kind from any error chain, defaulting to
// ProviderError for unclassified failures.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return KindProviderError
}

// AggregateError collects branch failures from a parallel join.
type AggregateError struct {
	Errors []error
}

func (a *AggregateError) Error() string {
	parts := make([]string, len(a.Errors))
	for i, err := range a.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d branch(es) failed: %s", len(a.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes branch errors to errors.Is and errors.As.
func (a *AggregateError) Unwrap() []error { return a.Errors }

// NewAggregate wraps branch errors under the Aggregate kind. Returns nil
// when errs is empty.
func NewAggregate(errs []error) *Error {
	if len(errs) == 0 {
		return nil
	}
	return &Error{
		Kind:      KindAggregate,
		Timestamp: time.Now(),
		Err:       &AggregateError{Errors: errs},
	}
}
