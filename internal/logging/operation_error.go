package logging

import (
	"errors"
	"strings"

	"github.com/example/menu-labeler/internal/labels"
)

// Error kinds, one per failure boundary of the labeling pipeline.
const (
	KindRead    = "read"
	KindService = "service"
	KindParse   = "parse"
	KindWrite   = "write"
)

// OperationError ties a pipeline failure to the step and image it happened on.
type OperationError struct {
	Operation string
	Filename  string
	Err       error
}

// Kind reports which pipeline boundary the wrapped error belongs to, or ""
// when it matches none.
func (e *OperationError) Kind() string {
	if e == nil {
		return ""
	}
	return kindOf(e.Err)
}

// Error renders "operation [filename=... kind=...]: cause".
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Operation)
	var attrs []string
	if e.Filename != "" {
		attrs = append(attrs, "filename="+e.Filename)
	}
	if kind := e.Kind(); kind != "" {
		attrs = append(attrs, "kind="+kind)
	}
	if len(attrs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(attrs, " "))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the operation and filename it failed on.
func NewOperationError(operation, filename string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, Filename: filename, Err: err}
}

// KindOf returns the pipeline kind of any error chain, preferring the kind
// of an enclosing OperationError.
func KindOf(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Kind()
	}
	return kindOf(err)
}

func kindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, labels.ErrRead):
		return KindRead
	case errors.Is(err, labels.ErrService):
		return KindService
	case errors.Is(err, labels.ErrParse):
		return KindParse
	case errors.Is(err, labels.ErrWrite):
		return KindWrite
	default:
		return ""
	}
}
