// Package warehouse defines the remote warehouse capability the engine drives.
package warehouse

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Statement is one SQL statement sent to the warehouse.
type Statement struct {
	SQL string

	// Prelude holds idempotent statements that must succeed before SQL runs,
	// such as creating a missing container for a clone.
	Prelude []string

	// ReadOnly marks metadata queries. Clients may refuse writes when a
	// caller only asked for introspection.
	ReadOnly bool
}

// Result holds the rows returned by a statement.
type Result struct {
	Columns []string
	Rows    [][]interface{}

	// RowsAffected is reported for statements that return no rows, -1 when unknown.
	RowsAffected int64
}

// Client executes statements against a warehouse.
type Client interface {
	Execute(ctx context.Context, stmt Statement) (*Result, error)
}

// Closer is implemented by clients holding a connection pool.
type Closer interface {
	Close() error
}

// FailureKind classifies a failed statement.
type FailureKind string

const (
	FailureTransient     FailureKind = "transient"
	FailurePermanent     FailureKind = "permanent"
	FailurePermission    FailureKind = "permission"
	FailureNotFound      FailureKind = "not_found"
	FailureAlreadyExists FailureKind = "already_exists"
)

// Failure is the error returned by a Client when the warehouse rejects or
// cannot complete a statement.
type Failure struct {
	Kind    FailureKind
	Code    string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s failure (%s): %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("%s failure: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether another attempt may succeed.
func (f *Failure) Retryable() bool {
	return f.Kind == FailureTransient
}

// NewFailure creates a failure of the given kind.
func NewFailure(kind FailureKind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}

// AsFailure extracts a Failure from err. Errors that are not failures are
// treated as permanent.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if stderrors.As(err, &f) {
		return f
	}
	return &Failure{Kind: FailurePermanent, Message: err.Error(), Err: err}
}

// IsAlreadyExists reports whether err means the target object already exists.
func IsAlreadyExists(err error) bool {
	var f *Failure
	return stderrors.As(err, &f) && f.Kind == FailureAlreadyExists
}

// Query runs a read-only statement.
func Query(ctx context.Context, c Client, sql string) (*Result, error) {
	return c.Execute(ctx, Statement{SQL: sql, ReadOnly: true})
}

// Column returns the index of a column by case-insensitive name, or -1.
func (r *Result) Column(name string) int {
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// String returns a cell as text.
func (r *Result) String(row, col int) string {
	if col < 0 || row >= len(r.Rows) || col >= len(r.Rows[row]) {
		return ""
	}
	switch v := r.Rows[row][col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns a numeric cell, or -1 when it is absent or not a number.
func (r *Result) Int(row, col int) int64 {
	if col < 0 || row >= len(r.Rows) || col >= len(r.Rows[row]) {
		return -1
	}
	switch v := r.Rows[row][col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case []byte, string:
		var n int64
		if _, err := fmt.Sscan(r.String(row, col), &n); err != nil {
			return -1
		}
		return n
	default:
		return -1
	}
}
