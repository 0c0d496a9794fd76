// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package driver

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a row looked up by key does not exist.
var ErrNotFound = errors.New("no matching row")

// UnknownDriverError reports a backend name with no registered opener.
type UnknownDriverError struct {
	Name string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown database driver %q", e.Name)
}

// SchemaError reports an invalid schema operation: a duplicate table
// definition, a reference to a column or table that does not resolve, an
// unusable identifier, or a reference target without a single primary key.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return e.Message }

// Schemaf builds a *SchemaError.
func Schemaf(format string, args ...any) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// QuerySyntaxError reports malformed generated SQL. Offset is the character
// offset of the offending token within SQL, or -1 when the backend gave no
// position.
type QuerySyntaxError struct {
	SQL    string
	Offset int
	Detail string
}

func (e *QuerySyntaxError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Offset, e.SQL, e.Detail)
	}
	return fmt.Sprintf("syntax error in %q: %s", e.SQL, e.Detail)
}

// ConstraintError reports a uniqueness or not-null violation raised by the
// backend.
type ConstraintError struct {
	// Kind is "unique" or "not null".
	Kind   string
	Detail string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s constraint violated: %s", e.Kind, e.Detail)
}

// ResourceError reports a missing database file or a failed connection.
type ResourceError struct {
	Detail string
	Err    error
}

func (e *ResourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ValueError reports a value whose Go type cannot be stored in a column of
// the given canonical type. It is raised before any SQL is issued.
type ValueError struct {
	Column string
	Type   Type
	Value  any
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("cannot store %T value %v in %s column %q", e.Value, e.Value, e.Type, e.Column)
}

// ExecError wraps a backend error that matched no translation pattern. The
// statement and its bound parameters are attached for diagnosis.
type ExecError struct {
	SQL  string
	Args []any
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s (executing %q with %v)", e.Err, e.SQL, e.Args)
}

func (e *ExecError) Unwrap() error { return e.Err }
