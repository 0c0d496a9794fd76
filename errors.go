// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package reldb

import (
	"github.com/canonical/reldb/driver"
)

// The error taxonomy lives in the driver package, where backends translate
// into it. Aliases are provided here so most callers never import driver.
type (
	SchemaError        = driver.SchemaError
	QuerySyntaxError   = driver.QuerySyntaxError
	ConstraintError    = driver.ConstraintError
	ResourceError      = driver.ResourceError
	UnknownDriverError = driver.UnknownDriverError
	ValueError         = driver.ValueError
)

// ErrNotFound reports that a row looked up by key does not exist.
var ErrNotFound = driver.ErrNotFound
