// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package driver defines the contract between the reldb data-access layer
// and its pluggable SQL backends, together with the canonical column types
// and the error taxonomy every backend must translate into.
//
// Backends register an opener with Register, typically from an init function
// so that a blank import wires them up:
//
//	import _ "github.com/canonical/reldb/driver/sqlite"
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/canonical/reldb/ast"
)

// Type is a backend-independent column type. Each dialect keeps a
// bidirectional mapping between these and its native type names.
type Type int

const (
	// Rowid is an auto-incrementing integer primary key.
	Rowid Type = iota
	Integer
	Float
	Boolean
	Text
	Bytes
	Timestamp
)

var typeNames = [...]string{
	Rowid:     "rowid",
	Integer:   "integer",
	Float:     "float",
	Boolean:   "boolean",
	Text:      "text",
	Bytes:     "bytes",
	Timestamp: "timestamp",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "invalid"
	}
	return typeNames[t]
}

// ColumnDef describes one column for table creation.
type ColumnDef struct {
	Name     string
	Type     Type
	Required bool
	// Default is a literal default rendered into the DDL. Generated
	// defaults are applied above the driver and never appear here.
	Default    any
	HasDefault bool
	Unique     bool
	PrimaryKey bool
	// Autoincrement marks the synthesized rowid column. Dialects that need
	// an explicit keyword (AUTO_INCREMENT) key off this.
	Autoincrement bool
	// MaxLen bounds text width where the dialect distinguishes widths.
	// Zero means the dialect default.
	MaxLen int
	// RefTable/RefColumn name the referenced primary key for reference
	// columns, rendered as a REFERENCES clause where supported.
	RefTable  string
	RefColumn string
}

// ColumnInfo is introspected column metadata, canonically typed.
type ColumnInfo struct {
	Name       string
	Type       Type
	Required   bool
	Default    any
	PrimaryKey bool
}

// Cursor is a forward-only view over a result set.
type Cursor interface {
	// Next advances to the next row, reporting false at the end or on error.
	Next() bool
	// Scan returns the values of the current row.
	Scan() ([]any, error)
	// Err reports the error, if any, that stopped iteration.
	Err() error
	Close() error
}

// Driver is the capability contract a backend implements. A Driver instance
// is not safe for concurrent use without external locking.
type Driver interface {
	// Select compiles and runs a query. cols and orderBy are expression
	// trees; where may be nil for an unfiltered scan.
	Select(ctx context.Context, cols []ast.Node, tables []string, where ast.Node, distinct bool, orderBy []ast.Node) (Cursor, error)
	// Insert adds one row and returns the backend row identifier.
	Insert(ctx context.Context, table string, cols []string, values []any) (int64, error)
	// Update sets cols to values on every row matching where and returns the
	// affected row count.
	Update(ctx context.Context, table string, cols []string, values []any, where ast.Node) (int64, error)
	// Delete removes every row matching where and returns the affected count.
	Delete(ctx context.Context, table string, where ast.Node) (int64, error)

	// CreateTable creates the table if it does not already exist.
	CreateTable(ctx context.Context, name string, cols []ColumnDef, primaryKey []string) error
	DropTable(ctx context.Context, name string) error
	RenameTable(ctx context.Context, oldName, newName string) error
	// AddColumn extends an existing table. It is an extension point for
	// callers running their own schema diffs; nothing calls it implicitly.
	AddColumn(ctx context.Context, table string, col ColumnDef) error

	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]ColumnInfo, error)

	// Begin enters a transaction block, opening a backend transaction only
	// at the outermost level. End leaves the block; at the outermost level
	// it commits when cause is nil and rolls back otherwise, returning cause
	// (or the commit failure). Begin/End pairs nest by a depth counter.
	Begin(ctx context.Context) error
	End(cause error) error

	Close() error
}

// OpenFunc opens a backend from a driver-specific data source name.
type OpenFunc func(dsn string) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]OpenFunc)
)

// Register makes a backend available under name. It panics on a duplicate
// registration, matching database/sql behaviour.
func Register(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("reldb: Register open func is nil")
	}
	if _, dup := drivers[name]; dup {
		panic(fmt.Sprintf("reldb: Register called twice for driver %q", name))
	}
	drivers[name] = open
}

// Drivers returns the sorted names of the registered backends.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the named backend. An unregistered name yields
// *UnknownDriverError.
func Open(name, dsn string) (Driver, error) {
	driversMu.RLock()
	open, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, &UnknownDriverError{Name: name}
	}
	return open(dsn)
}
