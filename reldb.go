// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package reldb

import (
	"context"
	"log/slog"

	"github.com/canonical/reldb/driver"
)

// DB is the registry: one driver instance plus the set of defined tables.
// A DB is not safe for concurrent use without external locking.
type DB struct {
	drv    driver.Driver
	tables map[string]*Table
	// order keeps table names in definition order, which fixes iteration
	// and generated SQL ordering.
	order []string
}

// Option adjusts an Open call.
type Option func(*DB)

// WithLogger traces every executed statement to l at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		if ls, ok := db.drv.(interface{ SetLogger(*slog.Logger) }); ok {
			ls.SetLogger(l)
		}
	}
}

// Open connects the named backend to dsn and returns an empty registry.
// Backends register themselves on import:
//
//	import _ "github.com/canonical/reldb/driver/sqlite"
func Open(driverName, dsn string, options ...Option) (*DB, error) {
	drv, err := driver.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db := &DB{drv: drv, tables: make(map[string]*Table)}
	for _, o := range options {
		o(db)
	}
	return db, nil
}

// Driver exposes the underlying backend, for callers running their own
// schema extensions.
func (db *DB) Driver() driver.Driver { return db.drv }

// Close releases the connection. Defined tables become unusable.
func (db *DB) Close() error { return db.drv.Close() }

// DefineTable registers a new table and creates its backing storage if
// absent. The primary key is resolved from columns marked PrimaryKey, or
// an auto-incrementing rowid column is synthesized when none is marked.
func (db *DB) DefineTable(ctx context.Context, name string, cols ...*Column) (*Table, error) {
	return db.defineTable(ctx, name, nil, false, cols)
}

// DefineTableKeyed registers a new table with an explicit primary key
// column list. An empty list declares a keyless table, which disables
// identity-based row operations.
func (db *DB) DefineTableKeyed(ctx context.Context, name string, primaryKey []string, cols ...*Column) (*Table, error) {
	return db.defineTable(ctx, name, primaryKey, true, cols)
}

// Table returns the named table.
func (db *DB) Table(name string) (*Table, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, driver.Schemaf("table %q is not defined", name)
	}
	return t, nil
}

// Tables returns the defined tables in definition order.
func (db *DB) Tables() []*Table {
	tables := make([]*Table, len(db.order))
	for i, name := range db.order {
		tables[i] = db.tables[name]
	}
	return tables
}

// DropTable removes the table from the registry and drops its backing
// storage.
func (db *DB) DropTable(ctx context.Context, name string) error {
	t, ok := db.tables[name]
	if !ok {
		return driver.Schemaf("table %q is not defined", name)
	}
	if err := db.drv.DropTable(ctx, name); err != nil {
		return err
	}
	db.forget(name)
	for _, other := range db.tables {
		delete(other.referrers, name)
	}
	t.db = nil
	return nil
}

func (db *DB) forget(name string) {
	delete(db.tables, name)
	for i, n := range db.order {
		if n == name {
			db.order = append(db.order[:i], db.order[i+1:]...)
			break
		}
	}
}

// Transaction runs fn inside a transaction block. Blocks nest: only the
// outermost block commits, and any error rolls the whole nest back.
//
// Statements issued inside the block share the block's connection, so a
// Selection opened inside it must be drained or closed before the next
// statement. Selections opened before the block are unaffected.
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err = db.drv.Begin(ctx); err != nil {
		return err
	}
	defer func() { err = db.drv.End(err) }()
	return fn(ctx)
}

// Conform discards every in-memory table definition and rebuilds the
// registry purely from live introspection. Detail the canonical types
// cannot express (exact native subtypes, generated defaults, uniqueness)
// is lost.
func (db *DB) Conform(ctx context.Context) error {
	names, err := db.drv.ListTables(ctx)
	if err != nil {
		return err
	}
	db.tables = make(map[string]*Table, len(names))
	db.order = nil
	for _, name := range names {
		infos, err := db.drv.ListColumns(ctx, name)
		if err != nil {
			return err
		}
		db.conformTable(name, infos)
	}
	return nil
}

// Migrate creates backing storage for every defined table missing from the
// live database. It never alters or drops existing tables; column-level
// reconciliation is left to callers via Driver.AddColumn.
func (db *DB) Migrate(ctx context.Context) error {
	names, err := db.drv.ListTables(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(names))
	for _, name := range names {
		live[name] = true
	}
	for _, name := range db.order {
		if live[name] {
			continue
		}
		t := db.tables[name]
		defs := make([]driver.ColumnDef, len(t.cols))
		for i, c := range t.cols {
			defs[i] = c.columnDef()
		}
		if err := db.drv.CreateTable(ctx, name, defs, t.keyNames()); err != nil {
			return err
		}
	}
	return nil
}
