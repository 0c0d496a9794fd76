// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package reldb

import (
	"context"
	"time"

	"github.com/canonical/reldb/driver"
	"github.com/canonical/reldb/driver/sqlbase"
)

// Table is a declared table bound to one DB. Tables are immutable after
// definition; composing a new table from an existing one goes through
// Columns, which returns detached clones.
type Table struct {
	db     *DB
	name   string
	cols   []*Column
	byName map[string]*Column

	// primaryKey is the resolved key, in declaration order. Empty only for
	// explicitly keyless tables.
	primaryKey []*Column
	keyless    bool

	// referrers maps a referring table's name to its columns that target
	// this table. It backs reverse lookups on rows.
	referrers map[string][]*Column
}

// defineTable builds, registers and creates a table. pkExplicit
// distinguishes an absent key list from an empty one; an empty explicit list
// declares a keyless table.
func (db *DB) defineTable(ctx context.Context, name string, pk []string, pkExplicit bool, cols []*Column) (*Table, error) {
	if err := sqlbase.CheckIdentifier(name); err != nil {
		return nil, err
	}
	if _, dup := db.tables[name]; dup {
		return nil, driver.Schemaf("table %q is already defined", name)
	}
	if len(cols) == 0 {
		return nil, driver.Schemaf("table %q has no columns", name)
	}

	t := &Table{
		db:        db,
		name:      name,
		byName:    make(map[string]*Column, len(cols)),
		referrers: make(map[string][]*Column),
	}
	for _, c := range cols {
		if err := sqlbase.CheckIdentifier(c.name); err != nil {
			return nil, err
		}
		if _, dup := t.byName[c.name]; dup {
			return nil, driver.Schemaf("table %q declares column %q twice", name, c.name)
		}
		c = c.clone()
		if err := t.resolveRef(c); err != nil {
			return nil, err
		}
		c.table = t
		t.cols = append(t.cols, c)
		t.byName[c.name] = c
	}
	if err := t.resolveKey(pk, pkExplicit); err != nil {
		return nil, err
	}

	defs := make([]driver.ColumnDef, len(t.cols))
	for i, c := range t.cols {
		defs[i] = c.columnDef()
	}
	if err := db.drv.CreateTable(ctx, name, defs, t.keyNames()); err != nil {
		return nil, err
	}

	db.tables[name] = t
	db.order = append(db.order, name)
	for _, c := range t.cols {
		if c.refTarget != nil {
			c.refTarget.referrers[name] = append(c.refTarget.referrers[name], c)
		}
	}
	return t, nil
}

// resolveRef fixes up a reference column: the stored type and referenced
// column name come from the target's primary key unless an explicit value
// converter was supplied.
func (t *Table) resolveRef(c *Column) error {
	if c.refTarget == nil {
		return nil
	}
	target := c.refTarget
	if target.db != t.db {
		return driver.Schemaf("column %q references table %q from another registry", c.name, target.name)
	}
	if c.refValue != nil {
		return nil
	}
	if len(target.primaryKey) != 1 {
		return driver.Schemaf("column %q references table %q, which has no single primary key column", c.name, target.name)
	}
	pk := target.primaryKey[0]
	c.typ = pk.typ
	if c.typ == driver.Rowid {
		// Referencing values are plain integers; only the key itself
		// auto-increments.
		c.typ = driver.Integer
	}
	c.refColumn = pk.name
	return nil
}

// resolveKey picks the primary key: an explicit list wins, then columns
// flagged PrimaryKey, then a synthesized auto-increment rowid column.
func (t *Table) resolveKey(pk []string, explicit bool) error {
	if explicit {
		if len(pk) == 0 {
			t.keyless = true
			return nil
		}
		for _, name := range pk {
			c, ok := t.byName[name]
			if !ok {
				return driver.Schemaf("primary key column %q is not declared in table %q", name, t.name)
			}
			c.primaryKey = true
			c.unique = true
			c.required = true
			t.primaryKey = append(t.primaryKey, c)
		}
		return nil
	}
	for _, c := range t.cols {
		if c.primaryKey {
			t.primaryKey = append(t.primaryKey, c)
		}
	}
	if len(t.primaryKey) > 0 {
		return nil
	}
	if _, taken := t.byName["rowid"]; taken {
		return driver.Schemaf("table %q needs an implicit rowid key but declares a non-key column named rowid", t.name)
	}
	c := Rowid("rowid")
	c.table = t
	t.cols = append(t.cols, c)
	t.byName[c.name] = c
	t.primaryKey = []*Column{c}
	return nil
}

func (t *Table) keyNames() []string {
	names := make([]string, len(t.primaryKey))
	for i, c := range t.primaryKey {
		names[i] = c.name
	}
	return names
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// PrimaryKey returns the resolved primary key column names in order.
func (t *Table) PrimaryKey() []string { return t.keyNames() }

// Columns returns detached clones of the table's columns, for reuse in
// another definition.
func (t *Table) Columns() []*Column {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.clone()
	}
	return cols
}

// Col returns the named column.
func (t *Table) Col(name string) (*Column, error) {
	c, ok := t.byName[name]
	if !ok {
		return nil, driver.Schemaf("table %q has no column %q", t.name, name)
	}
	return c, nil
}

// C returns the named column as an expression. An unknown name produces an
// expression whose error surfaces on execution, so lookups chain fluently.
func (t *Table) C(name string) *Expr {
	c, ok := t.byName[name]
	if !ok {
		return &Expr{err: driver.Schemaf("table %q has no column %q", t.name, name)}
	}
	return columnExpr(c)
}

// Equal reports whether two tables declare the same schema: same name and,
// per column, same name, type, required flag, key membership and literal
// default. Owning registries, uniqueness constraints and generated defaults
// are ignored; introspection cannot recover them, so Conform round-trips
// compare equal.
func (t *Table) Equal(other *Table) bool {
	if other == nil || t.name != other.name || len(t.cols) != len(other.cols) {
		return false
	}
	if t.keyless != other.keyless {
		return false
	}
	for i, c := range t.cols {
		o := other.cols[i]
		if c.name != o.name || c.typ != o.typ || c.required != o.required || c.primaryKey != o.primaryKey {
			return false
		}
		cd, cok := literalDefault(c)
		od, ook := literalDefault(o)
		if cok != ook || !valueEqual(cd, od) {
			return false
		}
	}
	return true
}

func literalDefault(c *Column) (any, bool) {
	if c.defFunc != nil || !c.hasDefault {
		return nil, false
	}
	return c.def, true
}

// Insert adds one row. Generated defaults are evaluated here; literal
// defaults are left to the backend. When the table has a derivable key the
// freshly stored row is fetched back and returned, otherwise the row result
// is nil.
func (t *Table) Insert(ctx context.Context, values Values) (*Row, error) {
	applied, cols, args, err := t.dumpValues(values, true)
	if err != nil {
		return nil, err
	}
	id, err := t.db.drv.Insert(ctx, t.name, cols, args)
	if err != nil {
		return nil, err
	}
	if t.keyless {
		return nil, nil
	}
	key := make([]any, len(t.primaryKey))
	for i, c := range t.primaryKey {
		v, ok := applied[c.name]
		switch {
		case ok:
			key[i] = v
		case c.autoincrement:
			key[i] = id
		default:
			// The backend supplied the key value; there is no way to know it.
			return nil, nil
		}
	}
	return t.Get(ctx, key...)
}

// InsertMany adds rows atomically: one transaction, all or nothing.
func (t *Table) InsertMany(ctx context.Context, rows []Values) (err error) {
	if err = t.db.drv.Begin(ctx); err != nil {
		return err
	}
	defer func() { err = t.db.drv.End(err) }()
	for _, values := range rows {
		_, cols, args, err := t.dumpValues(values, true)
		if err != nil {
			return err
		}
		if _, err := t.db.drv.Insert(ctx, t.name, cols, args); err != nil {
			return err
		}
	}
	return nil
}

// dumpValues validates and converts a value map into parallel column and
// argument lists in declaration order. With defaults set, generated
// defaults fill absent columns.
func (t *Table) dumpValues(values Values, defaults bool) (Values, []string, []any, error) {
	for name := range values {
		if _, ok := t.byName[name]; !ok {
			return nil, nil, nil, driver.Schemaf("table %q has no column %q", t.name, name)
		}
	}
	applied := make(Values, len(values))
	var cols []string
	var args []any
	for _, c := range t.cols {
		v, ok := values[c.name]
		if !ok {
			if !defaults || c.defFunc == nil {
				continue
			}
			v = c.defFunc()
		}
		dumped, err := c.dump(v)
		if err != nil {
			return nil, nil, nil, err
		}
		applied[c.name] = v
		cols = append(cols, c.name)
		args = append(args, dumped)
	}
	return applied, cols, args, nil
}

// keyFilter builds the primary-key equality filter for one key tuple.
func (t *Table) keyFilter(key []any) (*Expr, error) {
	if t.keyless {
		return nil, driver.Schemaf("table %q has no primary key", t.name)
	}
	if len(key) != len(t.primaryKey) {
		return nil, driver.Schemaf("table %q key has %d columns, got %d values", t.name, len(t.primaryKey), len(key))
	}
	var filter *Expr
	for i, c := range t.primaryKey {
		eq := columnExpr(c).Eq(key[i])
		if filter == nil {
			filter = eq
		} else {
			filter = filter.And(eq)
		}
	}
	return filter, nil
}

// Get fetches the row with the given primary key values, or ErrNotFound.
func (t *Table) Get(ctx context.Context, key ...any) (*Row, error) {
	filter, err := t.keyFilter(key)
	if err != nil {
		return nil, err
	}
	sel, err := filter.Select(ctx)
	if err != nil {
		return nil, err
	}
	return sel.One()
}

// DeleteKey removes the row with the given primary key values, failing with
// ErrNotFound when no such row exists.
func (t *Table) DeleteKey(ctx context.Context, key ...any) error {
	filter, err := t.keyFilter(key)
	if err != nil {
		return err
	}
	n, err := filter.Delete(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Select returns all rows of the table.
func (t *Table) Select(ctx context.Context, options ...SelectOption) (*Selection, error) {
	return runSelect(ctx, t.db, nil, []*Table{t}, options)
}

// Count returns the number of rows in the table.
func (t *Table) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, t.db, nil, []*Table{t})
}

// Delete removes every row of the table and returns the count removed.
func (t *Table) Delete(ctx context.Context) (int64, error) {
	return t.db.drv.Delete(ctx, t.name, nil)
}

// conformColumn rebuilds a column descriptor from introspected metadata.
func conformColumn(info driver.ColumnInfo) *Column {
	c := &Column{
		name:     info.Name,
		typ:      info.Type,
		required: info.Required,
	}
	if c.typ == driver.Rowid {
		c.autoincrement = true
		c.unique = true
		c.required = true
	}
	if info.PrimaryKey {
		c.primaryKey = true
		c.unique = true
		c.required = true
	}
	if info.Default != nil {
		c.def = info.Default
		c.hasDefault = true
	}
	return c
}

// conformTable registers a table rebuilt purely from introspection.
func (db *DB) conformTable(name string, infos []driver.ColumnInfo) *Table {
	t := &Table{
		db:        db,
		name:      name,
		byName:    make(map[string]*Column, len(infos)),
		referrers: make(map[string][]*Column),
	}
	for _, info := range infos {
		c := conformColumn(info)
		c.table = t
		t.cols = append(t.cols, c)
		t.byName[c.name] = c
		if c.primaryKey {
			t.primaryKey = append(t.primaryKey, c)
		}
	}
	t.keyless = len(t.primaryKey) == 0
	db.tables[name] = t
	db.order = append(db.order, name)
	return t
}

func valueEqual(a, b any) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && string(ab) == string(bb)
	}
	return a == b
}

// normalizeValue widens numeric values so literals compare equal to loaded
// values regardless of the Go integer or float type the caller picked.
func normalizeValue(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case float32:
		return float64(v)
	}
	return v
}
