// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package reldb

import (
	"context"
	"fmt"

	"github.com/canonical/reldb/ast"
	"github.com/canonical/reldb/driver"
)

// selCol is one slot of a selection's column layout.
type selCol struct {
	name string
	typ  driver.Type
	col  *Column
}

// Selection is a lazy, single-pass view over a query result. It is finite
// and not restartable: once the backing cursor is consumed, re-iterating
// yields nothing.
type Selection struct {
	db    *DB
	table *Table // set when exactly one table is involved

	visible []selCol
	// hidden holds the single table's primary key columns, appended to the
	// statement for row identity but excluded from Values.
	hidden []*Column

	cur     driver.Cursor
	current *Row
	peeked  *Row
	err     error
	closed  bool
}

func runSelect(ctx context.Context, db *DB, filter *Expr, tables []*Table, options []SelectOption) (*Selection, error) {
	var cfg selectConfig
	for _, o := range options {
		o(&cfg)
	}

	set := make(map[string]*Table, len(tables))
	for _, t := range tables {
		set[t.name] = t
	}
	for _, e := range cfg.cols {
		if e.err != nil {
			return nil, e.err
		}
		for name, t := range e.tables {
			set[name] = t
		}
	}
	for _, e := range cfg.orderBy {
		if e.err != nil {
			return nil, e.err
		}
		for name, t := range e.tables {
			set[name] = t
		}
	}
	ordered := make([]*Table, 0, len(set))
	for _, name := range db.order {
		if t, ok := set[name]; ok {
			ordered = append(ordered, t)
		}
	}
	if len(ordered) == 0 {
		return nil, driver.Schemaf("query references no tables")
	}
	if len(ordered) != len(set) {
		return nil, driver.Schemaf("query references a dropped table")
	}

	sel := &Selection{db: db}
	var nodes []ast.Node
	if len(cfg.cols) > 0 {
		for _, e := range cfg.cols {
			sc := selCol{typ: e.typ, col: e.col}
			if e.col != nil {
				sc.name = e.col.name
			}
			sel.visible = append(sel.visible, sc)
			nodes = append(nodes, e.node)
		}
	} else {
		for _, t := range ordered {
			for _, c := range t.cols {
				sel.visible = append(sel.visible, selCol{name: c.name, typ: c.typ, col: c})
				nodes = append(nodes, ast.Col(t.name, c.name))
			}
		}
	}

	if len(ordered) == 1 {
		sel.table = ordered[0]
		if !cfg.distinct && !sel.table.keyless {
			for _, c := range sel.table.primaryKey {
				sel.hidden = append(sel.hidden, c)
				nodes = append(nodes, ast.Col(sel.table.name, c.name))
			}
		}
	}

	var where ast.Node
	if filter != nil {
		where = filter.node
	}
	names := make([]string, len(ordered))
	for i, t := range ordered {
		names[i] = t.name
	}
	orderNodes := make([]ast.Node, len(cfg.orderBy))
	for i, e := range cfg.orderBy {
		orderNodes[i] = e.node
	}
	cur, err := db.drv.Select(ctx, nodes, names, where, cfg.distinct, orderNodes)
	if err != nil {
		return nil, err
	}
	sel.cur = cur
	return sel, nil
}

// read pulls and decodes one row from the cursor.
func (s *Selection) read() (*Row, bool) {
	if s.err != nil || s.closed {
		return nil, false
	}
	if !s.cur.Next() {
		s.err = s.cur.Err()
		s.closed = true
		s.cur.Close()
		return nil, false
	}
	vals, err := s.cur.Scan()
	if err != nil {
		s.fail(err)
		return nil, false
	}
	want := len(s.visible) + len(s.hidden)
	if len(vals) != want {
		s.fail(fmt.Errorf("result has %d columns, expected %d", len(vals), want))
		return nil, false
	}
	row := &Row{sel: s, values: make([]any, len(s.visible)), key: make([]any, len(s.hidden))}
	for i, sc := range s.visible {
		var v any
		if sc.col != nil {
			v, err = sc.col.load(vals[i])
		} else {
			v, err = loadAs(sc.typ, vals[i])
		}
		if err != nil {
			s.fail(err)
			return nil, false
		}
		row.values[i] = v
	}
	for i, c := range s.hidden {
		v, err := c.load(vals[len(s.visible)+i])
		if err != nil {
			s.fail(err)
			return nil, false
		}
		row.key[i] = v
	}
	return row, true
}

func (s *Selection) fail(err error) {
	s.err = err
	s.Close()
}

// Next advances to the next row, reporting false at the end or on error.
func (s *Selection) Next() bool {
	if s.peeked != nil {
		s.current = s.peeked
		s.peeked = nil
		return true
	}
	row, ok := s.read()
	if !ok {
		s.current = nil
		return false
	}
	s.current = row
	return true
}

// Row returns the row Next advanced to.
func (s *Selection) Row() *Row { return s.current }

// Err returns the error, if any, that stopped iteration.
func (s *Selection) Err() error { return s.err }

// Close releases the backing cursor. It is safe to call more than once.
func (s *Selection) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cur.Close()
}

// Any reports whether at least one row remains, without consuming it: the
// peeked row stays first in iteration order.
func (s *Selection) Any() (bool, error) {
	if s.peeked != nil {
		return true, nil
	}
	row, ok := s.read()
	if !ok {
		return false, s.err
	}
	s.peeked = row
	return true, nil
}

// One returns exactly the next row, failing with ErrNotFound when none
// remains, and closes the selection.
func (s *Selection) One() (*Row, error) {
	defer s.Close()
	if !s.Next() {
		if s.err != nil {
			return nil, s.err
		}
		return nil, ErrNotFound
	}
	return s.Row(), nil
}

// First returns the next row, or nil without error when none remains, and
// closes the selection.
func (s *Selection) First() (*Row, error) {
	defer s.Close()
	if !s.Next() {
		return nil, s.err
	}
	return s.Row(), nil
}

// Last drains the selection and returns its final row, or nil when the
// selection is empty.
func (s *Selection) Last() (*Row, error) {
	defer s.Close()
	var last *Row
	for s.Next() {
		last = s.Row()
	}
	if s.err != nil {
		return nil, s.err
	}
	return last, nil
}

// Skip discards up to n rows and returns the selection for chaining.
func (s *Selection) Skip(n int) *Selection {
	for i := 0; i < n && s.Next(); i++ {
	}
	s.current = nil
	return s
}

// All drains the selection into a slice and closes it.
func (s *Selection) All() ([]*Row, error) {
	defer s.Close()
	var rows []*Row
	for s.Next() {
		rows = append(rows, s.Row())
	}
	if s.err != nil {
		return nil, s.err
	}
	return rows, nil
}

// Row is one materialized result row: the selection's visible values plus,
// for single-table selections, the hidden primary key identity.
type Row struct {
	sel    *Selection
	values []any
	key    []any
}

// Values returns the visible values in layout order.
func (r *Row) Values() []any {
	vals := make([]any, len(r.values))
	copy(vals, r.values)
	return vals
}

// Value returns the value of the named column. Computed columns carry no
// name and are reachable only through Index.
func (r *Row) Value(name string) (any, error) {
	if name == "" {
		return nil, driver.Schemaf("selection has no column %q", name)
	}
	for i, sc := range r.sel.visible {
		if sc.name == name {
			return r.values[i], nil
		}
	}
	return nil, driver.Schemaf("selection has no column %q", name)
}

// Index returns the value at position i of the visible layout.
func (r *Row) Index(i int) (any, error) {
	if i < 0 || i >= len(r.values) {
		return nil, fmt.Errorf("row index %d out of range [0,%d)", i, len(r.values))
	}
	return r.values[i], nil
}

// EqualValues compares the row's visible values against a literal sequence.
func (r *Row) EqualValues(vals []any) bool {
	if len(vals) != len(r.values) {
		return false
	}
	for i, v := range vals {
		if !valueEqual(r.values[i], v) {
			return false
		}
	}
	return true
}

// PrimaryKey returns the row's identity values. It fails for rows of
// multi-table, distinct or keyless selections, which carry no identity.
func (r *Row) PrimaryKey() ([]any, error) {
	if r.sel.table == nil || len(r.key) == 0 {
		return nil, driver.Schemaf("row has no primary key identity")
	}
	key := make([]any, len(r.key))
	copy(key, r.key)
	return key, nil
}

// Update sets values on this row, keyed by its identity, and returns the
// freshly re-fetched row. It is valid only for rows carrying identity.
func (r *Row) Update(ctx context.Context, values Values) (*Row, error) {
	key, err := r.PrimaryKey()
	if err != nil {
		return nil, err
	}
	t := r.sel.table
	filter, err := t.keyFilter(key)
	if err != nil {
		return nil, err
	}
	if _, err := filter.Update(ctx, values); err != nil {
		return nil, err
	}
	// The update may have moved the row to a new key.
	for i, c := range t.primaryKey {
		if v, ok := values[c.name]; ok {
			key[i] = v
		}
	}
	return t.Get(ctx, key...)
}

// RefBy returns the rows of the named table whose reference columns point
// at this row.
func (r *Row) RefBy(ctx context.Context, table string, options ...SelectOption) (*Selection, error) {
	t := r.sel.table
	if t == nil {
		return nil, driver.Schemaf("row has no primary key identity")
	}
	refCols := t.referrers[table]
	if len(refCols) == 0 {
		return nil, driver.Schemaf("table %q has no reference to table %q", table, t.name)
	}
	exprs := make([]*Expr, len(refCols))
	for i, c := range refCols {
		exprs[i] = columnExpr(c).Eq(r)
	}
	return Or(exprs...).Select(ctx, options...)
}
