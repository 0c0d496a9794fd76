// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package reldb

import (
	"context"
	"strings"
	"time"

	"github.com/canonical/reldb/ast"
	"github.com/canonical/reldb/driver"
	"github.com/canonical/reldb/driver/sqlbase"
)

// Values maps column names to values for inserts and updates.
type Values map[string]any

// Expr is an immutable expression over columns and literals. Every operator
// method returns a new Expr; none mutates its receiver. Errors raised while
// building an expression are carried inside it and surface when the
// expression is executed, so call chains stay fluent.
type Expr struct {
	node ast.Node
	typ  driver.Type

	// col is set for bare column references. Operand values compared
	// against a bare column pass through the column's storage conversion.
	col *Column

	tables map[string]*Table
	err    error
}

func columnExpr(c *Column) *Expr {
	return &Expr{
		node:   ast.Col(c.table.name, c.name),
		typ:    c.typ,
		col:    c,
		tables: map[string]*Table{c.table.name: c.table},
	}
}

// Err returns the deferred construction error, if any.
func (e *Expr) Err() error { return e.err }

// Type returns the expression's canonical result type.
func (e *Expr) Type() driver.Type { return e.typ }

func exprErr(err error) *Expr { return &Expr{err: err} }

// encode normalizes one operand to its tree form: a nested expression
// collapses to its node, an attached column becomes a reference, anything
// else is a literal. Literal encoding goes through the receiver's column
// conversion when the receiver is a bare column reference.
func (e *Expr) encode(v any) (ast.Node, driver.Type, error) {
	switch v := v.(type) {
	case *Expr:
		if v.err != nil {
			return nil, 0, v.err
		}
		return v.node, v.typ, nil
	case *Column:
		if v.table == nil {
			return nil, 0, driver.Schemaf("column %q is not attached to a table", v.name)
		}
		ce := columnExpr(v)
		return ce.node, ce.typ, nil
	case nil:
		return ast.Lit(nil), e.typ, nil
	}
	if e.col != nil {
		dumped, err := e.col.dump(v)
		if err != nil {
			return nil, 0, err
		}
		return ast.Lit(dumped), e.typ, nil
	}
	return ast.Lit(encodeLiteral(v)), literalType(v), nil
}

// encodeLiteral converts free-standing literal values to their storage form.
func encodeLiteral(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(sqlbase.TimeLayout)
	}
	return v
}

func literalType(v any) driver.Type {
	switch v.(type) {
	case string:
		return driver.Text
	case []byte:
		return driver.Bytes
	case bool:
		return driver.Boolean
	case float32, float64:
		return driver.Float
	case time.Time:
		return driver.Timestamp
	default:
		return driver.Integer
	}
}

// derive applies op to the receiver and further operands, producing a new
// expression of the given result type. Table sets and deferred errors
// merge; the first error wins.
func (e *Expr) derive(op ast.Op, typ driver.Type, operands ...any) *Expr {
	if e.err != nil {
		return exprErr(e.err)
	}
	res := &Expr{typ: typ, tables: make(map[string]*Table, len(e.tables))}
	for name, t := range e.tables {
		res.tables[name] = t
	}
	nodes := make([]ast.Node, 0, len(operands)+1)
	nodes = append(nodes, e.node)
	for _, v := range operands {
		n, _, err := e.encode(v)
		if err != nil {
			return exprErr(err)
		}
		switch v := v.(type) {
		case *Expr:
			for name, t := range v.tables {
				res.tables[name] = t
			}
		case *Column:
			if v.table != nil {
				res.tables[v.table.name] = v.table
			}
		}
		nodes = append(nodes, n)
	}
	res.node = ast.Apply(op, nodes...)
	return res
}

// Comparisons. Comparing against nil matches NULL values.

func (e *Expr) Eq(v any) *Expr { return e.derive(ast.Eq, driver.Boolean, v) }
func (e *Expr) Ne(v any) *Expr { return e.derive(ast.NotEq, driver.Boolean, v) }
func (e *Expr) Lt(v any) *Expr { return e.derive(ast.Lt, driver.Boolean, v) }
func (e *Expr) Le(v any) *Expr { return e.derive(ast.Le, driver.Boolean, v) }
func (e *Expr) Gt(v any) *Expr { return e.derive(ast.Gt, driver.Boolean, v) }
func (e *Expr) Ge(v any) *Expr { return e.derive(ast.Ge, driver.Boolean, v) }

// Between reports whether the value lies in [lo, hi], bounds included.
func (e *Expr) Between(lo, hi any) *Expr {
	return e.derive(ast.Between, driver.Boolean, lo, hi)
}

// Boolean composition.

func (e *Expr) And(other *Expr) *Expr { return e.derive(ast.And, driver.Boolean, other) }
func (e *Expr) Or(other *Expr) *Expr  { return e.derive(ast.Or, driver.Boolean, other) }
func (e *Expr) Not() *Expr            { return e.derive(ast.Not, driver.Boolean) }

// And reduces expressions left to right into one conjunction.
func And(exprs ...*Expr) *Expr { return reduce(ast.And, exprs) }

// Or reduces expressions left to right into one disjunction.
func Or(exprs ...*Expr) *Expr { return reduce(ast.Or, exprs) }

func reduce(op ast.Op, exprs []*Expr) *Expr {
	if len(exprs) == 0 {
		return exprErr(driver.Schemaf("empty %s expression", op))
	}
	res := exprs[0]
	for _, e := range exprs[1:] {
		res = res.derive(op, driver.Boolean, e)
	}
	return res
}

// Arithmetic. Results keep the left operand's type.

// Add is numeric addition, except that a textual operand on either side
// turns it into concatenation.
func (e *Expr) Add(v any) *Expr {
	if e.err != nil {
		return exprErr(e.err)
	}
	if textual(e.typ) || textualOperand(v) {
		return e.Concat(v)
	}
	return e.derive(ast.Add, e.typ, v)
}

func (e *Expr) Sub(v any) *Expr      { return e.derive(ast.Sub, e.typ, v) }
func (e *Expr) Mul(v any) *Expr      { return e.derive(ast.Mul, e.typ, v) }
func (e *Expr) Div(v any) *Expr      { return e.derive(ast.Div, e.typ, v) }
func (e *Expr) FloorDiv(v any) *Expr { return e.derive(ast.FloorDiv, e.typ, v) }
func (e *Expr) Mod(v any) *Expr      { return e.derive(ast.Mod, e.typ, v) }
func (e *Expr) Neg() *Expr           { return e.derive(ast.Neg, e.typ) }
func (e *Expr) Abs() *Expr           { return e.derive(ast.Abs, e.typ) }

func textual(t driver.Type) bool { return t == driver.Text || t == driver.Bytes }

func textualOperand(v any) bool {
	switch v := v.(type) {
	case *Expr:
		return v.err == nil && textual(v.typ)
	case *Column:
		return textual(v.typ)
	case string, []byte:
		return true
	}
	return false
}

// Ordering markers, only meaningful inside OrderBy.

// Asc marks ascending order.
func (e *Expr) Asc() *Expr { return e.derive(ast.Ascend, e.typ) }

// Desc marks descending order.
func (e *Expr) Desc() *Expr { return e.derive(ast.Descend, e.typ) }

// Aggregates. Sum, Min and Max keep the operand type; Average is always a
// float, whatever the operand.

func (e *Expr) Sum() *Expr     { return e.derive(ast.Sum, e.typ) }
func (e *Expr) Average() *Expr { return e.derive(ast.Average, driver.Float) }
func (e *Expr) Min() *Expr     { return e.derive(ast.Min, e.typ) }
func (e *Expr) Max() *Expr     { return e.derive(ast.Max, e.typ) }

// Round rounds to the nearest integer value, as a float.
func (e *Expr) Round() *Expr { return e.derive(ast.Round, driver.Float) }

// RoundTo rounds to n decimal digits.
func (e *Expr) RoundTo(n int) *Expr {
	res := e.derive(ast.Round, driver.Float)
	if res.err != nil {
		return res
	}
	op := res.node.(ast.Operation)
	res.node = ast.Apply(ast.Round, op.Operands[0], ast.Lit(int64(n)))
	return res
}

// String operations.

// Concat concatenates the operands as text.
func (e *Expr) Concat(v any) *Expr { return e.derive(ast.Concat, driver.Text, v) }

func (e *Expr) Upper() *Expr { return e.derive(ast.Upper, driver.Text) }
func (e *Expr) Lower() *Expr { return e.derive(ast.Lower, driver.Text) }

// Length returns the value's length in characters.
func (e *Expr) Length() *Expr { return e.derive(ast.Length, driver.Integer) }

// Strip trims whitespace, or the given character set, from both ends.
func (e *Expr) Strip(chars ...string) *Expr { return e.strip(ast.Strip, chars) }

// LStrip trims from the left only.
func (e *Expr) LStrip(chars ...string) *Expr { return e.strip(ast.LStrip, chars) }

// RStrip trims from the right only.
func (e *Expr) RStrip(chars ...string) *Expr { return e.strip(ast.RStrip, chars) }

func (e *Expr) strip(op ast.Op, chars []string) *Expr {
	switch len(chars) {
	case 0:
		return e.derive(op, driver.Text)
	case 1:
		return e.derive(op, driver.Text, chars[0])
	}
	return exprErr(driver.Schemaf("%s takes at most one character set", op))
}

// Replace substitutes every occurrence of old with new.
func (e *Expr) Replace(old, new any) *Expr {
	return e.derive(ast.Replace, driver.Text, old, new)
}

// substr builds a SUBSTR application with precomputed position and length
// nodes, bypassing operand encoding: positions are always plain integers,
// never column-typed values.
func (e *Expr) substr(pos, length ast.Node) *Expr {
	if e.err != nil {
		return exprErr(e.err)
	}
	res := &Expr{typ: driver.Text, tables: make(map[string]*Table, len(e.tables))}
	for name, t := range e.tables {
		res.tables[name] = t
	}
	ops := []ast.Node{e.node, pos}
	if length != nil {
		ops = append(ops, length)
	}
	res.node = ast.Apply(ast.Substr, ops...)
	return res
}

// Slice returns the half-open substring [start, stop), 0-based. A negative
// stop counts back from the end; there is no native negative indexing in
// SQL, so it is rewritten in terms of the operand's length.
func (e *Expr) Slice(start, stop int) *Expr {
	if start < 0 {
		return exprErr(driver.Schemaf("slice start %d is negative", start))
	}
	if stop >= 0 && stop < start {
		return exprErr(driver.Schemaf("slice stop %d precedes start %d", stop, start))
	}
	var length ast.Node
	if stop >= 0 {
		length = ast.Lit(int64(stop - start))
	} else if e.err == nil {
		length = ast.Apply(ast.Add,
			ast.Apply(ast.Length, e.node),
			ast.Lit(int64(stop-start)))
	}
	return e.substr(ast.Lit(int64(start+1)), length)
}

// SliceFrom returns the substring from start, 0-based, to the end.
func (e *Expr) SliceFrom(start int) *Expr {
	if start < 0 {
		return exprErr(driver.Schemaf("slice start %d is negative", start))
	}
	return e.substr(ast.Lit(int64(start+1)), nil)
}

// At returns the single character at index i; a negative i counts back from
// the end.
func (e *Expr) At(i int) *Expr {
	if e.err != nil {
		return exprErr(e.err)
	}
	var pos ast.Node
	if i >= 0 {
		pos = ast.Lit(int64(i + 1))
	} else {
		pos = ast.Apply(ast.Add,
			ast.Apply(ast.Length, e.node),
			ast.Lit(int64(i+1)))
	}
	return e.substr(pos, ast.Lit(int64(1)))
}

// Pattern matching.

// Like matches the SQL LIKE pattern, where % and _ are wildcards.
func (e *Expr) Like(pattern string) *Expr {
	return e.derive(ast.Like, driver.Boolean, pattern)
}

// LikeEscape matches pattern with an explicit escape character.
func (e *Expr) LikeEscape(pattern, escape string) *Expr {
	return e.derive(ast.Like, driver.Boolean, pattern, escape)
}

// Glob matches a Unix glob pattern. Not every backend supports it.
func (e *Expr) Glob(pattern string) *Expr {
	return e.derive(ast.Glob, driver.Boolean, pattern)
}

const likeEscape = `\`

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

// HasPrefix reports whether the text starts with prefix, taken literally.
func (e *Expr) HasPrefix(prefix string) *Expr {
	return e.LikeEscape(escapeLike(prefix)+"%", likeEscape)
}

// HasSuffix reports whether the text ends with suffix, taken literally.
func (e *Expr) HasSuffix(suffix string) *Expr {
	return e.LikeEscape("%"+escapeLike(suffix), likeEscape)
}

// Coalesce returns the first non-NULL of the expression and the given
// fallbacks.
func (e *Expr) Coalesce(fallbacks ...any) *Expr {
	if len(fallbacks) == 0 {
		return exprErr(driver.Schemaf("coalesce needs at least one fallback"))
	}
	return e.derive(ast.Coalesce, e.typ, fallbacks...)
}

// Query execution on a filter expression.

// tableList returns the referenced tables in registry definition order, so
// generated SQL is deterministic.
func (e *Expr) tableList() ([]*Table, error) {
	if len(e.tables) == 0 {
		return nil, driver.Schemaf("expression references no tables")
	}
	var db *DB
	for _, t := range e.tables {
		if t.db != nil {
			db = t.db
			break
		}
	}
	if db == nil {
		return nil, driver.Schemaf("expression references a dropped table")
	}
	tables := make([]*Table, 0, len(e.tables))
	for _, name := range db.order {
		if t, ok := e.tables[name]; ok {
			tables = append(tables, t)
		}
	}
	if len(tables) != len(e.tables) {
		return nil, driver.Schemaf("expression references a dropped table")
	}
	return tables, nil
}

func (e *Expr) execTables() (*DB, []*Table, error) {
	if e.err != nil {
		return nil, nil, e.err
	}
	tables, err := e.tableList()
	if err != nil {
		return nil, nil, err
	}
	return tables[0].db, tables, nil
}

// Select runs the filter and returns the matching rows. Without a Cols
// option the selection covers every column of every referenced table.
func (e *Expr) Select(ctx context.Context, options ...SelectOption) (*Selection, error) {
	db, tables, err := e.execTables()
	if err != nil {
		return nil, err
	}
	return runSelect(ctx, db, e, tables, options)
}

// Count returns the number of rows matching the filter.
func (e *Expr) Count(ctx context.Context) (int64, error) {
	db, tables, err := e.execTables()
	if err != nil {
		return 0, err
	}
	return countRows(ctx, db, e, tables)
}

// Update sets values on every matching row and returns the affected count.
// The filter must involve exactly one table.
func (e *Expr) Update(ctx context.Context, values Values) (int64, error) {
	db, tables, err := e.execTables()
	if err != nil {
		return 0, err
	}
	if len(tables) != 1 {
		return 0, driver.Schemaf("update filter must reference exactly one table, got %d", len(tables))
	}
	t := tables[0]
	_, cols, args, err := t.dumpValues(values, false)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, driver.Schemaf("update sets no columns")
	}
	return db.drv.Update(ctx, t.name, cols, args, e.node)
}

// Delete removes every matching row and returns the affected count. The
// filter must involve exactly one table.
func (e *Expr) Delete(ctx context.Context) (int64, error) {
	db, tables, err := e.execTables()
	if err != nil {
		return 0, err
	}
	if len(tables) != 1 {
		return 0, driver.Schemaf("delete filter must reference exactly one table, got %d", len(tables))
	}
	return db.drv.Delete(ctx, tables[0].name, e.node)
}

// SelectOption adjusts a Select call.
type SelectOption func(*selectConfig)

type selectConfig struct {
	cols     []*Expr
	distinct bool
	orderBy  []*Expr
}

// Cols restricts the selection to the given expressions, in order.
func Cols(exprs ...*Expr) SelectOption {
	return func(cfg *selectConfig) { cfg.cols = exprs }
}

// Distinct removes duplicate result rows. Distinct selections carry no
// hidden row identity, so their rows cannot be updated in place.
func Distinct() SelectOption {
	return func(cfg *selectConfig) { cfg.distinct = true }
}

// OrderBy sorts the result by the given expressions, first one most
// significant. Wrap an expression with Desc for descending order.
func OrderBy(exprs ...*Expr) SelectOption {
	return func(cfg *selectConfig) { cfg.orderBy = exprs }
}

func countRows(ctx context.Context, db *DB, filter *Expr, tables []*Table) (int64, error) {
	var where ast.Node
	if filter != nil {
		where = filter.node
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.name
	}
	cur, err := db.drv.Select(ctx, []ast.Node{ast.Lit(int64(1))}, names, where, false, nil)
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	var n int64
	for cur.Next() {
		n++
	}
	return n, cur.Err()
}
