// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/canonical/reldb/ast"
	"github.com/canonical/reldb/driver"
)

// Conn is a driver.Driver over one database/sql handle. It owns a small
// connection pool, a reentrant transaction block and a statement cache, and
// routes every statement through one execution choke point where errors are
// translated. An open cursor holds a pooled connection until it is drained
// or closed, and the active transaction block holds another. It is not safe
// for concurrent use.
type Conn struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	stmts   *stmtCache

	tx    *sql.Tx
	depth int
}

var _ driver.Driver = (*Conn)(nil)

// poolSize bounds the connection pool. Open cursors and the transaction
// block each occupy a connection until released, so a pool of one would
// block the first statement issued while either is live. Idle connections
// are kept so cached statements stay prepared.
const poolSize = 8

// New wraps db in a Conn speaking the given dialect.
func New(db *sql.DB, d Dialect) *Conn {
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	return &Conn{db: db, dialect: d, stmts: newStmtCache(db)}
}

// SetLogger directs statement tracing (debug level) to l.
func (c *Conn) SetLogger(l *slog.Logger) { c.logger = l }

// Dialect returns the dialect this connection speaks.
func (c *Conn) Dialect() Dialect { return c.dialect }

// Begin enters a transaction block. Only the outermost Begin opens a backend
// transaction; inner calls increment the depth counter. Single-threaded
// reentry is assumed, as documented on Conn.
func (c *Conn) Begin(ctx context.Context) error {
	if c.depth == 0 {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return c.translate(err, "BEGIN", nil)
		}
		c.tx = tx
	}
	c.depth++
	return nil
}

// End leaves a transaction block. At the outermost boundary it commits when
// cause is nil and rolls back otherwise; cause (or the commit failure) is
// returned so callers can chain `err = c.End(err)`.
func (c *Conn) End(cause error) error {
	if c.depth == 0 {
		return fmt.Errorf("transaction end without matching begin")
	}
	c.depth--
	if c.depth > 0 {
		return cause
	}
	tx := c.tx
	c.tx = nil
	if cause != nil {
		tx.Rollback()
		return cause
	}
	if err := tx.Commit(); err != nil {
		return c.translate(err, "COMMIT", nil)
	}
	return nil
}

func (c *Conn) Close() error {
	cerr := c.stmts.close()
	if err := c.db.Close(); err != nil {
		return err
	}
	return cerr
}

func (c *Conn) log(query string, args []any) {
	if c.logger != nil {
		c.logger.Debug("execute", "driver", c.dialect.Name(), "sql", query, "args", args)
	}
}

func (c *Conn) translate(err error, query string, args []any) error {
	if err == nil {
		return nil
	}
	if terr := c.dialect.TranslateError(err, query); terr != nil {
		return terr
	}
	return &driver.ExecError{SQL: query, Args: args, Err: err}
}

// statement resolves query to a prepared statement. Inside a transaction
// block the statement is prepared on the transaction itself, which already
// holds a connection; preparing through the pool there would wait for a
// connection the block is not going to release. Transaction statements are
// closed automatically when the block ends.
func (c *Conn) statement(ctx context.Context, query string) (*sql.Stmt, error) {
	if c.tx != nil {
		return c.tx.PrepareContext(ctx, query)
	}
	return c.stmts.get(ctx, query)
}

func (c *Conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.log(query, args)
	stmt, err := c.statement(ctx, query)
	if err != nil {
		return nil, c.translate(err, query, args)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, c.translate(err, query, args)
	}
	return rows, nil
}

func (c *Conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.log(query, args)
	stmt, err := c.statement(ctx, query)
	if err != nil {
		return nil, c.translate(err, query, args)
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, c.translate(err, query, args)
	}
	return res, nil
}

// QueryRaw runs a dialect-supplied statement through the choke point. It is
// exported for dialect introspection code, not for general use.
func (c *Conn) QueryRaw(ctx context.Context, query string, args ...any) (driver.Cursor, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return newCursor(rows), nil
}

func (c *Conn) quoteAll(names []string) ([]string, error) {
	quoted := make([]string, len(names))
	for i, name := range names {
		if err := CheckIdentifier(name); err != nil {
			return nil, err
		}
		quoted[i] = c.dialect.Quote(name)
	}
	return quoted, nil
}

// Select implements driver.Driver.
func (c *Conn) Select(ctx context.Context, cols []ast.Node, tables []string, where ast.Node, distinct bool, orderBy []ast.Node) (driver.Cursor, error) {
	if len(tables) == 0 {
		return nil, driver.Schemaf("query references no tables")
	}
	if len(cols) == 0 {
		return nil, driver.Schemaf("query selects no columns")
	}
	comp := newCompiler(c.dialect)
	colParts := make([]string, len(cols))
	for i, col := range cols {
		s, err := comp.node(col)
		if err != nil {
			return nil, err
		}
		colParts[i] = s
	}
	fromParts, err := c.quoteAll(tables)
	if err != nil {
		return nil, err
	}
	whereSQL, err := comp.where(where)
	if err != nil {
		return nil, err
	}
	orderSQL, err := comp.orderBy(orderBy)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(colParts, ", "))
	b.WriteString(" FROM ")
	b.WriteString(strings.Join(fromParts, ", "))
	b.WriteString(whereSQL)
	b.WriteString(orderSQL)
	rows, err := c.query(ctx, b.String(), comp.args...)
	if err != nil {
		return nil, err
	}
	return newCursor(rows), nil
}

// Insert implements driver.Driver. It wraps itself in a transaction block so
// it commits standalone and composes inside an outer block.
func (c *Conn) Insert(ctx context.Context, table string, cols []string, values []any) (id int64, err error) {
	if err := CheckIdentifier(table); err != nil {
		return 0, err
	}
	colParts, err := c.quoteAll(cols)
	if err != nil {
		return 0, err
	}
	if err = c.Begin(ctx); err != nil {
		return 0, err
	}
	defer func() { err = c.End(err) }()

	var query string
	if len(cols) == 0 {
		query = c.dialect.EmptyInsertSQL(c.dialect.Quote(table))
	} else {
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = c.dialect.Placeholder(i + 1)
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			c.dialect.Quote(table), strings.Join(colParts, ", "), strings.Join(placeholders, ", "))
	}
	res, err := c.exec(ctx, query, values...)
	if err != nil {
		return 0, err
	}
	id, err = res.LastInsertId()
	return id, err
}

// Update implements driver.Driver.
func (c *Conn) Update(ctx context.Context, table string, cols []string, values []any, where ast.Node) (n int64, err error) {
	if err := CheckIdentifier(table); err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, driver.Schemaf("update sets no columns")
	}
	comp := newCompiler(c.dialect)
	setParts := make([]string, len(cols))
	for i, col := range cols {
		if err := CheckIdentifier(col); err != nil {
			return 0, err
		}
		setParts[i] = c.dialect.Quote(col) + "=" + comp.bind(values[i])
	}
	whereSQL, err := comp.where(where)
	if err != nil {
		return 0, err
	}
	if err = c.Begin(ctx); err != nil {
		return 0, err
	}
	defer func() { err = c.End(err) }()

	query := fmt.Sprintf("UPDATE %s SET %s%s", c.dialect.Quote(table), strings.Join(setParts, ", "), whereSQL)
	res, err := c.exec(ctx, query, comp.args...)
	if err != nil {
		return 0, err
	}
	n, err = res.RowsAffected()
	return n, err
}

// Delete implements driver.Driver.
func (c *Conn) Delete(ctx context.Context, table string, where ast.Node) (n int64, err error) {
	if err := CheckIdentifier(table); err != nil {
		return 0, err
	}
	comp := newCompiler(c.dialect)
	whereSQL, err := comp.where(where)
	if err != nil {
		return 0, err
	}
	if err = c.Begin(ctx); err != nil {
		return 0, err
	}
	defer func() { err = c.End(err) }()

	query := "DELETE FROM " + c.dialect.Quote(table) + whereSQL
	res, err := c.exec(ctx, query, comp.args...)
	if err != nil {
		return 0, err
	}
	n, err = res.RowsAffected()
	return n, err
}

// CreateTable implements driver.Driver.
func (c *Conn) CreateTable(ctx context.Context, name string, cols []driver.ColumnDef, primaryKey []string) (err error) {
	if err := CheckIdentifier(name); err != nil {
		return err
	}
	defs := make([]string, len(cols))
	for i, col := range cols {
		def, err := FormatColumn(c.dialect, col)
		if err != nil {
			return err
		}
		defs[i] = def
	}
	pkParts, err := c.quoteAll(primaryKey)
	if err != nil {
		return err
	}
	if err = c.Begin(ctx); err != nil {
		return err
	}
	defer func() { err = c.End(err) }()

	_, err = c.exec(ctx, c.dialect.CreateTableSQL(c.dialect.Quote(name), defs, pkParts))
	return err
}

// DropTable implements driver.Driver.
func (c *Conn) DropTable(ctx context.Context, name string) (err error) {
	if err := CheckIdentifier(name); err != nil {
		return err
	}
	if err = c.Begin(ctx); err != nil {
		return err
	}
	defer func() { err = c.End(err) }()

	_, err = c.exec(ctx, "DROP TABLE "+c.dialect.Quote(name))
	return err
}

// RenameTable implements driver.Driver.
func (c *Conn) RenameTable(ctx context.Context, oldName, newName string) (err error) {
	quoted, err := c.quoteAll([]string{oldName, newName})
	if err != nil {
		return err
	}
	if err = c.Begin(ctx); err != nil {
		return err
	}
	defer func() { err = c.End(err) }()

	_, err = c.exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoted[0], quoted[1]))
	return err
}

// AddColumn implements driver.Driver.
func (c *Conn) AddColumn(ctx context.Context, table string, col driver.ColumnDef) (err error) {
	if err := CheckIdentifier(table); err != nil {
		return err
	}
	def, err := FormatColumn(c.dialect, col)
	if err != nil {
		return err
	}
	if err = c.Begin(ctx); err != nil {
		return err
	}
	defer func() { err = c.End(err) }()

	_, err = c.exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.dialect.Quote(table), def))
	return err
}

// ListTables implements driver.Driver.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	cur, err := c.QueryRaw(ctx, c.dialect.ListTablesSQL())
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var names []string
	for cur.Next() {
		vals, err := cur.Scan()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			continue
		}
		switch v := vals[0].(type) {
		case string:
			names = append(names, v)
		case []byte:
			names = append(names, string(v))
		}
	}
	return names, cur.Err()
}

// ListColumns implements driver.Driver.
func (c *Conn) ListColumns(ctx context.Context, table string) ([]driver.ColumnInfo, error) {
	if err := CheckIdentifier(table); err != nil {
		return nil, err
	}
	return c.dialect.ListColumns(ctx, c, table)
}

// rowsCursor adapts sql.Rows to driver.Cursor.
type rowsCursor struct {
	rows   *sql.Rows
	ncols  int
	err    error
	closed bool
}

func newCursor(rows *sql.Rows) *rowsCursor {
	cols, err := rows.Columns()
	return &rowsCursor{rows: rows, ncols: len(cols), err: err}
}

func (rc *rowsCursor) Next() bool {
	if rc.err != nil || rc.closed {
		return false
	}
	if rc.rows.Next() {
		return true
	}
	rc.err = rc.rows.Err()
	rc.Close()
	return false
}

func (rc *rowsCursor) Scan() ([]any, error) {
	if rc.err != nil {
		return nil, rc.err
	}
	vals := make([]any, rc.ncols)
	ptrs := make([]any, rc.ncols)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rc.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

func (rc *rowsCursor) Err() error { return rc.err }

func (rc *rowsCursor) Close() error {
	if rc.closed {
		return nil
	}
	rc.closed = true
	return rc.rows.Close()
}
