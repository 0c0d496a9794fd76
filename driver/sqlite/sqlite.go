// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package sqlite registers the "sqlite" backend. The data source name is the
// database file path; an empty name or ":memory:" opens a temporary
// in-memory database.
//
// Two underlying database/sql drivers are supported: the pure Go
// modernc.org/sqlite by default, or mattn/go-sqlite3 when building with
// -tags cgo_sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"strings"

	"github.com/canonical/reldb/ast"
	"github.com/canonical/reldb/driver"
	"github.com/canonical/reldb/driver/sqlbase"
)

func init() {
	driver.Register("sqlite", Open)
}

// Open opens a SQLite database at path. An empty path or ":memory:" opens a
// private temporary database, removed on Close. The temporary database is
// backed by a WAL-journalled file rather than SQLite's per-connection memory
// mode: every connection of the pool must see the same data, and WAL keeps
// open cursors from blocking a committing write.
func Open(path string) (driver.Driver, error) {
	if path == "" || path == ":memory:" {
		return openTemp()
	}
	conn, err := open(path, path)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func open(dsn, display string) (*sqlbase.Conn, error) {
	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, &driver.ResourceError{Detail: "cannot open database " + display, Err: err}
	}
	conn := sqlbase.New(db, dialect{path: display})
	// sql.Open is lazy; probe now so a missing file surfaces here rather
	// than on the first query.
	if err := db.PingContext(context.Background()); err != nil {
		terr := conn.Dialect().TranslateError(err, "")
		db.Close()
		if terr != nil {
			return nil, terr
		}
		return nil, &driver.ResourceError{Detail: "cannot open database " + display, Err: err}
	}
	return conn, nil
}

func openTemp() (driver.Driver, error) {
	f, err := os.CreateTemp("", "reldb-*.db")
	if err != nil {
		return nil, &driver.ResourceError{Detail: "cannot create temporary database", Err: err}
	}
	name := f.Name()
	f.Close()
	conn, err := open("file:"+name+tempParams, ":memory:")
	if err != nil {
		os.Remove(name)
		return nil, err
	}
	return &tempConn{Conn: conn, path: name}, nil
}

// tempConn removes the backing file, and its WAL sidecars, when a temporary
// database closes.
type tempConn struct {
	*sqlbase.Conn
	path string
}

func (t *tempConn) Close() error {
	err := t.Conn.Close()
	for _, p := range []string{t.path, t.path + "-wal", t.path + "-shm"} {
		os.Remove(p)
	}
	return err
}

// Dialect returns the SQLite dialect for reuse by backends that speak
// SQLite over another transport, such as dqlite.
func Dialect() sqlbase.Dialect { return dialect{} }

type dialect struct {
	path string
}

func (dialect) Name() string { return "sqlite" }

func (dialect) Quote(ident string) string { return `"` + ident + `"` }

func (dialect) Placeholder(int) string { return "?" }

func (d dialect) TypeSQL(col driver.ColumnDef) (string, error) {
	switch col.Type {
	case driver.Rowid, driver.Integer:
		// The trailing PRIMARY KEY (x ASC) clause makes an INTEGER key an
		// alias of the rowid, which auto-increments.
		return "INTEGER", nil
	case driver.Float:
		return "REAL", nil
	case driver.Boolean:
		return "BOOLEAN", nil
	case driver.Text:
		return "TEXT", nil
	case driver.Bytes:
		return "BLOB", nil
	case driver.Timestamp:
		return "TIMESTAMP", nil
	}
	return "", driver.Schemaf("sqlite cannot store %s columns", col.Type)
}

func (dialect) TypeFromNative(native string) (driver.Type, bool) {
	name := strings.ToUpper(native)
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT":
		return driver.Integer, true
	case "REAL", "DOUBLE", "FLOAT", "NUMERIC":
		return driver.Float, true
	case "BOOLEAN", "BOOL":
		return driver.Boolean, true
	case "TEXT", "VARCHAR", "CHAR", "CLOB", "STRING":
		return driver.Text, true
	case "BLOB":
		return driver.Bytes, true
	case "TIMESTAMP", "DATETIME", "DATE":
		return driver.Timestamp, true
	}
	return 0, false
}

func (dialect) CreateTableSQL(name string, colDefs []string, primaryKey []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(name)
	b.WriteString(" (")
	b.WriteString(strings.Join(colDefs, ", "))
	if len(primaryKey) > 0 {
		parts := make([]string, len(primaryKey))
		for i, p := range primaryKey {
			parts[i] = p + " ASC"
		}
		b.WriteString(", PRIMARY KEY (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func (dialect) EmptyInsertSQL(name string) string {
	return "INSERT INTO " + name + " DEFAULT VALUES"
}

func (dialect) ListTablesSQL() string {
	return "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'"
}

func (d dialect) ListColumns(ctx context.Context, conn *sqlbase.Conn, table string) ([]driver.ColumnInfo, error) {
	cur, err := conn.QueryRaw(ctx, "PRAGMA table_info("+d.Quote(table)+")")
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var infos []driver.ColumnInfo
	var natives []string
	pkCount := 0
	for cur.Next() {
		// cid, name, type, notnull, dflt_value, pk
		vals, err := cur.Scan()
		if err != nil {
			return nil, err
		}
		if len(vals) < 6 {
			return nil, driver.Schemaf("unexpected table_info row for table %q", table)
		}
		info := driver.ColumnInfo{
			Name:       asString(vals[1]),
			Required:   asInt(vals[3]) != 0,
			PrimaryKey: asInt(vals[5]) != 0,
		}
		if info.PrimaryKey {
			pkCount++
		}
		natives = append(natives, asString(vals[2]))
		info.Default = vals[4]
		infos = append(infos, info)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, driver.Schemaf("no such table %q", table)
	}
	for i := range infos {
		t, ok := d.TypeFromNative(natives[i])
		if !ok {
			return nil, driver.Schemaf("table %q column %q has unmapped native type %q", table, infos[i].Name, natives[i])
		}
		// A lone INTEGER primary key is the rowid alias.
		if t == driver.Integer && infos[i].PrimaryKey && pkCount == 1 {
			t = driver.Rowid
		}
		infos[i].Type = t
		infos[i].Default = sqlbase.ParseDefault(t, infos[i].Default)
	}
	return infos, nil
}

func (dialect) Formatters() map[ast.Op]sqlbase.Formatter { return nil }

func (d dialect) TranslateError(err error, lastSQL string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &driver.ConstraintError{Kind: "unique", Detail: msg}
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return &driver.ConstraintError{Kind: "not null", Detail: msg}
	case strings.Contains(msg, "has no column named"):
		return driver.Schemaf("no such column: %s", wordAfter(msg, "has no column named "))
	case strings.Contains(msg, "no such column"):
		return driver.Schemaf("no such column: %s", wordAfter(msg, "no such column: "))
	case strings.Contains(msg, "no such table"):
		return driver.Schemaf("no such table: %s", wordAfter(msg, "no such table: "))
	case strings.Contains(msg, "unable to open database file"),
		strings.Contains(msg, "out of memory (14)"):
		return &driver.ResourceError{Detail: "unable to open database file " + d.path, Err: err}
	case strings.Contains(msg, "syntax error"):
		return syntaxError(msg, lastSQL)
	}
	return nil
}

// syntaxError recovers the character offset of the offending token from
// messages of the form `near "token": syntax error`.
func syntaxError(msg, lastSQL string) *driver.QuerySyntaxError {
	serr := &driver.QuerySyntaxError{SQL: lastSQL, Offset: -1, Detail: msg}
	_, after, ok := strings.Cut(msg, `"`)
	if !ok {
		return serr
	}
	token, _, ok := strings.Cut(after, `"`)
	if !ok || token == "" {
		return serr
	}
	if i := strings.Index(lastSQL, token); i >= 0 {
		serr.Offset = i
	}
	return serr
}

// wordAfter extracts the token following marker, dropping any trailing
// result-code suffix the backend appends.
func wordAfter(msg, marker string) string {
	_, after, ok := strings.Cut(msg, marker)
	if !ok {
		return msg
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return msg
	}
	return fields[0]
}

func asString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return strconv.FormatInt(asInt(v), 10)
	}
}

func asInt(v any) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}
