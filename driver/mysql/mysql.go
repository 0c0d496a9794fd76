// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package mysql registers the "mysql" backend. The data source name is a
// go-sql-driver DSN, for example "user:pass@tcp(host:3306)/dbname".
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/canonical/reldb/ast"
	"github.com/canonical/reldb/driver"
	"github.com/canonical/reldb/driver/sqlbase"
)

func init() {
	driver.Register("mysql", Open)
}

// Open connects to a MySQL server. ParseTime is forced on so DATETIME
// columns scan as time.Time.
func Open(dsn string) (driver.Driver, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, &driver.ResourceError{Detail: "invalid mysql DSN", Err: err}
	}
	cfg.ParseTime = true
	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, &driver.ResourceError{Detail: "invalid mysql DSN", Err: err}
	}
	db := sql.OpenDB(connector)
	conn := sqlbase.New(db, dialect{})
	if err := db.PingContext(context.Background()); err != nil {
		terr := conn.Dialect().TranslateError(err, "")
		db.Close()
		if terr != nil {
			return nil, terr
		}
		return nil, &driver.ResourceError{Detail: "cannot connect to " + cfg.Addr, Err: err}
	}
	return conn, nil
}

type dialect struct{}

func (dialect) Name() string { return "mysql" }

func (dialect) Quote(ident string) string { return "`" + ident + "`" }

func (dialect) Placeholder(int) string { return "?" }

func (dialect) TypeSQL(col driver.ColumnDef) (string, error) {
	switch col.Type {
	case driver.Rowid:
		return "BIGINT AUTO_INCREMENT", nil
	case driver.Integer:
		return "BIGINT", nil
	case driver.Float:
		return "DOUBLE", nil
	case driver.Boolean:
		return "TINYINT(1)", nil
	case driver.Text:
		// TEXT columns cannot be keys without a prefix length, so text is
		// stored as VARCHAR sized by the column's declared maximum.
		size := col.MaxLen
		if size <= 0 {
			size = 512
		}
		return fmt.Sprintf("VARCHAR(%d)", size), nil
	case driver.Bytes:
		return "BLOB", nil
	case driver.Timestamp:
		return "DATETIME", nil
	}
	return "", driver.Schemaf("mysql cannot store %s columns", col.Type)
}

func (dialect) TypeFromNative(native string) (driver.Type, bool) {
	name := strings.ToLower(native)
	if strings.HasPrefix(name, "tinyint(1)") {
		return driver.Boolean, true
	}
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, " unsigned")
	switch name {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		return driver.Integer, true
	case "float", "double", "decimal", "numeric", "real":
		return driver.Float, true
	case "boolean", "bool":
		return driver.Boolean, true
	case "varchar", "char", "text", "tinytext", "mediumtext", "longtext":
		return driver.Text, true
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return driver.Bytes, true
	case "datetime", "timestamp", "date":
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
		b.WriteString(", PRIMARY KEY (")
		b.WriteString(strings.Join(primaryKey, ", "))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func (dialect) EmptyInsertSQL(name string) string {
	return "INSERT INTO " + name + " () VALUES ()"
}

func (dialect) ListTablesSQL() string { return "SHOW TABLES" }

func (d dialect) ListColumns(ctx context.Context, conn *sqlbase.Conn, table string) ([]driver.ColumnInfo, error) {
	cur, err := conn.QueryRaw(ctx, "SHOW COLUMNS FROM "+d.Quote(table))
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var infos []driver.ColumnInfo
	for cur.Next() {
		// Field, Type, Null, Key, Default, Extra
		vals, err := cur.Scan()
		if err != nil {
			return nil, err
		}
		if len(vals) < 6 {
			return nil, driver.Schemaf("unexpected SHOW COLUMNS row for table %q", table)
		}
		native := text(vals[1])
		t, ok := d.TypeFromNative(native)
		if !ok {
			return nil, driver.Schemaf("table %q column %q has unmapped native type %q", table, text(vals[0]), native)
		}
		if t == driver.Integer && strings.Contains(text(vals[5]), "auto_increment") {
			t = driver.Rowid
		}
		infos = append(infos, driver.ColumnInfo{
			Name:       text(vals[0]),
			Type:       t,
			Required:   strings.EqualFold(text(vals[2]), "NO"),
			Default:    sqlbase.ParseDefault(t, vals[4]),
			PrimaryKey: text(vals[3]) == "PRI",
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, driver.Schemaf("no such table %q", table)
	}
	return infos, nil
}

func (dialect) Formatters() map[ast.Op]sqlbase.Formatter {
	return map[ast.Op]sqlbase.Formatter{
		// || is logical OR in default sql_mode, so concatenation must use
		// the function form.
		ast.Concat: func(args []string) (string, error) {
			if len(args) != 2 {
				return "", fmt.Errorf("CONCAT takes 2 operands, got %d", len(args))
			}
			return "CONCAT(" + args[0] + "," + args[1] + ")", nil
		},
		ast.FloorDiv: func(args []string) (string, error) {
			if len(args) != 2 {
				return "", fmt.Errorf("DIV takes 2 operands, got %d", len(args))
			}
			return args[0] + " DIV " + args[1], nil
		},
		ast.Glob: func([]string) (string, error) {
			return "", fmt.Errorf("mysql has no GLOB operator")
		},
	}
}

func (dialect) TranslateError(err error, lastSQL string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Duplicate entry"):
		return &driver.ConstraintError{Kind: "unique", Detail: msg}
	case strings.Contains(msg, "cannot be null"),
		strings.Contains(msg, "doesn't have a default value"):
		return &driver.ConstraintError{Kind: "not null", Detail: msg}
	case strings.Contains(msg, "Unknown column"):
		return driver.Schemaf("%s", msg)
	case strings.Contains(msg, "doesn't exist"):
		return driver.Schemaf("%s", msg)
	case strings.Contains(msg, "Unknown database"),
		strings.Contains(msg, "Access denied"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "invalid connection"):
		return &driver.ResourceError{Detail: msg, Err: err}
	case strings.Contains(msg, "error in your SQL syntax"):
		return syntaxError(msg, lastSQL)
	}
	return nil
}

// syntaxError recovers the offending token from messages of the form
// `... for the right syntax to use near 'token...' at line N`.
func syntaxError(msg, lastSQL string) *driver.QuerySyntaxError {
	serr := &driver.QuerySyntaxError{SQL: lastSQL, Offset: -1, Detail: msg}
	_, after, ok := strings.Cut(msg, "near '")
	if !ok {
		return serr
	}
	token, _, ok := strings.Cut(after, "'")
	if !ok || token == "" {
		return serr
	}
	if i := strings.Index(lastSQL, token); i >= 0 {
		serr.Offset = i
	}
	return serr
}

func text(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
