// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package sqlbase implements the shared machinery of the SQL backends: the
// expression compiler, identifier and literal encoding, the reentrant
// transaction block, statement caching and the single execution choke point
// where backend errors are translated into the driver taxonomy.
//
// A backend supplies a Dialect; sqlbase supplies everything else and the
// resulting Conn satisfies driver.Driver.
package sqlbase

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/canonical/reldb/ast"
	"github.com/canonical/reldb/driver"
)

// Formatter renders one operator application from its already-rendered
// operand strings.
type Formatter func(args []string) (string, error)

// Dialect is what distinguishes one SQL backend from another: quoting,
// placeholder style, the native type maps, the DDL and introspection
// statements, and error translation.
type Dialect interface {
	Name() string

	// Quote quotes an already-validated identifier.
	Quote(ident string) string
	// Placeholder returns the parameter marker for the n-th bound value,
	// 1-based. Dialects with positional markers ignore n.
	Placeholder(n int) string

	// TypeSQL maps a canonical column definition to the native type text.
	TypeSQL(col driver.ColumnDef) (string, error)
	// TypeFromNative maps a native type name back to a canonical type.
	TypeFromNative(native string) (driver.Type, bool)

	// CreateTableSQL assembles the create-if-not-exists statement from the
	// quoted table name, rendered column definitions and quoted primary key
	// column names.
	CreateTableSQL(name string, colDefs []string, primaryKey []string) string
	// EmptyInsertSQL inserts one all-defaults row into the quoted table.
	EmptyInsertSQL(name string) string
	ListTablesSQL() string
	// ListColumns introspects one table through the conn's choke point.
	ListColumns(ctx context.Context, conn *Conn, table string) ([]driver.ColumnInfo, error)

	// TranslateError maps a backend error to the driver taxonomy, or returns
	// nil when the error matches no known pattern.
	TranslateError(err error, lastSQL string) error

	// Formatters returns operator formatting overrides merged over the
	// shared table. May return nil.
	Formatters() map[ast.Op]Formatter
}

// CheckIdentifier gates table and column names before any SQL is assembled.
// Identifiers cannot be bound as parameters, so this is the injection
// defence for them.
func CheckIdentifier(name string) error {
	if name == "" {
		return driver.Schemaf("empty identifier")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return driver.Schemaf("identifiers may contain only letters, digits and underscores, got %q", name)
		}
	}
	return nil
}

// LiteralSQL encodes a value for the few contexts that cannot take a bound
// parameter, such as DEFAULT clauses. Embedded quotes in text are doubled.
func LiteralSQL(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case []byte:
		return "X'" + hex.EncodeToString(v) + "'", nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case time.Time:
		return "'" + v.Format(TimeLayout) + "'", nil
	default:
		return "", fmt.Errorf("cannot encode %T as an SQL literal", v)
	}
}

// TimeLayout is the storage text form of timestamp values.
const TimeLayout = "2006-01-02 15:04:05"

var timeLayouts = []string{
	TimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// ParseTime parses the timestamp text forms the supported backends emit.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDefault normalizes an introspected default value to the Go value
// matching the column's canonical type. Unparseable defaults are dropped
// (conform is lossy by design).
func ParseDefault(t driver.Type, raw any) any {
	var s string
	switch raw := raw.(type) {
	case nil:
		return nil
	case string:
		s = raw
	case []byte:
		s = string(raw)
	case int64, float64, bool, time.Time:
		return raw
	default:
		return nil
	}
	if strings.EqualFold(s, "NULL") {
		return nil
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	switch t {
	case driver.Rowid, driver.Integer:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case driver.Float:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case driver.Boolean:
		switch strings.ToLower(s) {
		case "1", "true":
			return true
		case "0", "false":
			return false
		}
	case driver.Text:
		return s
	case driver.Bytes:
		return []byte(s)
	case driver.Timestamp:
		if ts, ok := ParseTime(s); ok {
			return ts
		}
	}
	return nil
}
