// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package reldb

import (
	"fmt"
	"strconv"
	"time"

	"github.com/canonical/reldb/driver"
	"github.com/canonical/reldb/driver/sqlbase"
)

// Column describes one typed column. Constructors return detached
// descriptors; attaching a descriptor to a table clones it, so the same
// descriptor (or a whole table's worth, via Table.Columns) can be reused
// across definitions.
type Column struct {
	name  string
	typ   driver.Type
	table *Table

	required      bool
	def           any
	defFunc       func() any
	hasDefault    bool
	unique        bool
	primaryKey    bool
	autoincrement bool
	maxLen        int

	refTarget *Table
	refColumn string
	refValue  func(*Row) (any, error)
}

// Rowid declares an auto-incrementing integer primary key column.
func Rowid(name string) *Column {
	return &Column{name: name, typ: driver.Rowid, primaryKey: true, autoincrement: true, required: true, unique: true}
}

// Int declares an integer column.
func Int(name string) *Column { return &Column{name: name, typ: driver.Integer} }

// Float declares a floating-point column.
func Float(name string) *Column { return &Column{name: name, typ: driver.Float} }

// Bool declares a boolean column.
func Bool(name string) *Column { return &Column{name: name, typ: driver.Boolean} }

// Text declares a text column.
func Text(name string) *Column { return &Column{name: name, typ: driver.Text} }

// Bytes declares a binary column.
func Bytes(name string) *Column { return &Column{name: name, typ: driver.Bytes} }

// Timestamp declares a timestamp column, stored in a portable text form.
func Timestamp(name string) *Column { return &Column{name: name, typ: driver.Timestamp} }

// Ref declares a column referencing target's primary key. The target must
// have exactly one primary key column; the new column stores that column's
// type and accepts a *Row of the target as a value. Resolution happens when
// the column is attached to a table.
func Ref(name string, target *Table) *Column {
	return &Column{name: name, refTarget: target}
}

// RefAs declares a reference column whose stored value is computed from a
// target row by value, for targets with composite keys or derived
// identities. The stored type is given explicitly.
func RefAs(name string, target *Table, typ driver.Type, value func(*Row) (any, error)) *Column {
	return &Column{name: name, typ: typ, refTarget: target, refValue: value}
}

// NotNull marks the column required.
func (c *Column) NotNull() *Column {
	c.required = true
	return c
}

// Default sets a literal default, rendered into the DDL.
func (c *Column) Default(v any) *Column {
	c.def = v
	c.hasDefault = true
	return c
}

// DefaultFunc sets a generated default, evaluated at insert time. It never
// appears in the DDL.
func (c *Column) DefaultFunc(f func() any) *Column {
	c.defFunc = f
	c.hasDefault = true
	return c
}

// Unique adds a uniqueness constraint.
func (c *Column) Unique() *Column {
	c.unique = true
	return c
}

// PrimaryKey marks the column as part of the table's primary key. Primary
// key columns are implicitly unique and required.
func (c *Column) PrimaryKey() *Column {
	c.primaryKey = true
	c.unique = true
	c.required = true
	return c
}

// MaxLen bounds the text width on dialects that distinguish widths.
func (c *Column) MaxLen(n int) *Column {
	c.maxLen = n
	return c
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Type returns the canonical column type.
func (c *Column) Type() driver.Type { return c.typ }

// Table returns the owning table, or nil for a detached descriptor.
func (c *Column) Table() *Table { return c.table }

// clone returns a detached copy.
func (c *Column) clone() *Column {
	dup := *c
	dup.table = nil
	return &dup
}

func (c *Column) defaultValue() (any, bool) {
	if c.defFunc != nil {
		return c.defFunc(), true
	}
	if c.hasDefault {
		return c.def, true
	}
	return nil, false
}

func (c *Column) columnDef() driver.ColumnDef {
	def := driver.ColumnDef{
		Name:          c.name,
		Type:          c.typ,
		Required:      c.required,
		Unique:        c.unique,
		PrimaryKey:    c.primaryKey,
		Autoincrement: c.autoincrement,
		MaxLen:        c.maxLen,
	}
	if c.hasDefault && c.defFunc == nil {
		def.Default = c.def
		def.HasDefault = true
	}
	if c.refTarget != nil && c.refColumn != "" {
		def.RefTable = c.refTarget.name
		def.RefColumn = c.refColumn
	}
	return def
}

func (c *Column) valueError(v any) error {
	return &ValueError{Column: c.name, Type: c.typ, Value: v}
}

// dump converts a caller-supplied value to its storage form. Types are
// checked strictly; a value of the wrong Go type is a ValueError, never a
// silent coercion.
func (c *Column) dump(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if row, ok := v.(*Row); ok {
		return c.dumpRow(row)
	}
	switch c.typ {
	case driver.Rowid, driver.Integer:
		switch v := v.(type) {
		case int:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case uint:
			return int64(v), nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		}
	case driver.Float:
		switch v := v.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case driver.Boolean:
		if v, ok := v.(bool); ok {
			return v, nil
		}
	case driver.Text:
		if v, ok := v.(string); ok {
			return v, nil
		}
	case driver.Bytes:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	case driver.Timestamp:
		if v, ok := v.(time.Time); ok {
			// Stored as text so every supported backend reads it back the
			// same way.
			return v.UTC().Format(sqlbase.TimeLayout), nil
		}
	}
	return nil, c.valueError(v)
}

// dumpRow resolves a reference value from a row of the target table.
func (c *Column) dumpRow(row *Row) (any, error) {
	if c.refTarget == nil {
		return nil, c.valueError(row)
	}
	if c.refValue != nil {
		v, err := c.refValue(row)
		if err != nil {
			return nil, err
		}
		return c.dumpPlain(v)
	}
	key, err := row.PrimaryKey()
	if err != nil {
		return nil, err
	}
	if len(key) != 1 {
		return nil, driver.Schemaf("reference column %q needs a single-column key, table %q has %d", c.name, c.refTarget.name, len(key))
	}
	return c.dumpPlain(key[0])
}

// dumpPlain is dump without the *Row special case, so resolved reference
// values cannot recurse.
func (c *Column) dumpPlain(v any) (any, error) {
	if _, ok := v.(*Row); ok {
		return nil, c.valueError(v)
	}
	return c.dump(v)
}

// load converts a stored value back to the column's native Go type. Unlike
// dump it casts defensively: the backend may hand back a wider or narrower
// representation than was stored.
func (c *Column) load(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return loadAs(c.typ, v)
}

func loadAs(t driver.Type, v any) (any, error) {
	switch t {
	case driver.Rowid, driver.Integer:
		switch v := v.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			return int64(v), nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case []byte:
			return parseInt(string(v))
		case string:
			return parseInt(v)
		}
	case driver.Float:
		switch v := v.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case []byte:
			return parseFloat(string(v))
		case string:
			return parseFloat(v)
		}
	case driver.Boolean:
		switch v := v.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte:
			return parseBool(string(v))
		case string:
			return parseBool(v)
		}
	case driver.Text:
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case driver.Bytes:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	case driver.Timestamp:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			if t, ok := sqlbase.ParseTime(v); ok {
				return t, nil
			}
		case []byte:
			if t, ok := sqlbase.ParseTime(string(v)); ok {
				return t, nil
			}
		}
	}
	return nil, fmt.Errorf("cannot read %T value %v as %s", v, v, t)
}

func parseInt(s string) (any, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot read %q as integer", s)
	}
	return n, nil
}

func parseFloat(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot read %q as float", s)
	}
	return f, nil
}

func parseBool(s string) (any, error) {
	switch s {
	case "1", "true", "TRUE":
		return true, nil
	case "0", "false", "FALSE":
		return false, nil
	}
	return nil, fmt.Errorf("cannot read %q as boolean", s)
}
