// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbase

import (
	"fmt"
	"strings"

	"github.com/canonical/reldb/ast"
	"github.com/canonical/reldb/driver"
)

func infix(op string) Formatter {
	return func(args []string) (string, error) {
		if len(args) != 2 {
			return "", fmt.Errorf("%s takes 2 operands, got %d", op, len(args))
		}
		return args[0] + op + args[1], nil
	}
}

func prefix(op string) Formatter {
	return func(args []string) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%s takes 1 operand, got %d", op, len(args))
		}
		return op + args[0], nil
	}
}

func call(fn string, min, max int) Formatter {
	return func(args []string) (string, error) {
		if len(args) < min || (max >= 0 && len(args) > max) {
			return "", fmt.Errorf("%s takes %d to %d operands, got %d", fn, min, max, len(args))
		}
		return fn + "(" + strings.Join(args, ",") + ")", nil
	}
}

// defaultFormatters covers the whole operator vocabulary in the syntax the
// supported dialects share. Ascend and Descend are absent deliberately: they
// are only legal in ORDER BY, which compileOrderBy handles itself.
var defaultFormatters = map[ast.Op]Formatter{
	ast.Eq:       infix("="),
	ast.NotEq:    infix("!="),
	ast.Lt:       infix("<"),
	ast.Le:       infix("<="),
	ast.Gt:       infix(">"),
	ast.Ge:       infix(">="),
	ast.Add:      infix("+"),
	ast.Concat:   infix("||"),
	ast.Sub:      infix("-"),
	ast.Mul:      infix("*"),
	ast.Div:      infix("/"),
	ast.FloorDiv: infix("/"),
	ast.Mod:      infix("%"),
	ast.And:      infix(" AND "),
	ast.Or:       infix(" OR "),
	ast.Not:      prefix("NOT "),
	ast.Neg:      prefix("-"),
	ast.Abs:      call("abs", 1, 1),
	ast.Length:   call("length", 1, 1),
	ast.Sum:      call("sum", 1, 1),
	ast.Average:  call("avg", 1, 1),
	ast.Min:      call("min", 1, 1),
	ast.Max:      call("max", 1, 1),
	ast.Upper:    call("upper", 1, 1),
	ast.Lower:    call("lower", 1, 1),
	ast.LStrip:   call("ltrim", 1, 2),
	ast.Strip:    call("trim", 1, 2),
	ast.RStrip:   call("rtrim", 1, 2),
	ast.Replace:  call("replace", 3, 3),
	ast.Round:    call("round", 1, 2),
	ast.Substr:   call("substr", 2, 3),
	ast.Coalesce: call("coalesce", 2, -1),
	ast.Glob:     infix(" GLOB "),
	ast.Between: func(args []string) (string, error) {
		if len(args) != 3 {
			return "", fmt.Errorf("BETWEEN takes 3 operands, got %d", len(args))
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", args[0], args[1], args[2]), nil
	},
	ast.Like: func(args []string) (string, error) {
		switch len(args) {
		case 2:
			return args[0] + " LIKE " + args[1], nil
		case 3:
			return fmt.Sprintf("%s LIKE %s ESCAPE %s", args[0], args[1], args[2]), nil
		}
		return "", fmt.Errorf("LIKE takes 2 or 3 operands, got %d", len(args))
	},
}

// compiler renders one statement, accumulating bound parameters in emission
// order.
type compiler struct {
	dialect    Dialect
	formatters map[ast.Op]Formatter
	args       []any
}

func newCompiler(d Dialect) *compiler {
	c := &compiler{dialect: d, formatters: defaultFormatters}
	if over := d.Formatters(); len(over) > 0 {
		merged := make(map[ast.Op]Formatter, len(defaultFormatters)+len(over))
		for op, f := range defaultFormatters {
			merged[op] = f
		}
		for op, f := range over {
			merged[op] = f
		}
		c.formatters = merged
	}
	return c
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return c.dialect.Placeholder(len(c.args))
}

// node renders any expression tree vertex. Operation results are
// parenthesized so operand grouping survives textual composition.
func (c *compiler) node(n ast.Node) (string, error) {
	switch n := n.(type) {
	case ast.Literal:
		if n.Value == nil {
			return "NULL", nil
		}
		return c.bind(n.Value), nil
	case ast.ColumnRef:
		return c.columnRef(n)
	case ast.Operation:
		return c.operation(n)
	case nil:
		return "", fmt.Errorf("nil expression node")
	default:
		return "", fmt.Errorf("unknown expression node %T", n)
	}
}

func (c *compiler) columnRef(n ast.ColumnRef) (string, error) {
	if err := CheckIdentifier(n.Column); err != nil {
		return "", err
	}
	if n.Table == "" {
		return c.dialect.Quote(n.Column), nil
	}
	if err := CheckIdentifier(n.Table); err != nil {
		return "", err
	}
	return c.dialect.Quote(n.Table) + "." + c.dialect.Quote(n.Column), nil
}

func (c *compiler) operation(n ast.Operation) (string, error) {
	// Comparisons against NULL need IS forms; = NULL and != NULL never match.
	if (n.Op == ast.Eq || n.Op == ast.NotEq) && len(n.Operands) == 2 {
		if lit, ok := n.Operands[1].(ast.Literal); ok && lit.Value == nil {
			left, err := c.node(n.Operands[0])
			if err != nil {
				return "", err
			}
			if n.Op == ast.Eq {
				return "(" + left + " IS NULL)", nil
			}
			return "(" + left + " IS NOT NULL)", nil
		}
	}
	format, ok := c.formatters[n.Op]
	if !ok {
		return "", fmt.Errorf("operator %s is not valid here", n.Op)
	}
	args := make([]string, len(n.Operands))
	for i, operand := range n.Operands {
		s, err := c.node(operand)
		if err != nil {
			return "", err
		}
		args[i] = s
	}
	s, err := format(args)
	if err != nil {
		return "", err
	}
	return "(" + s + ")", nil
}

// where renders " WHERE ..." or nothing for a nil filter.
func (c *compiler) where(n ast.Node) (string, error) {
	if n == nil {
		return "", nil
	}
	clause, err := c.node(n)
	if err != nil {
		return "", err
	}
	return " WHERE " + clause, nil
}

// orderBy renders " ORDER BY ...". Top-level Ascend/Descend markers become
// trailing ASC/DESC keywords outside the operand's parentheses.
func (c *compiler) orderBy(items []ast.Node) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	parts := make([]string, len(items))
	for i, item := range items {
		dir := ""
		if op, ok := item.(ast.Operation); ok && (op.Op == ast.Ascend || op.Op == ast.Descend) {
			if len(op.Operands) != 1 {
				return "", fmt.Errorf("%s takes 1 operand, got %d", op.Op, len(op.Operands))
			}
			item = op.Operands[0]
			if op.Op == ast.Descend {
				dir = " DESC"
			} else {
				dir = " ASC"
			}
		}
		s, err := c.node(item)
		if err != nil {
			return "", err
		}
		parts[i] = s + dir
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// FormatColumn renders one column definition for DDL. Only literal defaults
// are rendered; generated defaults are applied above the driver.
func FormatColumn(d Dialect, col driver.ColumnDef) (string, error) {
	if err := CheckIdentifier(col.Name); err != nil {
		return "", err
	}
	typeSQL, err := d.TypeSQL(col)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(d.Quote(col.Name))
	b.WriteByte(' ')
	b.WriteString(typeSQL)
	if col.Required {
		b.WriteString(" NOT NULL")
	}
	if col.Unique && !col.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	if col.HasDefault && col.Default != nil {
		lit, err := LiteralSQL(col.Default)
		if err != nil {
			return "", fmt.Errorf("default for column %q: %s", col.Name, err)
		}
		b.WriteString(" DEFAULT ")
		b.WriteString(lit)
	}
	if col.RefTable != "" && col.RefColumn != "" {
		if err := CheckIdentifier(col.RefTable); err != nil {
			return "", err
		}
		if err := CheckIdentifier(col.RefColumn); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " REFERENCES %s(%s)", d.Quote(col.RefTable), d.Quote(col.RefColumn))
	}
	return b.String(), nil
}
