// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package ast defines the operator vocabulary and the expression tree built
// by the query algebra and compiled into dialect SQL by the drivers.
//
// A tree is a tagged union of three node kinds: a Literal value, a reference
// to a table column, or an Operation applying one of the fixed operator tags
// to an ordered operand list. Trees are built once and never mutated.
package ast

// Op is an operator tag. The set is closed: drivers keep a formatting rule
// for every member and dispatch on nothing else.
type Op int

const (
	Eq Op = iota
	NotEq
	Lt
	Le
	Gt
	Ge
	Add
	Concat
	Sub
	Mul
	Div
	FloorDiv
	Mod
	And
	Or
	Not
	Neg
	Abs
	Length
	Ascend
	Descend
	Sum
	Average
	Between
	Min
	Max
	Upper
	Lower
	Like
	Glob
	LStrip
	Strip
	RStrip
	Replace
	Round
	Substr
	Coalesce

	numOps // sentinel, keep last
)

var opNames = [numOps]string{
	Eq:       "EQUAL",
	NotEq:    "NOTEQUAL",
	Lt:       "LESSTHAN",
	Le:       "LESSEQUAL",
	Gt:       "GREATERTHAN",
	Ge:       "GREATEREQUAL",
	Add:      "ADD",
	Concat:   "CONCATENATE",
	Sub:      "SUBTRACT",
	Mul:      "MULTIPLY",
	Div:      "DIVIDE",
	FloorDiv: "FLOORDIVIDE",
	Mod:      "MODULO",
	And:      "AND",
	Or:       "OR",
	Not:      "NOT",
	Neg:      "NEGATIVE",
	Abs:      "ABS",
	Length:   "LENGTH",
	Ascend:   "ASCEND",
	Descend:  "DESCEND",
	Sum:      "SUM",
	Average:  "AVERAGE",
	Between:  "BETWEEN",
	Min:      "MIN",
	Max:      "MAX",
	Upper:    "UPPER",
	Lower:    "LOWER",
	Like:     "LIKE",
	Glob:     "GLOB",
	LStrip:   "LSTRIP",
	Strip:    "STRIP",
	RStrip:   "RSTRIP",
	Replace:  "REPLACE",
	Round:    "ROUND",
	Substr:   "SUBSTRING",
	Coalesce: "COALESCE",
}

func (o Op) String() string {
	if o < 0 || o >= numOps {
		return "INVALID"
	}
	return opNames[o]
}

// NumOps is the size of the operator vocabulary.
const NumOps = int(numOps)

// Node is one vertex of an expression tree.
type Node interface {
	node()
}

// Literal is a leaf holding a plain value. A nil Value renders as SQL NULL.
type Literal struct {
	Value any
}

// ColumnRef is a leaf referencing a column of a named table.
type ColumnRef struct {
	Table  string
	Column string
}

// Operation applies Op to an ordered list of operands.
type Operation struct {
	Op       Op
	Operands []Node
}

func (Literal) node()   {}
func (ColumnRef) node() {}
func (Operation) node() {}

// Lit returns a literal leaf.
func Lit(v any) Literal { return Literal{Value: v} }

// Col returns a column reference leaf.
func Col(table, column string) ColumnRef { return ColumnRef{Table: table, Column: column} }

// Apply returns an Operation over a private copy of the operand list.
func Apply(op Op, operands ...Node) Operation {
	ops := make([]Node, len(operands))
	copy(ops, operands)
	return Operation{Op: op, Operands: ops}
}

// Walk calls fn for n and every node below it, depth first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	if op, ok := n.(Operation); ok {
		for _, o := range op.Operands {
			Walk(o, fn)
		}
	}
}
