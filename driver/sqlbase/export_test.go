// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbase

import "github.com/canonical/reldb/ast"

func CompileNode(d Dialect, n ast.Node) (string, []any, error) {
	c := newCompiler(d)
	s, err := c.node(n)
	return s, c.args, err
}

func CompileWhere(d Dialect, n ast.Node) (string, []any, error) {
	c := newCompiler(d)
	s, err := c.where(n)
	return s, c.args, err
}

func CompileOrderBy(d Dialect, items []ast.Node) (string, []any, error) {
	c := newCompiler(d)
	s, err := c.orderBy(items)
	return s, c.args, err
}
