// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlite_test

import (
	"context"
	"errors"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/canonical/reldb/ast"
	"github.com/canonical/reldb/driver"
	"github.com/canonical/reldb/driver/sqlbase"
	"github.com/canonical/reldb/driver/sqlite"
)

// Hook up gocheck into the "go test" runner.
func TestSQLite(t *testing.T) { TestingT(t) }

type dialectSuite struct {
	d sqlbase.Dialect
}

var _ = Suite(&dialectSuite{d: sqlite.Dialect()})

func (s *dialectSuite) TestName(c *C) {
	c.Check(s.d.Name(), Equals, "sqlite")
}

func (s *dialectSuite) TestTypeRoundTrip(c *C) {
	for _, t := range []driver.Type{
		driver.Integer, driver.Float, driver.Boolean,
		driver.Text, driver.Bytes, driver.Timestamp,
	} {
		native, err := s.d.TypeSQL(driver.ColumnDef{Type: t})
		c.Assert(err, IsNil)
		got, ok := s.d.TypeFromNative(native)
		c.Assert(ok, Equals, true, Commentf("%s -> %s", t, native))
		c.Check(got, Equals, t, Commentf("%s -> %s -> %s", t, native, got))
	}
}

func (s *dialectSuite) TestTypeFromNativeVariants(c *C) {
	for native, want := range map[string]driver.Type{
		"VARCHAR(30)": driver.Text,
		"int":         driver.Integer,
		"datetime":    driver.Timestamp,
		"BOOL":        driver.Boolean,
		"double":      driver.Float,
	} {
		got, ok := s.d.TypeFromNative(native)
		c.Assert(ok, Equals, true, Commentf("%q", native))
		c.Check(got, Equals, want, Commentf("%q", native))
	}
	_, ok := s.d.TypeFromNative("GEOMETRY")
	c.Check(ok, Equals, false)
}

func (s *dialectSuite) TestCreateTableSQL(c *C) {
	sql := s.d.CreateTableSQL(`"t"`, []string{`"id" INTEGER`, `"name" TEXT`}, []string{`"id"`})
	c.Check(sql, Equals, `CREATE TABLE IF NOT EXISTS "t" ("id" INTEGER, "name" TEXT, PRIMARY KEY ("id" ASC))`)
}

func (s *dialectSuite) TestCreateTableSQLKeyless(c *C) {
	sql := s.d.CreateTableSQL(`"t"`, []string{`"name" TEXT`}, nil)
	c.Check(sql, Equals, `CREATE TABLE IF NOT EXISTS "t" ("name" TEXT)`)
}

func (s *dialectSuite) TestTranslateConstraintErrors(c *C) {
	err := s.d.TranslateError(errors.New("constraint failed: UNIQUE constraint failed: t.name (2067)"), "")
	cerr, ok := err.(*driver.ConstraintError)
	c.Assert(ok, Equals, true)
	c.Check(cerr.Kind, Equals, "unique")

	err = s.d.TranslateError(errors.New("constraint failed: NOT NULL constraint failed: t.name (1299)"), "")
	cerr, ok = err.(*driver.ConstraintError)
	c.Assert(ok, Equals, true)
	c.Check(cerr.Kind, Equals, "not null")
}

func (s *dialectSuite) TestTranslateSchemaErrors(c *C) {
	err := s.d.TranslateError(errors.New("SQL logic error: no such table: nope (1)"), "")
	c.Assert(err, FitsTypeOf, &driver.SchemaError{})
	c.Check(err.Error(), Equals, "no such table: nope")

	err = s.d.TranslateError(errors.New("SQL logic error: no such column: nope (1)"), "")
	c.Assert(err, FitsTypeOf, &driver.SchemaError{})
	c.Check(err.Error(), Equals, "no such column: nope")

	err = s.d.TranslateError(errors.New(`table "t" has no column named zap (1)`), "")
	c.Assert(err, FitsTypeOf, &driver.SchemaError{})
	c.Check(err.Error(), Equals, "no such column: zap")
}

func (s *dialectSuite) TestTranslateSyntaxErrorOffset(c *C) {
	sql := `SELECT * FRM "t"`
	err := s.d.TranslateError(errors.New(`SQL logic error: near "FRM": syntax error (1)`), sql)
	serr, ok := err.(*driver.QuerySyntaxError)
	c.Assert(ok, Equals, true)
	c.Check(serr.SQL, Equals, sql)
	c.Check(serr.Offset, Equals, 9)
}

func (s *dialectSuite) TestTranslateUnknownPassesThrough(c *C) {
	c.Check(s.d.TranslateError(errors.New("some novel failure"), ""), IsNil)
	c.Check(s.d.TranslateError(nil, ""), IsNil)
}

// driverSuite exercises the full contract against an in-memory database.
type driverSuite struct {
	drv driver.Driver
}

var _ = Suite(&driverSuite{})

var personCols = []driver.ColumnDef{
	{Name: "id", Type: driver.Rowid, Required: true, Unique: true, PrimaryKey: true, Autoincrement: true},
	{Name: "name", Type: driver.Text, Required: true},
	{Name: "height", Type: driver.Integer},
}

func (s *driverSuite) SetUpTest(c *C) {
	drv, err := driver.Open("sqlite", ":memory:")
	c.Assert(err, IsNil)
	s.drv = drv
	err = s.drv.CreateTable(context.Background(), "person", personCols, []string{"id"})
	c.Assert(err, IsNil)
}

func (s *driverSuite) TearDownTest(c *C) {
	if s.drv != nil {
		c.Check(s.drv.Close(), IsNil)
	}
}

func (s *driverSuite) insert(c *C, name string, height int64) int64 {
	id, err := s.drv.Insert(context.Background(), "person",
		[]string{"name", "height"}, []any{name, height})
	c.Assert(err, IsNil)
	return id
}

func (s *driverSuite) TestInsertReturnsRowID(c *C) {
	c.Check(s.insert(c, "Jim", 150), Equals, int64(1))
	c.Check(s.insert(c, "Saba", 162), Equals, int64(2))
}

func (s *driverSuite) TestSelectWhere(c *C) {
	s.insert(c, "Jim", 150)
	s.insert(c, "Saba", 162)

	where := ast.Apply(ast.Gt, ast.Col("person", "height"), ast.Lit(int64(155)))
	cur, err := s.drv.Select(context.Background(),
		[]ast.Node{ast.Col("person", "name")}, []string{"person"}, where, false, nil)
	c.Assert(err, IsNil)
	defer cur.Close()

	c.Assert(cur.Next(), Equals, true)
	vals, err := cur.Scan()
	c.Assert(err, IsNil)
	c.Check(vals[0], Equals, "Saba")
	c.Check(cur.Next(), Equals, false)
	c.Check(cur.Err(), IsNil)
}

func (s *driverSuite) TestSelectOrderBy(c *C) {
	s.insert(c, "Jim", 150)
	s.insert(c, "Saba", 162)
	s.insert(c, "Dave", 169)

	cur, err := s.drv.Select(context.Background(),
		[]ast.Node{ast.Col("person", "name")}, []string{"person"}, nil, false,
		[]ast.Node{ast.Apply(ast.Descend, ast.Col("person", "height"))})
	c.Assert(err, IsNil)
	defer cur.Close()

	var names []string
	for cur.Next() {
		vals, err := cur.Scan()
		c.Assert(err, IsNil)
		names = append(names, vals[0].(string))
	}
	c.Assert(cur.Err(), IsNil)
	c.Check(names, DeepEquals, []string{"Dave", "Saba", "Jim"})
}

func (s *driverSuite) TestUpdateReportsAffected(c *C) {
	s.insert(c, "Jim", 150)
	s.insert(c, "Saba", 162)

	n, err := s.drv.Update(context.Background(), "person",
		[]string{"height"}, []any{int64(170)},
		ast.Apply(ast.Gt, ast.Col("person", "height"), ast.Lit(int64(100))))
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(2))
}

func (s *driverSuite) TestDeleteReportsAffected(c *C) {
	s.insert(c, "Jim", 150)
	n, err := s.drv.Delete(context.Background(), "person",
		ast.Apply(ast.Eq, ast.Col("person", "name"), ast.Lit("Jim")))
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(1))

	n, err = s.drv.Delete(context.Background(), "person", nil)
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(0))
}

func (s *driverSuite) TestListTables(c *C) {
	names, err := s.drv.ListTables(context.Background())
	c.Assert(err, IsNil)
	c.Check(names, DeepEquals, []string{"person"})
}

func (s *driverSuite) TestListColumns(c *C) {
	infos, err := s.drv.ListColumns(context.Background(), "person")
	c.Assert(err, IsNil)
	c.Assert(infos, HasLen, 3)
	c.Check(infos[0].Name, Equals, "id")
	c.Check(infos[0].Type, Equals, driver.Rowid)
	c.Check(infos[0].PrimaryKey, Equals, true)
	c.Check(infos[1].Name, Equals, "name")
	c.Check(infos[1].Type, Equals, driver.Text)
	c.Check(infos[1].Required, Equals, true)
	c.Check(infos[2].Name, Equals, "height")
	c.Check(infos[2].Type, Equals, driver.Integer)
	c.Check(infos[2].Required, Equals, false)
}

func (s *driverSuite) TestListColumnsMissingTable(c *C) {
	_, err := s.drv.ListColumns(context.Background(), "nope")
	c.Assert(err, FitsTypeOf, &driver.SchemaError{})
}

func (s *driverSuite) TestRollbackOnError(c *C) {
	ctx := context.Background()
	c.Assert(s.drv.Begin(ctx), IsNil)
	s.insert(c, "Jim", 150)
	s.insert(c, "Saba", 162)
	err := s.drv.End(errors.New("induced failure"))
	c.Assert(err, ErrorMatches, "induced failure")

	cur, err := s.drv.Select(ctx, []ast.Node{ast.Col("person", "name")},
		[]string{"person"}, nil, false, nil)
	c.Assert(err, IsNil)
	defer cur.Close()
	c.Check(cur.Next(), Equals, false)
	c.Check(cur.Err(), IsNil)
}

func (s *driverSuite) TestNestedCommitOnce(c *C) {
	ctx := context.Background()
	c.Assert(s.drv.Begin(ctx), IsNil)
	c.Assert(s.drv.Begin(ctx), IsNil)
	s.insert(c, "Jim", 150)
	c.Assert(s.drv.End(nil), IsNil)
	// Still inside the outer block; an inner End must not have committed.
	s.insert(c, "Saba", 162)
	c.Assert(s.drv.End(nil), IsNil)

	cur, err := s.drv.Select(ctx, []ast.Node{ast.Col("person", "name")},
		[]string{"person"}, nil, false, nil)
	c.Assert(err, IsNil)
	defer cur.Close()
	n := 0
	for cur.Next() {
		n++
	}
	c.Check(n, Equals, 2)
}

func (s *driverSuite) TestInnerErrorRollsBackWholeNest(c *C) {
	ctx := context.Background()
	c.Assert(s.drv.Begin(ctx), IsNil)
	s.insert(c, "Jim", 150)
	c.Assert(s.drv.Begin(ctx), IsNil)
	cause := errors.New("inner failure")
	c.Assert(s.drv.End(cause), Equals, cause)
	c.Assert(s.drv.End(cause), Equals, cause)

	cur, err := s.drv.Select(ctx, []ast.Node{ast.Col("person", "name")},
		[]string{"person"}, nil, false, nil)
	c.Assert(err, IsNil)
	defer cur.Close()
	c.Check(cur.Next(), Equals, false)
}

func (s *driverSuite) TestUniqueViolationTranslated(c *C) {
	err := s.drv.CreateTable(context.Background(), "uniq", []driver.ColumnDef{
		{Name: "name", Type: driver.Text, Unique: true},
	}, nil)
	c.Assert(err, IsNil)

	_, err = s.drv.Insert(context.Background(), "uniq", []string{"name"}, []any{"x"})
	c.Assert(err, IsNil)
	_, err = s.drv.Insert(context.Background(), "uniq", []string{"name"}, []any{"x"})
	cerr, ok := err.(*driver.ConstraintError)
	c.Assert(ok, Equals, true, Commentf("%v", err))
	c.Check(cerr.Kind, Equals, "unique")
}

func (s *driverSuite) TestMissingTableTranslated(c *C) {
	_, err := s.drv.Insert(context.Background(), "nope", []string{"a"}, []any{int64(1)})
	c.Assert(err, FitsTypeOf, &driver.SchemaError{})
}

func (s *driverSuite) TestBadIdentifierFailsBeforeSQL(c *C) {
	_, err := s.drv.Insert(context.Background(), "bad name;", []string{"a"}, []any{int64(1)})
	c.Assert(err, FitsTypeOf, &driver.SchemaError{})
}

func (s *driverSuite) TestRenameTable(c *C) {
	err := s.drv.RenameTable(context.Background(), "person", "people")
	c.Assert(err, IsNil)
	names, err := s.drv.ListTables(context.Background())
	c.Assert(err, IsNil)
	c.Check(names, DeepEquals, []string{"people"})
}

func (s *driverSuite) TestDropTable(c *C) {
	c.Assert(s.drv.DropTable(context.Background(), "person"), IsNil)
	names, err := s.drv.ListTables(context.Background())
	c.Assert(err, IsNil)
	c.Check(names, HasLen, 0)
}

func (s *driverSuite) TestAddColumn(c *C) {
	err := s.drv.AddColumn(context.Background(), "person",
		driver.ColumnDef{Name: "email", Type: driver.Text})
	c.Assert(err, IsNil)
	infos, err := s.drv.ListColumns(context.Background(), "person")
	c.Assert(err, IsNil)
	c.Assert(infos, HasLen, 4)
	c.Check(infos[3].Name, Equals, "email")
}

func (s *driverSuite) TestUnknownDriver(c *C) {
	_, err := driver.Open("no-such-backend", "")
	c.Assert(err, FitsTypeOf, &driver.UnknownDriverError{})
}
