/*
Package reldb is a backend-independent relational data-access layer. Callers
declare typed tables, build filters by applying ordinary methods to columns,
and run them against pluggable SQL backends, while the in-memory schema can
be reconciled with the live database in both directions.

# Basics

A DB is opened on a named backend; backends register themselves when their
package is imported:

	import _ "github.com/canonical/reldb/driver/sqlite"

	db, err := reldb.Open("sqlite", ":memory:")

Tables are declared from typed column descriptors. Columns marked PrimaryKey
form the key; without any, an auto-incrementing rowid column is added:

	people, err := db.DefineTable(ctx, "people",
		reldb.Text("name").NotNull(),
		reldb.Int("height_cm"),
		reldb.Text("home_town"),
	)

# Expressions

Applying operator methods to a column builds an immutable expression tree;
nothing touches the database until the expression is executed:

	tall := people.C("height_cm").Gt(150).And(people.C("home_town").Eq("Berlin"))
	sel, err := tall.Select(ctx)
	for sel.Next() {
		name, _ := sel.Row().Value("name")
		...
	}

Selections are lazy and single-pass: rows are decoded as they are pulled,
and a consumed selection yields nothing when re-iterated.

# Schema reconciliation

Conform rebuilds every table definition from live introspection, discarding
the in-memory declarations. Migrate is its asymmetric counterpart: it
creates any declared table missing from the database, and never alters or
drops what already exists.

# Errors

Backend-native failures never escape. Every backend translates its errors
into one taxonomy: SchemaError, QuerySyntaxError, ConstraintError,
ResourceError, UnknownDriverError and ValueError, plus the ErrNotFound
sentinel for key lookups that match nothing.
*/
package reldb
