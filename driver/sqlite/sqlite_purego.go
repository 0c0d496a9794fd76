// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

//go:build !cgo_sqlite

package sqlite

import (
	_ "modernc.org/sqlite" // registers the pure Go "sqlite" driver
)

const sqlDriverName = "sqlite"

// tempParams tune the file backing a ":memory:" database, in modernc DSN
// form: WAL so a commit never waits on an open cursor's read snapshot, and
// a busy timeout instead of an immediate busy error.
const tempParams = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
