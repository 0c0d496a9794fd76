// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

//go:build cgo_sqlite

package sqlite

import (
	_ "github.com/mattn/go-sqlite3" // registers the cgo "sqlite3" driver
)

const sqlDriverName = "sqlite3"

// tempParams tune the file backing a ":memory:" database, in mattn DSN
// form: WAL so a commit never waits on an open cursor's read snapshot, and
// a busy timeout instead of an immediate busy error.
const tempParams = "?_journal_mode=WAL&_busy_timeout=5000"
