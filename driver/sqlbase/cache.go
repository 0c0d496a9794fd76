// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlbase

import (
	"context"
	"database/sql"
	"sync"
)

// stmtCache keeps the driver prepared statements for one connection, keyed
// by statement text. Statements live until the connection closes; the
// vocabulary of statements a schema generates is small and stable, so no
// eviction is needed.
type stmtCache struct {
	db    *sql.DB
	mutex sync.RWMutex
	stmts map[string]*sql.Stmt
}

func newStmtCache(db *sql.DB) *stmtCache {
	return &stmtCache{db: db, stmts: make(map[string]*sql.Stmt)}
}

func (sc *stmtCache) get(ctx context.Context, query string) (*sql.Stmt, error) {
	sc.mutex.RLock()
	stmt, ok := sc.stmts[query]
	sc.mutex.RUnlock()
	if ok {
		return stmt, nil
	}
	stmt, err := sc.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	// Check whether a statement was inserted since we last looked.
	if prior, ok := sc.stmts[query]; ok {
		stmt.Close()
		return prior, nil
	}
	sc.stmts[query] = stmt
	return stmt, nil
}

func (sc *stmtCache) close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	var first error
	for query, stmt := range sc.stmts {
		if err := stmt.Close(); err != nil && first == nil {
			first = err
		}
		delete(sc.stmts, query)
	}
	return first
}
