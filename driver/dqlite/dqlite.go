// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dqlite registers the "dqlite" backend, which speaks SQLite
// semantics against a dqlite cluster over the network. The data source name
// lists the cluster addresses followed by the database name:
//
//	addr1:port,addr2:port/dbname
package dqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/canonical/go-dqlite/client"
	dqdriver "github.com/canonical/go-dqlite/driver"

	"github.com/canonical/reldb/driver"
	"github.com/canonical/reldb/driver/sqlbase"
	"github.com/canonical/reldb/driver/sqlite"
)

func init() {
	driver.Register("dqlite", Open)
}

// Each Open builds a driver bound to one node store, and database/sql driver
// names are global, so every connection registers under a fresh name.
var openCount atomic.Int64

// Open connects to a dqlite cluster.
func Open(dsn string) (driver.Driver, error) {
	addrPart, dbname, ok := strings.Cut(dsn, "/")
	if !ok || dbname == "" || addrPart == "" {
		return nil, &driver.ResourceError{Detail: "dqlite DSN must be addr1,addr2,.../dbname, got " + dsn}
	}
	store := client.NewInmemNodeStore()
	var infos []client.NodeInfo
	for _, addr := range strings.Split(addrPart, ",") {
		infos = append(infos, client.NodeInfo{Address: addr})
	}
	if err := store.Set(context.Background(), infos); err != nil {
		return nil, &driver.ResourceError{Detail: "cannot seed dqlite node store", Err: err}
	}
	drv, err := dqdriver.New(store)
	if err != nil {
		return nil, &driver.ResourceError{Detail: "cannot create dqlite driver", Err: err}
	}
	name := fmt.Sprintf("reldb-dqlite-%d", openCount.Add(1))
	sql.Register(name, drv)
	db, err := sql.Open(name, dbname)
	if err != nil {
		return nil, &driver.ResourceError{Detail: "cannot open dqlite database " + dbname, Err: err}
	}
	conn := sqlbase.New(db, dialect{Dialect: sqlite.Dialect(), addrs: addrPart})
	if err := db.PingContext(context.Background()); err != nil {
		terr := conn.Dialect().TranslateError(err, "")
		db.Close()
		if terr != nil {
			return nil, terr
		}
		return nil, &driver.ResourceError{Detail: "cannot reach dqlite cluster at " + addrPart, Err: err}
	}
	return conn, nil
}

// dialect is the SQLite dialect with cluster failure patterns layered on.
type dialect struct {
	sqlbase.Dialect
	addrs string
}

func (dialect) Name() string { return "dqlite" }

func (d dialect) TranslateError(err error, lastSQL string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no available dqlite leader"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "i/o timeout"):
		return &driver.ResourceError{Detail: "dqlite cluster " + d.addrs + " unavailable", Err: err}
	}
	return d.Dialect.TranslateError(err, lastSQL)
}
