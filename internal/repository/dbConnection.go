// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection wraps the sqlite-backed registry the admin package uses to
// persist accounts and databases across restarts.
type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens (once) the sqlite registry at path db. sqlite does not
// multiplex writers, so the pool is capped at a single connection — the
// same choice the teacher makes for its own job repository.
func Connect(db string) {
	dbConnOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
		dbHandle, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", db))
		if err != nil {
			cclog.Fatalf("[DBADMIN] opening registry %s: %v", db, err)
		}
		dbHandle.SetMaxOpenConns(1)

		dbConnInstance = &DBConnection{DB: dbHandle}
		checkDBVersion(dbHandle.DB)
	})
}

// GetConnection returns the singleton registry connection. Connect must
// have been called first.
func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		cclog.Fatalf("[DBADMIN] registry connection not initialized")
	}
	return dbConnInstance
}
