// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"embed"
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const supportedVersion uint = 1

//go:embed migrations/*
var migrationFiles embed.FS

func checkDBVersion(db *sql.DB) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		cclog.Fatalf("[DBADMIN] %v", err)
	}
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		cclog.Fatalf("[DBADMIN] %v", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		cclog.Fatalf("[DBADMIN] %v", err)
	}

	v, _, err := m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			cclog.Warnf("[DBADMIN] empty registry, applying migrations")
			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				cclog.Fatalf("[DBADMIN] %v", err)
			}
			return
		}
		cclog.Fatalf("[DBADMIN] %v", err)
	}

	if v < supportedVersion {
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			cclog.Fatalf("[DBADMIN] migrating registry from version %d to %d: %v", v, supportedVersion, err)
		}
	}
}

// MigrateDB runs the sqlite registry's migrations against db explicitly,
// for use by an operator tool separate from the node's own startup path.
func MigrateDB(db string) {
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		cclog.Fatalf("[DBADMIN] %v", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("sqlite3://%s?_foreign_keys=on", db))
	if err != nil {
		cclog.Fatalf("[DBADMIN] %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		cclog.Fatalf("[DBADMIN] %v", err)
	}

	m.Close()
}
