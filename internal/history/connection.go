// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package history is a diagnostic, non-authoritative audit trail of slave
// connection events (spec §3.6). The in-memory slave.Manager remains the
// sole authority on current slave state; this package only records what
// happened, for later inspection, and its unavailability must never block
// the control loop.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/qustavo/sqlhooks/v2"
	sqlite3drv "github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite3/*
var migrationFiles embed.FS

const supportedVersion uint = 1

var registerOnce sync.Once

// Store is the connection-history audit database.
type Store struct {
	db        *sqlx.DB
	stmtCache *sq.StmtCache
}

// Open connects to a sqlite3 database at path, migrating it to the
// supported schema version, and registers a sqlhooks-wrapped driver for
// query logging (grounded on the teacher's repository.Connect/Hooks).
func Open(path string) (*Store, error) {
	registerOnce.Do(func() {
		sql.Register("sqlite3_history_hooked", sqlhooks.Wrap(&sqlite3drv.SQLiteDriver{}, &queryHooks{}))
	})

	db, err := sqlx.Open("sqlite3_history_hooked", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return &Store{db: db, stmtCache: sq.NewStmtCache(db.DB)}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// queryHooks logs every query with its elapsed time, same shape as the
// teacher's repository.Hooks.
type queryHooks struct{}

type hookCtxKey struct{}

func (h *queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("history: query %s %v", query, args)
	return context.WithValue(ctx, hookCtxKey{}, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(hookCtxKey{}).(time.Time); ok {
		log.Debugf("history: took %s", time.Since(begin))
	}
	return ctx, nil
}
