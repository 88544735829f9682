// Package db is the sqlite key-value store behind the schedule records.
package db

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/CamberLoid/Amortiza/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DB struct {
	*sql.DB
	log *logger.Logger
}

// Open connects to the sqlite database at dsn and pings it.
func Open(ctx context.Context, dsn string, log *logger.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	// single writer
	conn.SetMaxOpenConns(1)
	log.Debug().Str("dsn", dsn).Msg("connected to database")
	return &DB{DB: conn, log: log}, nil
}

// Migrate applies the embedded migrations.
func (db *DB) Migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Wrap(err, "set migration dialect")
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return errors.Wrap(err, "migrate")
	}
	return nil
}
