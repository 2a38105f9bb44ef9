// Package sqlite implements the attendance stores on an embedded SQLite file
// for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func init() {
	database.RegisterDriver("sqlite", Open)
}

// DefaultPath is used when no file is configured.
const DefaultPath = "./data/attendance.db"

// OpenDB opens the database file, creating its directory, and applies migrations.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// One connection: writes are serialized by the Worker anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Open returns the SQLite backend.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*database.Backend, error) {
	db, err := OpenDB(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	store := NewStore(db)
	return &database.Backend{
		Employees: store,
		Events:    store,
		Settings:  store,
		Close:     store.Close,
	}, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
