package db

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	Path string
}

// Connect opens (creating if needed) the owned library database with WAL
// journaling and foreign keys enabled. SQLite allows one writer; the pool
// is sized accordingly.
func Connect(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &DB{DB: db, Path: path}, nil
}

// OpenExternal opens a downloader database read-only. Source databases are
// never written through this handle.
func OpenExternal(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open external database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping external database: %w", err)
	}
	db.SetMaxOpenConns(2)
	return db, nil
}

// OpenExternalWritable opens a downloader database read-write. Used only by
// the missing-files cleanup, which marks Tokkit rows downloaded=0 behind an
// explicit force flag.
func OpenExternalWritable(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)", url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open external database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping external database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
