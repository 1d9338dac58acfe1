// Package storage provides SQLite persistence for the reconciliation
// pipeline: transactions, invoices, suggestions, review queue items,
// learned patterns, corrections, the append-only ledger and the decision
// log. Every table is tenant-partitioned; cross-tenant reads are
// forbidden except learned patterns whose scope includes the requesting
// tenant.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides database access backed by SQLite.
type Storage struct {
	db *sql.DB
}

// NewStorage opens (or creates) the database and runs pending migrations.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// mustJSON marshals enrichment columns; these are value types that cannot
// fail to encode.
func mustJSON(v interface{}) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func parseTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
