package storage

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database schema migration.
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order.
var allMigrations = []Migration{
	{Version: 1, Name: "core_tables", Up: migration001CoreTables},
	{Version: 2, Name: "review_queue", Up: migration002ReviewQueue},
	{Version: 3, Name: "learning_tables", Up: migration003LearningTables},
	{Version: 4, Name: "ledger_and_audit", Up: migration004LedgerAndAudit},
	{Version: 5, Name: "exceptions_and_credits", Up: migration005ExceptionsAndCredits},
	{Version: 6, Name: "suggestion_candidates", Up: migration006SuggestionCandidates},
}

// runMigrations executes all pending migrations.
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}
		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			migration.Version, migration.Name,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

func (s *Storage) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func migration001CoreTables(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE transactions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		date TIMESTAMP NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		counterparty_text TEXT NOT NULL DEFAULT '',
		reference_code TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'unmatched',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_transactions_tenant_status ON transactions(tenant_id, status);

	CREATE TABLE invoices (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		vendor_name TEXT NOT NULL DEFAULT '',
		vendor_aliases TEXT NOT NULL DEFAULT '[]',
		invoice_number TEXT NOT NULL DEFAULT '',
		reference_code TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		due_date TIMESTAMP NOT NULL,
		amount_due INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_invoices_tenant_status ON invoices(tenant_id, status);

	CREATE TABLE suggestions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		proposed_account TEXT NOT NULL DEFAULT '',
		proposed_vat_code TEXT NOT NULL DEFAULT '',
		confidence INTEGER NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		pattern_id TEXT NOT NULL DEFAULT '',
		signals_json TEXT NOT NULL DEFAULT '{}',
		candidate_json TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_suggestions_subject ON suggestions(tenant_id, subject_id);
	`)
	return err
}

func migration002ReviewQueue(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE review_queue_items (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_vendor_id TEXT NOT NULL DEFAULT '',
		subject_description TEXT NOT NULL DEFAULT '',
		subject_amount INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		due_date TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'pending',
		suggestion_json TEXT NOT NULL,
		resolution_json TEXT NOT NULL DEFAULT '',
		applies_to_similar INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_review_queue_tenant_status ON review_queue_items(tenant_id, status);
	`)
	return err
}

func migration003LearningTables(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE learned_patterns (
		id TEXT PRIMARY KEY,
		signature_key TEXT NOT NULL UNIQUE,
		vendor_id TEXT NOT NULL,
		keyword TEXT NOT NULL,
		amount_bracket TEXT NOT NULL,
		account TEXT NOT NULL,
		vat_code TEXT NOT NULL DEFAULT '',
		success_rate REAL NOT NULL,
		scope_json TEXT NOT NULL DEFAULT '[]',
		times_applied INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE corrections (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		signature_key TEXT NOT NULL,
		trigger_json TEXT NOT NULL,
		suggested_json TEXT NOT NULL,
		corrected_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_corrections_signature ON corrections(signature_key, created_at);
	`)
	return err
}

func migration004LedgerAndAudit(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE ledger_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		reverses_entry_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_ledger_tenant ON ledger_entries(tenant_id, created_at);

	CREATE TABLE decision_log (
		id TEXT PRIMARY KEY,
		ts TIMESTAMP NOT NULL,
		tenant_id TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		signals_json TEXT NOT NULL DEFAULT '{}',
		actor TEXT NOT NULL
	);
	CREATE INDEX idx_decision_log_tenant ON decision_log(tenant_id, ts);
	`)
	return err
}

func migration005ExceptionsAndCredits(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE exceptions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		reason TEXT NOT NULL,
		occurred_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_exceptions_tenant ON exceptions(tenant_id, occurred_at);

	CREATE TABLE unapplied_credits (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`)
	return err
}

func migration006SuggestionCandidates(tx *sql.Tx) error {
	// Ambiguous matches keep every tied candidate on the suggestion.
	_, err := tx.Exec(`
	ALTER TABLE suggestions ADD COLUMN candidates_json TEXT NOT NULL DEFAULT '';
	`)
	return err
}
