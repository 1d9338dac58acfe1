package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// AppendEntry appends a posting. The table has no update path; entries
// are only ever reversed by later entries.
func (s *Storage) AppendEntry(e *model.LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := appendEntryTx(tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func appendEntryTx(tx *sql.Tx, e *model.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries
		(id, tenant_id, lines_json, source_type, source_id, reverses_entry_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, mustJSON(e.Lines), string(e.SourceType),
		e.SourceID, e.ReversesEntryID, e.CreatedAt,
	)
	return err
}

// GetEntry retrieves one posting.
func (s *Storage) GetEntry(id string) (*model.LedgerEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, lines_json, source_type, source_id, reverses_entry_id, created_at
		FROM ledger_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// ListEntries returns a tenant's postings, newest first.
func (s *Storage) ListEntries(tenantID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, tenant_id, lines_json, source_type, source_id, reverses_entry_id, created_at
		FROM ledger_entries WHERE tenant_id = ?
		ORDER BY created_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var linesJSON, sourceType, created string
	err := row.Scan(&e.ID, &e.TenantID, &linesJSON, &sourceType,
		&e.SourceID, &e.ReversesEntryID, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(linesJSON), &e.Lines)
	e.SourceType = model.LedgerSource(sourceType)
	e.CreatedAt = parseTime(created)
	return &e, nil
}
