package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/evenstad/reconcile-backend/internal/domain/learning"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// SavePattern inserts a new learned pattern.
func (s *Storage) SavePattern(p *model.LearnedPattern) error {
	_, err := s.db.Exec(`
		INSERT INTO learned_patterns
		(id, signature_key, vendor_id, keyword, amount_bracket, account, vat_code,
		 success_rate, scope_json, times_applied, active, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, learning.SignatureKey(p.Trigger),
		p.Trigger.VendorID, p.Trigger.Keyword, p.Trigger.AmountBracket,
		p.Action.Account, p.Action.VATCode, p.SuccessRate, mustJSON(p.Scope),
		p.TimesApplied, p.Active, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// UpdatePattern writes pattern state under optimistic concurrency; a
// moved version returns *model.PersistenceConflict.
func (s *Storage) UpdatePattern(p *model.LearnedPattern) error {
	res, err := s.db.Exec(`
		UPDATE learned_patterns
		SET account = ?, vat_code = ?, success_rate = ?, scope_json = ?,
		    times_applied = ?, active = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Action.Account, p.Action.VATCode, p.SuccessRate, mustJSON(p.Scope),
		p.TimesApplied, p.Active, p.UpdatedAt, p.ID, p.Version,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.PersistenceConflict{Entity: "learned_pattern", ID: p.ID}
	}
	p.Version++
	return nil
}

// GetPattern retrieves one pattern by id.
func (s *Storage) GetPattern(id string) (*model.LearnedPattern, error) {
	row := s.db.QueryRow(patternSelect+` WHERE id = ?`, id)
	return scanPattern(row)
}

// FindPatternByTrigger retrieves the pattern for a trigger signature, or
// nil.
func (s *Storage) FindPatternByTrigger(t model.PatternTrigger) (*model.LearnedPattern, error) {
	row := s.db.QueryRow(patternSelect+` WHERE signature_key = ?`, learning.SignatureKey(t))
	return scanPattern(row)
}

// ActivePatternsForTenant returns the active patterns whose scope includes
// the tenant. Scope filtering happens in Go after a coarse SQL prefilter;
// scope sets are small and the JSON LIKE keeps the scan cheap.
func (s *Storage) ActivePatternsForTenant(tenantID string) ([]model.LearnedPattern, error) {
	rows, err := s.db.Query(patternSelect+`
		WHERE active = 1 AND scope_json LIKE '%' || ? || '%'`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.LearnedPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		if p.InScope(tenantID) {
			out = append(out, *p)
		}
	}
	return out, rows.Err()
}

const patternSelect = `
	SELECT id, vendor_id, keyword, amount_bracket, account, vat_code,
	       success_rate, scope_json, times_applied, active, version, created_at, updated_at
	FROM learned_patterns`

func scanPattern(row rowScanner) (*model.LearnedPattern, error) {
	var p model.LearnedPattern
	var scopeJSON, created, updated string
	err := row.Scan(&p.ID, &p.Trigger.VendorID, &p.Trigger.Keyword, &p.Trigger.AmountBracket,
		&p.Action.Account, &p.Action.VATCode, &p.SuccessRate, &scopeJSON,
		&p.TimesApplied, &p.Active, &p.Version, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(scopeJSON), &p.Scope)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// AppendCorrection stores one human correction.
func (s *Storage) AppendCorrection(c learning.Correction) error {
	_, err := s.db.Exec(`
		INSERT INTO corrections
		(id, tenant_id, signature_key, trigger_json, suggested_json, corrected_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.SignatureKey, mustJSON(c.Trigger),
		mustJSON(c.Suggested), mustJSON(c.Corrected), c.CreatedAt,
	)
	return err
}

// RecentCorrections returns a signature's corrections newest first.
func (s *Storage) RecentCorrections(signatureKey string, limit int) ([]learning.Correction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, tenant_id, signature_key, trigger_json, suggested_json, corrected_json, created_at
		FROM corrections
		WHERE signature_key = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, signatureKey, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []learning.Correction
	for rows.Next() {
		var c learning.Correction
		var triggerJSON, suggestedJSON, correctedJSON, created string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SignatureKey,
			&triggerJSON, &suggestedJSON, &correctedJSON, &created); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(triggerJSON), &c.Trigger)
		_ = json.Unmarshal([]byte(suggestedJSON), &c.Suggested)
		_ = json.Unmarshal([]byte(correctedJSON), &c.Corrected)
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}
