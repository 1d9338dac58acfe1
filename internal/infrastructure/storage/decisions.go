package storage

import (
	"encoding/json"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// LogDecision appends to the immutable decision log.
func (s *Storage) LogDecision(e model.DecisionEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO decision_log
		(id, ts, tenant_id, subject_type, subject_id, decision, confidence, signals_json, actor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.TenantID, string(e.SubjectType), e.SubjectID,
		e.Decision, e.Confidence, mustJSON(e.Signals), e.Actor,
	)
	return err
}

// ListDecisions returns a tenant's decision events, newest first.
func (s *Storage) ListDecisions(tenantID string, limit int) ([]model.DecisionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, ts, tenant_id, subject_type, subject_id, decision, confidence, signals_json, actor
		FROM decision_log WHERE tenant_id = ?
		ORDER BY ts DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.DecisionEvent
	for rows.Next() {
		var e model.DecisionEvent
		var ts, subjectType, signalsJSON string
		if err := rows.Scan(&e.ID, &ts, &e.TenantID, &subjectType, &e.SubjectID,
			&e.Decision, &e.Confidence, &signalsJSON, &e.Actor); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.SubjectType = model.SubjectType(subjectType)
		_ = json.Unmarshal([]byte(signalsJSON), &e.Signals)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveSuggestion stores a machine suggestion. Suggestions are regenerated
// as evidence arrives, so re-saving a subject's suggestion is normal.
func (s *Storage) SaveSuggestion(sugg *model.Suggestion) error {
	candidateJSON := ""
	if sugg.Candidate != nil {
		candidateJSON = mustJSON(sugg.Candidate)
	}
	candidatesJSON := ""
	if len(sugg.Candidates) > 0 {
		candidatesJSON = mustJSON(sugg.Candidates)
	}
	_, err := s.db.Exec(`
		INSERT INTO suggestions
		(id, tenant_id, subject_id, subject_type, proposed_account, proposed_vat_code,
		 confidence, reasoning, pattern_id, signals_json, candidate_json, candidates_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sugg.ID, sugg.TenantID, sugg.SubjectID, string(sugg.SubjectType),
		sugg.ProposedAccount, sugg.ProposedVATCode, sugg.Confidence,
		sugg.Reasoning, sugg.PatternID, mustJSON(sugg.Signals), candidateJSON,
		candidatesJSON, sugg.CreatedAt,
	)
	return err
}

// GetSuggestion retrieves one suggestion, tenant-scoped.
func (s *Storage) GetSuggestion(tenantID, id string) (*model.Suggestion, error) {
	rows, err := s.db.Query(suggestionSelect+` WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSuggestion(rows)
}

// ListSuggestionsBySubject returns a subject's suggestions, newest first.
func (s *Storage) ListSuggestionsBySubject(tenantID, subjectID string) ([]model.Suggestion, error) {
	rows, err := s.db.Query(suggestionSelect+`
		WHERE tenant_id = ? AND subject_id = ?
		ORDER BY created_at DESC`, tenantID, subjectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sg)
	}
	return out, rows.Err()
}

const suggestionSelect = `
	SELECT id, tenant_id, subject_id, subject_type, proposed_account, proposed_vat_code,
	       confidence, reasoning, pattern_id, signals_json, candidate_json, candidates_json, created_at
	FROM suggestions`

func scanSuggestion(row rowScanner) (*model.Suggestion, error) {
	var sg model.Suggestion
	var subjectType, signalsJSON, candidateJSON, candidatesJSON, created string
	if err := row.Scan(&sg.ID, &sg.TenantID, &sg.SubjectID, &subjectType,
		&sg.ProposedAccount, &sg.ProposedVATCode, &sg.Confidence,
		&sg.Reasoning, &sg.PatternID, &signalsJSON, &candidateJSON,
		&candidatesJSON, &created); err != nil {
		return nil, err
	}
	sg.SubjectType = model.SubjectType(subjectType)
	_ = json.Unmarshal([]byte(signalsJSON), &sg.Signals)
	if candidateJSON != "" {
		var c model.MatchCandidate
		if json.Unmarshal([]byte(candidateJSON), &c) == nil {
			sg.Candidate = &c
		}
	}
	if candidatesJSON != "" {
		_ = json.Unmarshal([]byte(candidatesJSON), &sg.Candidates)
	}
	sg.CreatedAt = parseTime(created)
	return &sg, nil
}

// AddException records a per-item failure for the operator exception list.
func (s *Storage) AddException(e *model.ExceptionItem) error {
	_, err := s.db.Exec(`
		INSERT INTO exceptions (id, tenant_id, subject_id, subject_type, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.SubjectID, string(e.SubjectType), e.Reason, e.OccurredAt,
	)
	return err
}

// ListExceptions returns a tenant's exceptions, newest first.
func (s *Storage) ListExceptions(tenantID string, limit int) ([]model.ExceptionItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, tenant_id, subject_id, subject_type, reason, occurred_at
		FROM exceptions WHERE tenant_id = ?
		ORDER BY occurred_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ExceptionItem
	for rows.Next() {
		var e model.ExceptionItem
		var subjectType, occurred string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SubjectID, &subjectType, &e.Reason, &occurred); err != nil {
			return nil, err
		}
		e.SubjectType = model.SubjectType(subjectType)
		e.OccurredAt = parseTime(occurred)
		out = append(out, e)
	}
	return out, rows.Err()
}
