package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// InsertItem adds a pending review queue item.
func (s *Storage) InsertItem(item *model.ReviewQueueItem) error {
	_, err := s.db.Exec(`
		INSERT INTO review_queue_items
		(id, tenant_id, subject_id, subject_type, subject_vendor_id, subject_description,
		 subject_amount, priority, due_date, status, suggestion_json, resolution_json,
		 applies_to_similar, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TenantID, item.SubjectID, string(item.SubjectType),
		item.SubjectVendorID, item.SubjectDescription, item.SubjectAmount,
		item.Priority, item.DueDate, string(item.Status), mustJSON(item.Suggestion),
		"", item.AppliesToSimilar, item.Version, item.CreatedAt,
	)
	return err
}

// GetItem retrieves one review queue item.
func (s *Storage) GetItem(id string) (*model.ReviewQueueItem, error) {
	row := s.db.QueryRow(reviewItemSelect+` WHERE id = ?`, id)
	return scanReviewItem(row)
}

// MarkInReview moves a pending item to in_review. Advisory: racing
// viewers are harmless, so no version guard here. Only the terminal
// status is protected.
func (s *Storage) MarkInReview(id string) error {
	res, err := s.db.Exec(`
		UPDATE review_queue_items SET status = 'in_review'
		WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already in_review (fine) or resolved/missing.
		item, err := s.GetItem(id)
		if err != nil {
			return err
		}
		if item == nil || item.Status == model.ReviewResolved {
			return &model.PolicyViolation{Op: "open item", Reason: "item not open for review"}
		}
	}
	return nil
}

// ResolveItem is the serialized resolving write: status and version
// guarded in one UPDATE. A terminal item is a policy violation; a moved
// version is a persistence conflict.
func (s *Storage) ResolveItem(id string, version int64, res model.Resolution) error {
	result, err := s.db.Exec(`
		UPDATE review_queue_items
		SET status = 'resolved', resolution_json = ?, version = version + 1
		WHERE id = ? AND version = ? AND status IN ('pending', 'in_review')`,
		mustJSON(res), id, version,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		item, err := s.GetItem(id)
		if err != nil {
			return err
		}
		if item == nil {
			return &model.PolicyViolation{Op: "resolve item", Reason: "item not found"}
		}
		if item.Status == model.ReviewResolved {
			return &model.PolicyViolation{Op: "resolve item", Reason: "item already resolved"}
		}
		return &model.PersistenceConflict{Entity: "review_queue_item", ID: id}
	}
	return nil
}

// RevertResolution undoes a resolving write whose follow-up posting
// failed: the item returns to the given prior status with the resolution
// cleared, guarded on the version the resolve produced. Only a resolved
// item can be reverted.
func (s *Storage) RevertResolution(id string, version int64, status model.ReviewStatus) error {
	result, err := s.db.Exec(`
		UPDATE review_queue_items
		SET status = ?, resolution_json = '', version = version + 1
		WHERE id = ? AND version = ? AND status = 'resolved'`,
		string(status), id, version,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.PersistenceConflict{Entity: "review_queue_item", ID: id}
	}
	return nil
}

// ListPending returns a tenant's pending items in working order.
func (s *Storage) ListPending(tenantID string) ([]model.ReviewQueueItem, error) {
	return s.ListItems(ReviewQueueFilters{TenantID: tenantID, Status: model.ReviewPending, Limit: 500})
}

// ListItems returns queue items ordered priority desc, due date asc,
// created asc, the order reviewers work the queue in.
func (s *Storage) ListItems(filters ReviewQueueFilters) ([]model.ReviewQueueItem, error) {
	query := reviewItemSelect + ` WHERE tenant_id = ?`
	queryArgs := []interface{}{filters.TenantID}

	if filters.Status != "" {
		query += ` AND status = ?`
		queryArgs = append(queryArgs, string(filters.Status))
	}
	if filters.MinPriority > 0 {
		query += ` AND priority >= ?`
		queryArgs = append(queryArgs, filters.MinPriority)
	}
	query += ` ORDER BY priority DESC, due_date ASC, created_at ASC LIMIT ?`
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	queryArgs = append(queryArgs, limit)

	rows, err := s.db.Query(query, queryArgs...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ReviewQueueItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// ReturnSubject puts a rejected item's subject back into circulation:
// transactions become unmatched, invoice suggestions are cleared.
func (s *Storage) ReturnSubject(item *model.ReviewQueueItem) error {
	switch item.SubjectType {
	case model.SubjectTransaction:
		return s.SetTransactionStatus(item.TenantID, item.SubjectID, model.TransactionUnmatched)
	case model.SubjectInvoice:
		_, err := s.db.Exec(`
			DELETE FROM suggestions WHERE tenant_id = ? AND subject_id = ?`,
			item.TenantID, item.SubjectID)
		return err
	}
	return fmt.Errorf("unknown subject type %q", item.SubjectType)
}

const reviewItemSelect = `
	SELECT id, tenant_id, subject_id, subject_type, subject_vendor_id,
	       subject_description, subject_amount, priority, due_date, status,
	       suggestion_json, resolution_json, applies_to_similar, version, created_at
	FROM review_queue_items`

func scanReviewItem(row rowScanner) (*model.ReviewQueueItem, error) {
	var item model.ReviewQueueItem
	var subjectType, status, suggestionJSON, resolutionJSON string
	var due, created string
	err := row.Scan(&item.ID, &item.TenantID, &item.SubjectID, &subjectType,
		&item.SubjectVendorID, &item.SubjectDescription, &item.SubjectAmount,
		&item.Priority, &due, &status, &suggestionJSON, &resolutionJSON,
		&item.AppliesToSimilar, &item.Version, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.SubjectType = model.SubjectType(subjectType)
	item.Status = model.ReviewStatus(status)
	item.DueDate = parseTime(due)
	item.CreatedAt = parseTime(created)
	_ = json.Unmarshal([]byte(suggestionJSON), &item.Suggestion)
	if resolutionJSON != "" {
		var res model.Resolution
		if json.Unmarshal([]byte(resolutionJSON), &res) == nil {
			item.Resolution = &res
		}
	}
	return &item, nil
}
