package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// SaveTransaction inserts a bank transaction. Transactions are immutable;
// re-saving an existing id is rejected by the primary key.
func (s *Storage) SaveTransaction(t *model.Transaction) error {
	_, err := s.db.Exec(`
		INSERT INTO transactions
		(id, tenant_id, date, amount, currency, counterparty_text, reference_code, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.Date, t.Amount, t.Currency,
		t.CounterpartyText, t.ReferenceCode, string(t.Status), t.CreatedAt,
	)
	return err
}

// GetTransaction retrieves one transaction, tenant-scoped.
func (s *Storage) GetTransaction(tenantID, id string) (*model.Transaction, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, date, amount, currency, counterparty_text, reference_code, status, created_at
		FROM transactions WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanTransaction(row)
}

// ListUnmatchedTransactions returns the tenant's unmatched transactions in
// one currency, oldest first.
func (s *Storage) ListUnmatchedTransactions(tenantID, currency string) ([]model.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, date, amount, currency, counterparty_text, reference_code, status, created_at
		FROM transactions
		WHERE tenant_id = ? AND currency = ? AND status = 'unmatched'
		ORDER BY date ASC`, tenantID, currency)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SetTransactionStatus updates only the status; the record itself stays
// immutable.
func (s *Storage) SetTransactionStatus(tenantID, id string, status model.TransactionStatus) error {
	res, err := s.db.Exec(`
		UPDATE transactions SET status = ? WHERE tenant_id = ? AND id = ?`,
		string(status), tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var t model.Transaction
	var status, date, created string
	err := row.Scan(&t.ID, &t.TenantID, &date, &t.Amount, &t.Currency,
		&t.CounterpartyText, &t.ReferenceCode, &status, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Status = model.TransactionStatus(status)
	t.Date = parseTime(date)
	t.CreatedAt = parseTime(created)
	return &t, nil
}

// SaveInvoice inserts an invoice.
func (s *Storage) SaveInvoice(inv *model.Invoice) error {
	_, err := s.db.Exec(`
		INSERT INTO invoices
		(id, tenant_id, vendor_id, vendor_name, vendor_aliases, invoice_number,
		 reference_code, description, due_date, amount_due, currency, status, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.TenantID, inv.VendorID, inv.VendorName, mustJSON(inv.VendorAliases),
		inv.InvoiceNumber, inv.ReferenceCode, inv.Description, inv.DueDate,
		inv.AmountDue, inv.Currency, string(inv.Status), inv.Version, inv.CreatedAt,
	)
	return err
}

// GetInvoice retrieves one invoice, tenant-scoped.
func (s *Storage) GetInvoice(tenantID, id string) (*model.Invoice, error) {
	row := s.db.QueryRow(invoiceSelect+` WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanInvoice(row)
}

// ListOpenInvoices returns the tenant's settleable invoices in one
// currency: open, partially paid or overdue, balance above zero.
func (s *Storage) ListOpenInvoices(tenantID, currency string) ([]model.Invoice, error) {
	rows, err := s.db.Query(invoiceSelect+`
		WHERE tenant_id = ? AND currency = ? AND amount_due > 0
		  AND status IN ('open', 'partially_paid', 'overdue')
		ORDER BY due_date ASC`, tenantID, currency)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

const invoiceSelect = `
	SELECT id, tenant_id, vendor_id, vendor_name, vendor_aliases, invoice_number,
	       reference_code, description, due_date, amount_due, currency, status, version, created_at
	FROM invoices`

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var inv model.Invoice
	var aliases, status, due, created string
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.VendorID, &inv.VendorName, &aliases,
		&inv.InvoiceNumber, &inv.ReferenceCode, &inv.Description, &due,
		&inv.AmountDue, &inv.Currency, &status, &inv.Version, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(aliases), &inv.VendorAliases)
	inv.Status = model.InvoiceStatus(status)
	inv.DueDate = parseTime(due)
	inv.CreatedAt = parseTime(created)
	return &inv, nil
}

// ApplyMatch performs the one serialized unit of work in the system:
// decrement each invoice's balance, mark the transactions matched, append
// the paired ledger entry and any unapplied credit. All inside one
// database transaction; a version mismatch on any invoice rolls the whole
// thing back with *model.PersistenceConflict so nothing is ever partially
// applied.
func (s *Storage) ApplyMatch(args ApplyMatchArgs) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, app := range args.Applications {
		if app.NewAmountDue < 0 {
			return &model.ValidationError{Field: "amount_due", Reason: "balance would go negative"}
		}
		res, err := tx.Exec(`
			UPDATE invoices
			SET amount_due = ?, status = ?, version = version + 1
			WHERE tenant_id = ? AND id = ? AND version = ?`,
			app.NewAmountDue, string(app.NewStatus),
			args.TenantID, app.InvoiceID, app.InvoiceVersion,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &model.PersistenceConflict{Entity: "invoice", ID: app.InvoiceID}
		}
	}

	for _, txID := range args.TransactionIDs {
		res, err := tx.Exec(`
			UPDATE transactions SET status = 'matched'
			WHERE tenant_id = ? AND id = ? AND status = 'unmatched'`,
			args.TenantID, txID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &model.PersistenceConflict{Entity: "transaction", ID: txID}
		}
	}

	if args.Entry != nil {
		if err := appendEntryTx(tx, args.Entry); err != nil {
			return err
		}
	}

	if args.Credit != nil {
		if _, err := tx.Exec(`
			INSERT INTO unapplied_credits (id, tenant_id, transaction_id, vendor_id, amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			args.Credit.ID, args.Credit.TenantID, args.Credit.TransactionID,
			args.Credit.VendorID, args.Credit.Amount, args.Credit.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
