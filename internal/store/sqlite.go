package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"path"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore persists state in a SQLite database
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens the database at dsn, applies connection settings and runs
// pending migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(dsn string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithComponent("store")
	log.WithField("path", dsn).Debug("Opening database")

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Every connection to ":memory:" is a separate database
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}

	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("path", dsn).Info("Database opened successfully")
	return NewSQLiteStore(db, log), nil
}

// NewSQLiteStore wraps an already migrated database handle
func NewSQLiteStore(db *sql.DB, log logger.Logger) *SQLiteStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SQLiteStore{db: db, logger: log}
}

// Migrate applies the embedded migrations that have not run yet, in file
// name order. 000 creates the bookkeeping table and records itself.
func Migrate(db *sql.DB, log logger.Logger) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		version := strings.SplitN(filename, "_", 2)[0]

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil && version != "000" {
			return errors.Wrapf(err, "schema_migrations table missing before %s", filename)
		}
		if err == nil && exists {
			log.WithField("migration", filename).Debug("Skipping migration (already applied)")
			continue
		}

		body, err := migrations.ReadFile(path.Join("migrations", filename))
		if err != nil {
			return errors.Wrapf(err, "read %s", filename)
		}

		log.WithField("migration", filename).Info("Applying migration")

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", filename)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute %s", filename)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record %s", filename)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", filename)
		}
	}

	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const invoiceColumns = `id, invoice_number, po_reference, vendor_name, total_amount, currency,
	line_items, raw_text, status, exception_reason, audit_trail, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var (
		inv       models.Invoice
		lineItems string
		status    string
	)
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.POReference, &inv.VendorName, &inv.TotalAmount,
		&inv.Currency, &lineItems, &inv.RawText, &status, &inv.ExceptionReason, &inv.AuditTrail,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(lineItems), &inv.LineItems); err != nil {
		return nil, errors.Wrapf(err, "decode line items of invoice %s", inv.ID)
	}
	inv.Status = models.InvoiceStatus(status)
	return &inv, nil
}

func (s *SQLiteStore) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return errors.Wrap(err, "encode line items")
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.InvoiceNumber, inv.POReference, inv.VendorName, inv.TotalAmount.String(), inv.Currency,
		string(lineItems), inv.RawText, string(inv.Status), inv.ExceptionReason, inv.AuditTrail,
		inv.CreatedAt, inv.UpdatedAt)
	return errors.Wrapf(err, "insert invoice %s", inv.ID)
}

func (s *SQLiteStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "invoice %s", id)
	}
	return inv, errors.Wrapf(err, "query invoice %s", id)
}

func (s *SQLiteStore) UpdateInvoice(ctx context.Context, inv *models.Invoice) error {
	res, err := s.db.ExecContext(ctx, `UPDATE invoices
		SET status = ?, exception_reason = ?, audit_trail = ?, updated_at = ?
		WHERE id = ?`,
		string(inv.Status), inv.ExceptionReason, inv.AuditTrail, inv.UpdatedAt, inv.ID)
	if err != nil {
		return errors.Wrapf(err, "update invoice %s", inv.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "invoice %s", inv.ID)
	}
	return nil
}

func (s *SQLiteStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	var (
		where []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Vendor != "" {
		where = append(where, "lower(trim(vendor_name)) = lower(trim(?))")
		args = append(args, filter.Vendor)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryInvoices(ctx, query, args...)
}

func (s *SQLiteStore) FindInvoicesByNumber(ctx context.Context, vendor, number string) ([]*models.Invoice, error) {
	return s.queryInvoices(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE lower(trim(vendor_name)) = lower(trim(?)) AND lower(trim(invoice_number)) = lower(trim(?))
		ORDER BY created_at, id`, vendor, number)
}

func (s *SQLiteStore) queryInvoices(ctx context.Context, query string, args ...interface{}) ([]*models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query invoices")
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan invoice")
		}
		out = append(out, inv)
	}
	return out, errors.Wrap(rows.Err(), "iterate invoices")
}

func (s *SQLiteStore) GetPOHeader(ctx context.Context, poNumber string) (*models.PurchaseOrderHeader, error) {
	var h models.PurchaseOrderHeader
	err := s.db.QueryRowContext(ctx,
		`SELECT po_number, vendor_id, currency FROM po_headers WHERE po_number = ?`, poNumber).
		Scan(&h.PONumber, &h.VendorID, &h.Currency)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "purchase order %s", poNumber)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query purchase order %s", poNumber)
	}
	return &h, nil
}

func (s *SQLiteStore) GetPOLines(ctx context.Context, poNumber string) ([]*models.PurchaseOrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT po_number, line_number, material, ordered_quantity, unit_price
		FROM po_lines WHERE po_number = ? ORDER BY line_number`, poNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "query lines of %s", poNumber)
	}
	defer rows.Close()

	var out []*models.PurchaseOrderLine
	for rows.Next() {
		var l models.PurchaseOrderLine
		if err := rows.Scan(&l.PONumber, &l.LineNumber, &l.Material, &l.OrderedQuantity, &l.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "scan purchase order line")
		}
		out = append(out, &l)
	}
	return out, errors.Wrap(rows.Err(), "iterate purchase order lines")
}

func (s *SQLiteStore) GetReceipts(ctx context.Context, poNumber string) ([]*models.GoodsReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT po_number, line_number, received_quantity, movement_at
		FROM goods_receipts WHERE po_number = ? ORDER BY id`, poNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "query receipts of %s", poNumber)
	}
	defer rows.Close()

	var out []*models.GoodsReceipt
	for rows.Next() {
		var (
			r  models.GoodsReceipt
			at sql.NullTime
		)
		if err := rows.Scan(&r.PONumber, &r.LineNumber, &r.ReceivedQuantity, &at); err != nil {
			return nil, errors.Wrap(err, "scan goods receipt")
		}
		r.MovementAt = at.Time
		out = append(out, &r)
	}
	return out, errors.Wrap(rows.Err(), "iterate goods receipts")
}

// inTx runs fn inside a transaction, rolling back on error
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func (s *SQLiteStore) SavePOHeaders(ctx context.Context, headers []*models.PurchaseOrderHeader) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, h := range headers {
			_, err := tx.ExecContext(ctx, `INSERT INTO po_headers (po_number, vendor_id, currency) VALUES (?, ?, ?)
				ON CONFLICT(po_number) DO UPDATE SET vendor_id = excluded.vendor_id, currency = excluded.currency`,
				h.PONumber, h.VendorID, h.Currency)
			if err != nil {
				return errors.Wrapf(err, "save purchase order %s", h.PONumber)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SavePOLines(ctx context.Context, lines []*models.PurchaseOrderLine) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, l := range lines {
			_, err := tx.ExecContext(ctx, `INSERT INTO po_lines (po_number, line_number, material, ordered_quantity, unit_price)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(po_number, line_number) DO UPDATE SET material = excluded.material,
					ordered_quantity = excluded.ordered_quantity, unit_price = excluded.unit_price`,
				l.PONumber, l.LineNumber, l.Material, l.OrderedQuantity.String(), l.UnitPrice.String())
			if err != nil {
				return errors.Wrapf(err, "save line %d of %s", l.LineNumber, l.PONumber)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) AddReceipts(ctx context.Context, receipts []*models.GoodsReceipt) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range receipts {
			_, err := tx.ExecContext(ctx, `INSERT INTO goods_receipts (po_number, line_number, received_quantity, movement_at)
				VALUES (?, ?, ?, ?)`,
				r.PONumber, r.LineNumber, r.ReceivedQuantity.String(), r.MovementAt)
			if err != nil {
				return errors.Wrapf(err, "add receipt for line %d of %s", r.LineNumber, r.PONumber)
			}
		}
		return nil
	})
}

const ruleColumns = `id, name, field, operator, value, action, active, created_at`

func scanRule(row rowScanner) (*models.ValidatorRule, error) {
	var (
		r                        models.ValidatorRule
		field, operator, action string
	)
	if err := row.Scan(&r.ID, &r.Name, &field, &operator, &r.Value, &action, &r.Active, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Field = models.RuleField(field)
	r.Operator = models.RuleOperator(operator)
	r.Action = models.RuleAction(action)
	return &r, nil
}

func (s *SQLiteStore) CreateRule(ctx context.Context, rule *models.ValidatorRule) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO validator_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, string(rule.Field), string(rule.Operator), rule.Value, string(rule.Action),
		rule.Active, rule.CreatedAt)
	return errors.Wrapf(err, "insert rule %s", rule.ID)
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*models.ValidatorRule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM validator_rules WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "rule %s", id)
	}
	return rule, errors.Wrapf(err, "query rule %s", id)
}

func (s *SQLiteStore) ListRules(ctx context.Context, activeOnly bool) ([]*models.ValidatorRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM validator_rules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "query rules")
	}
	defer rows.Close()

	var out []*models.ValidatorRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan rule")
		}
		out = append(out, rule)
	}
	return out, errors.Wrap(rows.Err(), "iterate rules")
}

func (s *SQLiteStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE validator_rules SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return errors.Wrapf(err, "update rule %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "rule %s", id)
	}
	return nil
}

func (s *SQLiteStore) AddLearningExample(ctx context.Context, ex *models.LearningExample) error {
	var variance interface{}
	if ex.Variance.Valid {
		variance = ex.Variance.Decimal.String()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO learning_examples
		(id, invoice_id, vendor_name, scenario, rationale, expected_status, field, variance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.InvoiceID, ex.VendorName, ex.Scenario, ex.Rationale, string(ex.ExpectedStatus),
		string(ex.Field), variance, ex.CreatedAt)
	return errors.Wrapf(err, "insert learning example %s", ex.ID)
}

func (s *SQLiteStore) ListLearningExamples(ctx context.Context, vendor string) ([]*models.LearningExample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, invoice_id, vendor_name, scenario, rationale,
		expected_status, field, variance, created_at
		FROM learning_examples WHERE lower(trim(vendor_name)) = lower(trim(?))
		ORDER BY created_at, id`, vendor)
	if err != nil {
		return nil, errors.Wrapf(err, "query learning examples of %s", vendor)
	}
	defer rows.Close()

	var out []*models.LearningExample
	for rows.Next() {
		var (
			ex            models.LearningExample
			status, field string
		)
		err := rows.Scan(&ex.ID, &ex.InvoiceID, &ex.VendorName, &ex.Scenario, &ex.Rationale,
			&status, &field, &ex.Variance, &ex.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scan learning example")
		}
		ex.ExpectedStatus = models.InvoiceStatus(status)
		ex.Field = models.VarianceField(field)
		out = append(out, &ex)
	}
	return out, errors.Wrap(rows.Err(), "iterate learning examples")
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
