/*
Package sqlite provides the SQLite-backed implementation of the billing
storage interfaces.

PURPOSE:
  Implements billing.TxStore using SQLite. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  service_provisions: Commercial terms, one row per Start
  operations:         Append-only lifecycle event log
  invoices:           One row per (client, year, month)
  invoice_items:      Billed intervals, owned by their invoice

INVARIANT-BACKING INDEXES:
  - idx_operations_unique_day: unique (client, service, date); backstop
    for the monotonic-date invariant under concurrent appends
  - idx_invoices_client_period: unique (client, year, month); at most one
    invoice per client per period
  - idx_operations_provision_date: ordering index for the pairing fold

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time.

USAGE:
  store, err := sqlite.New("./data/invoicing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/invoicing-engine/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS service_provisions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price_per_day TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_provisions_client_service
		ON service_provisions(client_id, service_id, id DESC);

	-- Operations (append-only lifecycle log)
	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		provision_id TEXT NOT NULL REFERENCES service_provisions(id),
		client_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		date TEXT NOT NULL,
		op_type TEXT NOT NULL
	);

	-- Backstop for the monotonic-date invariant: two appends for the same
	-- pair can never land on the same date, whatever the interleaving.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_unique_day
		ON operations(client_id, service_id, date);

	CREATE INDEX IF NOT EXISTS idx_operations_provision_date
		ON operations(provision_id, date);
	CREATE INDEX IF NOT EXISTS idx_operations_client_service_date
		ON operations(client_id, service_id, date DESC);
	CREATE INDEX IF NOT EXISTS idx_operations_date
		ON operations(date);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- At most one invoice per (client, year, month).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_client_period
		ON invoices(client_id, year, month);
	CREATE INDEX IF NOT EXISTS idx_invoices_period
		ON invoices(year, month, client_id);

	CREATE TABLE IF NOT EXISTS invoice_items (
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		position INTEGER NOT NULL,
		service_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		value TEXT NOT NULL,
		is_suspended BOOLEAN NOT NULL,
		PRIMARY KEY (invoice_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// OPERATION STORE (billing.OperationStore interface)
// =============================================================================

// AppendOperation adds an operation to the log.
func (s *Store) AppendOperation(ctx context.Context, op billing.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendOperation(ctx, s.db, op)
}

func appendOperation(ctx context.Context, db execer, op billing.Operation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO operations (id, provision_id, client_id, service_id, date, op_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.ProvisionID, op.ClientID, op.ServiceID, op.Date.String(), op.Type,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateOperationDate
		}
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

// CreateProvision inserts a new provision row. Provisions are never updated.
func (s *Store) CreateProvision(ctx context.Context, p billing.ServiceProvision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createProvision(ctx, s.db, p)
}

func createProvision(ctx context.Context, db execer, p billing.ServiceProvision) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO service_provisions (id, client_id, service_id, quantity, price_per_day, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.ClientID, p.ServiceID, p.Quantity,
		p.PricePerDay.String(), p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create provision: %w", err)
	}
	return nil
}

// LastOperation returns the most recent operation for the pair, or nil.
func (s *Store) LastOperation(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOperation(ctx, clientID, serviceID)
}

func (s *Store) lastOperation(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.Operation, error) {
	ops, err := s.queryOperations(ctx, `
		SELECT id, provision_id, client_id, service_id, date, op_type
		FROM operations
		WHERE client_id = ? AND service_id = ?
		ORDER BY date DESC, id DESC
		LIMIT 1`, clientID, serviceID)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return &ops[0], nil
}

// OpenProvision returns the latest provision for the pair, or nil.
// ULID primary keys sort by creation time, so MAX(id) is the newest row.
func (s *Store) OpenProvision(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.ServiceProvision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openProvision(ctx, clientID, serviceID)
}

func (s *Store) openProvision(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.ServiceProvision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, service_id, quantity, price_per_day, created_at
		FROM service_provisions
		WHERE client_id = ? AND service_id = ?
		ORDER BY id DESC
		LIMIT 1`, clientID, serviceID)

	p, err := scanProvision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListOperations returns the history for a client, optionally narrowed to
// one service, ordered by (date, id).
func (s *Store) ListOperations(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) ([]billing.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOperations(ctx, clientID, serviceID)
}

func (s *Store) listOperations(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) ([]billing.Operation, error) {
	if serviceID != "" {
		return s.queryOperations(ctx, `
			SELECT id, provision_id, client_id, service_id, date, op_type
			FROM operations
			WHERE client_id = ? AND service_id = ?
			ORDER BY date ASC, id ASC`, clientID, serviceID)
	}
	return s.queryOperations(ctx, `
		SELECT id, provision_id, client_id, service_id, date, op_type
		FROM operations
		WHERE client_id = ?
		ORDER BY service_id ASC, date ASC, id ASC`, clientID)
}

// OperationsInPeriod returns every operation dated in the period, ordered
// deterministically for grouping.
func (s *Store) OperationsInPeriod(ctx context.Context, period billing.Period) ([]billing.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operationsInPeriod(ctx, period)
}

func (s *Store) operationsInPeriod(ctx context.Context, period billing.Period) ([]billing.Operation, error) {
	return s.queryOperations(ctx, `
		SELECT id, provision_id, client_id, service_id, date, op_type
		FROM operations
		WHERE date >= ? AND date <= ?
		ORDER BY client_id ASC, service_id ASC, date ASC, id ASC`,
		period.Start().String(), period.End().String())
}

// ProvisionsByID resolves a set of provision ids.
func (s *Store) ProvisionsByID(ctx context.Context, ids []billing.ProvisionID) (map[billing.ProvisionID]billing.ServiceProvision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provisionsByID(ctx, ids)
}

func (s *Store) provisionsByID(ctx context.Context, ids []billing.ProvisionID) (map[billing.ProvisionID]billing.ServiceProvision, error) {
	result := make(map[billing.ProvisionID]billing.ServiceProvision, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, service_id, quantity, price_per_day, created_at
		FROM service_provisions
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query provisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProvision(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) queryOperations(ctx context.Context, query string, args ...any) ([]billing.Operation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []billing.Operation
	for rows.Next() {
		var (
			op      billing.Operation
			dateStr string
		)
		if err := rows.Scan(&op.ID, &op.ProvisionID, &op.ClientID, &op.ServiceID, &dateStr, &op.Type); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Date, err = billing.ParseDate(dateStr)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanProvision(row rowScanner) (billing.ServiceProvision, error) {
	var (
		p         billing.ServiceProvision
		price     string
		createdAt string
	)
	err := row.Scan(&p.ID, &p.ClientID, &p.ServiceID, &p.Quantity, &price, &createdAt)
	if err != nil {
		return p, err
	}
	p.PricePerDay, err = decimal.NewFromString(price)
	if err != nil {
		return p, fmt.Errorf("failed to parse provision price: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return p, nil
}

// =============================================================================
// INVOICE STORE (billing.InvoiceStore interface)
// =============================================================================

// CreateInvoice inserts an invoice and all its items atomically.
func (s *Store) CreateInvoice(ctx context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := createInvoice(ctx, sqlTx, inv); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func createInvoice(ctx context.Context, db execer, inv billing.Invoice) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO invoices (id, client_id, year, month, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		inv.ID, inv.ClientID, inv.Year, int(inv.Month),
		inv.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("invoice already exists for %s %04d-%02d: %w",
				inv.ClientID, inv.Year, int(inv.Month), billing.ErrPersistence)
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	for i, item := range inv.Items {
		_, err := db.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, position, service_id, start_date, end_date, value, is_suspended)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, i, item.ServiceID,
			item.StartDate.String(), item.EndDate.String(),
			item.Value.String(), item.IsSuspended,
		)
		if err != nil {
			return fmt.Errorf("failed to create invoice item: %w", err)
		}
	}
	return nil
}

// GetInvoice returns the invoice for (client, year, month), or nil.
func (s *Store) GetInvoice(ctx context.Context, clientID billing.ClientID, period billing.Period) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getInvoice(ctx, clientID, period)
}

func (s *Store) getInvoice(ctx context.Context, clientID billing.ClientID, period billing.Period) (*billing.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, year, month, created_at
		FROM invoices
		WHERE client_id = ? AND year = ? AND month = ?`,
		clientID, period.Year, int(period.Month))

	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	inv.Items, err = s.loadItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInvoices returns a filtered page ordered by (year, month, client).
func (s *Store) ListInvoices(ctx context.Context, filter billing.InvoiceFilter, page, pageSize int) (billing.InvoicePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listInvoices(ctx, filter, page, pageSize)
}

func (s *Store) listInvoices(ctx context.Context, filter billing.InvoiceFilter, page, pageSize int) (billing.InvoicePage, error) {
	where, args := buildInvoiceFilter(filter)

	result := billing.InvoicePage{Page: page, PageSize: pageSize}
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM invoices"+where, args...,
	).Scan(&result.TotalCount)
	if err != nil {
		return result, fmt.Errorf("failed to count invoices: %w", err)
	}

	query := `
		SELECT id, client_id, year, month, created_at
		FROM invoices` + where + `
		ORDER BY year ASC, month ASC, client_id ASC
		LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return result, err
		}
		result.Invoices = append(result.Invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return result, err
	}

	for i := range result.Invoices {
		result.Invoices[i].Items, err = s.loadItems(ctx, result.Invoices[i].ID)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func buildInvoiceFilter(filter billing.InvoiceFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.ClientID != nil {
		clauses = append(clauses, "client_id = ?")
		args = append(args, *filter.ClientID)
	}
	if filter.Year != nil {
		clauses = append(clauses, "year = ?")
		args = append(args, *filter.Year)
	}
	if filter.Month != nil {
		clauses = append(clauses, "month = ?")
		args = append(args, int(*filter.Month))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanInvoice(row rowScanner) (billing.Invoice, error) {
	var (
		inv       billing.Invoice
		month     int
		createdAt string
	)
	err := row.Scan(&inv.ID, &inv.ClientID, &inv.Year, &month, &createdAt)
	if err != nil {
		return inv, err
	}
	inv.Month = time.Month(month)
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return inv, nil
}

func (s *Store) loadItems(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.InvoiceItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_id, start_date, end_date, value, is_suspended
		FROM invoice_items
		WHERE invoice_id = ?
		ORDER BY position ASC`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	var items []billing.InvoiceItem
	for rows.Next() {
		var (
			item       billing.InvoiceItem
			start, end string
			value      string
		)
		if err := rows.Scan(&item.ServiceID, &start, &end, &value, &item.IsSuspended); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		if item.StartDate, err = billing.ParseDate(start); err != nil {
			return nil, err
		}
		if item.EndDate, err = billing.ParseDate(end); err != nil {
			return nil, err
		}
		if item.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("failed to parse item value: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes writes through the open transaction. Reads go through the
// parent connection; the engine's write paths never read back rows they
// wrote in the same transaction.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) AppendOperation(ctx context.Context, op billing.Operation) error {
	return appendOperation(ctx, ts.tx, op)
}

func (ts *txStore) CreateProvision(ctx context.Context, p billing.ServiceProvision) error {
	return createProvision(ctx, ts.tx, p)
}

func (ts *txStore) CreateInvoice(ctx context.Context, inv billing.Invoice) error {
	return createInvoice(ctx, ts.tx, inv)
}

func (ts *txStore) LastOperation(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.Operation, error) {
	return ts.parent.lastOperation(ctx, clientID, serviceID)
}

func (ts *txStore) OpenProvision(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.ServiceProvision, error) {
	return ts.parent.openProvision(ctx, clientID, serviceID)
}

func (ts *txStore) ListOperations(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) ([]billing.Operation, error) {
	return ts.parent.listOperations(ctx, clientID, serviceID)
}

func (ts *txStore) OperationsInPeriod(ctx context.Context, period billing.Period) ([]billing.Operation, error) {
	return ts.parent.operationsInPeriod(ctx, period)
}

func (ts *txStore) ProvisionsByID(ctx context.Context, ids []billing.ProvisionID) (map[billing.ProvisionID]billing.ServiceProvision, error) {
	return ts.parent.provisionsByID(ctx, ids)
}

func (ts *txStore) GetInvoice(ctx context.Context, clientID billing.ClientID, period billing.Period) (*billing.Invoice, error) {
	return ts.parent.getInvoice(ctx, clientID, period)
}

func (ts *txStore) ListInvoices(ctx context.Context, filter billing.InvoiceFilter, page, pageSize int) (billing.InvoicePage, error) {
	return ts.parent.listInvoices(ctx, filter, page, pageSize)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
