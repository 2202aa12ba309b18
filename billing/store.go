/*
store.go - Persistence interfaces for the invoicing engine

PURPOSE:
  Defines the boundary between the engine and the database. Two concerns:
  the append-only operation log (plus its provisions) and the write-once
  invoice aggregate.

APPEND-ONLY CONTRACT:
  Operations and invoices are never updated or deleted. Invoices are
  created in bulk by a generation run; re-running generation for an
  already-invoiced period must not touch existing rows.

ATOMICITY:
  WithTx gives all-or-nothing semantics for the two multi-write paths:
  appending a Start (provision + operation) and persisting an invoice
  with its items.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - store/memory: in-memory for tests
*/
package billing

import "context"

// OperationStore persists the operation log and its provisions.
type OperationStore interface {
	// AppendOperation persists one operation. The ONLY write to the log.
	AppendOperation(ctx context.Context, op Operation) error

	// CreateProvision persists a new provision. Provisions are never
	// updated; a re-start inserts a new row superseding the old one.
	CreateProvision(ctx context.Context, p ServiceProvision) error

	// LastOperation returns the most recent operation for the pair by
	// (date, id), or nil when the lifecycle is fresh.
	LastOperation(ctx context.Context, clientID ClientID, serviceID ServiceID) (*Operation, error)

	// OpenProvision returns the latest provision for the pair, or nil.
	OpenProvision(ctx context.Context, clientID ClientID, serviceID ServiceID) (*ServiceProvision, error)

	// ListOperations returns the full history for a pair, ordered by
	// (date, id). serviceID may be empty to list the whole client.
	ListOperations(ctx context.Context, clientID ClientID, serviceID ServiceID) ([]Operation, error)

	// OperationsInPeriod returns every operation dated in the period,
	// ordered by (client, service, date, id) for deterministic grouping.
	OperationsInPeriod(ctx context.Context, period Period) ([]Operation, error)

	// ProvisionsByID resolves the provisions referenced by a set of ids.
	ProvisionsByID(ctx context.Context, ids []ProvisionID) (map[ProvisionID]ServiceProvision, error)
}

// InvoiceStore persists generated invoices.
type InvoiceStore interface {
	// CreateInvoice persists an invoice with all its items. All items and
	// the invoice row succeed together or not at all.
	CreateInvoice(ctx context.Context, inv Invoice) error

	// GetInvoice returns the invoice for (client, year, month), or nil
	// when none exists.
	GetInvoice(ctx context.Context, clientID ClientID, period Period) (*Invoice, error)

	// ListInvoices returns a filtered page of invoices ordered by
	// (year, month, client).
	ListInvoices(ctx context.Context, filter InvoiceFilter, page, pageSize int) (InvoicePage, error)
}

// Store combines both persistence concerns.
type Store interface {
	OperationStore
	InvoiceStore
}

// TxStore adds transactional execution. If fn returns an error, every
// write made through its Store argument is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
