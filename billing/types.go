/*
Package billing provides the core invoicing engine.

PURPOSE:
  This package contains the domain model and algorithms for tracking
  service-provision lifecycles (start/suspend/resume/end) and converting
  them into monthly invoices. The invariants live here: the transition
  state machine, the strictly increasing date order per lifecycle, the
  pairing of open/close events into billed intervals, and the coverage
  check that keeps generation idempotent.

KEY CONCEPTS IN THIS FILE (types.go):
  - Operation: one lifecycle event on a (client, service) pair
  - ServiceProvision: the commercial terms in force from a Start until
    the next Start (quantity, price per day)
  - Invoice / InvoiceItem: the billed output, one invoice per
    (client, year, month), one item per open/close interval
  - PeriodReport: per-client success/failure outcome of a generation run

DESIGN PRINCIPLES:
  1. Immutability: operations and invoice items are never edited
  2. Precision: decimal.Decimal for money, no floating point
  3. Type Safety: typed string ids prevent mixing client/service ids

SEE ALSO:
  - transition.go: The lifecycle state machine
  - append.go: The validated append path
  - builder.go: Period invoice generation
*/
package billing

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type ServiceID string
type OperationID string
type ProvisionID string
type InvoiceID string

// NewID returns a new lexicographically sortable id. Operations ordered by
// (date, id) are therefore also ordered by insertion when dates tie.
func NewID() string {
	return ulid.Make().String()
}

// =============================================================================
// OPERATION - One lifecycle event
// =============================================================================

type OperationType string

const (
	OpStart   OperationType = "start"
	OpSuspend OperationType = "suspend"
	OpResume  OperationType = "resume"
	OpEnd     OperationType = "end"
)

// ParseOperationType converts a wire string to an OperationType.
func ParseOperationType(s string) (OperationType, bool) {
	switch OperationType(s) {
	case OpStart, OpSuspend, OpResume, OpEnd:
		return OperationType(s), true
	}
	return "", false
}

// IsOpening reports whether the type opens a billable interval.
func (t OperationType) IsOpening() bool { return t == OpStart || t == OpResume }

// IsClosing reports whether the type closes a billable interval.
func (t OperationType) IsClosing() bool { return t == OpSuspend || t == OpEnd }

type Operation struct {
	ID          OperationID
	ProvisionID ProvisionID
	ClientID    ClientID
	ServiceID   ServiceID
	Date        Date
	Type        OperationType
}

// =============================================================================
// SERVICE PROVISION - Commercial terms for a lease
// =============================================================================

// Bounds enforced on Start input, matching the storage precision
// (quantity fits an int, price has at most 2 fractional digits).
const (
	MinQuantity = 1
	MaxQuantity = 100_000
)

// MaxPricePerDay is the inclusive upper bound for price per day.
var MaxPricePerDay = decimal.NewFromInt(10_000)

// ServiceProvision holds the terms established at a Start event and reused
// by every subsequent event until the next Start. Never updated in place;
// a re-start after End inserts a new provision.
type ServiceProvision struct {
	ID          ProvisionID
	ClientID    ClientID
	ServiceID   ServiceID
	Quantity    int
	PricePerDay decimal.Decimal
	CreatedAt   time.Time
}

// =============================================================================
// INVOICE - One per (client, year, month)
// =============================================================================

type Invoice struct {
	ID        InvoiceID
	ClientID  ClientID
	Year      int
	Month     time.Month
	CreatedAt time.Time
	Items     []InvoiceItem
}

// InvoiceItem is one billed interval between an opening and a closing event.
// Created only by the Builder, never mutated afterwards.
type InvoiceItem struct {
	ServiceID   ServiceID
	StartDate   Date
	EndDate     Date
	Value       decimal.Decimal
	IsSuspended bool
}

// =============================================================================
// PERIOD REPORT - Outcome of a generation run
// =============================================================================

type SuccessfulInvoice struct {
	ClientID  ClientID
	InvoiceID InvoiceID
}

type FailedInvoice struct {
	ClientID ClientID
	Reason   string
}

// PeriodReport collects per-client outcomes. A client that was already fully
// invoiced for the period appears in neither list.
type PeriodReport struct {
	Successful []SuccessfulInvoice
	Failed     []FailedInvoice
}

// =============================================================================
// LISTING
// =============================================================================

// InvoiceFilter narrows a ListInvoices query. Nil fields match everything.
type InvoiceFilter struct {
	ClientID *ClientID
	Year     *int
	Month    *time.Month
}

type InvoicePage struct {
	Invoices   []Invoice
	Page       int
	PageSize   int
	TotalCount int
}
