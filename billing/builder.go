/*
builder.go - Period invoice generation

Algorithm, per client with operations in the (year, month) period:
  1. If an invoice already exists, run the coverage check: every operation
     must fall inside an existing item for its service. Fully covered means
     the run is a no-op for that client; a gap is a failure and the
     existing invoice stays untouched.
  2. Otherwise group by service; each group must end on an end operation.
  3. Fold each group into items: start/resume opens an interval,
     suspend/end closes it. value = pricePerDay * quantity * days, where
     days is the whole-day count excluding the end date.
  4. An empty item list is a failure; otherwise the invoice and its items
     are persisted atomically for that client.

Clients are independent: one client's failure never blocks another's
invoice in the same run.
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Builder turns a period's operation log into invoices.
type Builder struct {
	store TxStore
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewBuilder(store TxStore, log *zap.SugaredLogger) *Builder {
	return &Builder{store: store, log: log, now: time.Now}
}

// GenerateInvoices runs generation for every client with at least one
// operation dated in the period. The returned error is non-nil only when
// the period's operations cannot be loaded at all; per-client outcomes,
// including per-client persistence failures, land in the report.
func (b *Builder) GenerateInvoices(ctx context.Context, period Period) (PeriodReport, error) {
	var report PeriodReport

	if !period.Valid() {
		return report, ValidationErrors{
			{Field: "month", Message: "must be a calendar month between 1 and 12"},
		}
	}

	ops, err := b.store.OperationsInPeriod(ctx, period)
	if err != nil {
		return report, fmt.Errorf("%w: load operations for %s: %v", ErrPersistence, period, err)
	}

	provisions, err := b.loadProvisions(ctx, ops)
	if err != nil {
		return report, err
	}

	byClient := lo.GroupBy(ops, func(op Operation) ClientID { return op.ClientID })
	clients := lo.Keys(byClient)
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	for _, clientID := range clients {
		b.generateClient(ctx, period, clientID, byClient[clientID], provisions, &report)
	}

	b.log.Infow("invoice generation finished",
		"period", period.String(),
		"successful", len(report.Successful),
		"failed", len(report.Failed))
	return report, nil
}

func (b *Builder) loadProvisions(ctx context.Context, ops []Operation) (map[ProvisionID]ServiceProvision, error) {
	ids := lo.Uniq(lo.Map(ops, func(op Operation, _ int) ProvisionID { return op.ProvisionID }))
	provisions, err := b.store.ProvisionsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load provisions: %v", ErrPersistence, err)
	}
	return provisions, nil
}

// generateClient processes one client. ops are ordered by (service, date, id).
func (b *Builder) generateClient(
	ctx context.Context,
	period Period,
	clientID ClientID,
	ops []Operation,
	provisions map[ProvisionID]ServiceProvision,
	report *PeriodReport,
) {
	existing, err := b.store.GetInvoice(ctx, clientID, period)
	if err != nil {
		b.log.Errorw("existing invoice lookup failed", "client", clientID, "error", err)
		report.Failed = append(report.Failed, FailedInvoice{
			ClientID: clientID,
			Reason:   "could not check for an existing invoice",
		})
		return
	}
	if existing != nil {
		if !Covered(ops, existing) {
			report.Failed = append(report.Failed, FailedInvoice{
				ClientID: clientID,
				Reason:   "client has operations that are not invoiced, but an invoice already exists",
			})
		}
		// Fully covered: nothing to do, nothing to report.
		return
	}

	byService := lo.GroupBy(ops, func(op Operation) ServiceID { return op.ServiceID })
	services := lo.Keys(byService)
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })

	var items []InvoiceItem
	for _, serviceID := range services {
		serviceOps := byService[serviceID]
		serviceItems, reason := pairServiceGroup(serviceID, serviceOps, provisions)
		if reason != "" {
			// One bad service abandons the whole client; no partial invoice.
			report.Failed = append(report.Failed, FailedInvoice{ClientID: clientID, Reason: reason})
			return
		}
		items = append(items, serviceItems...)
	}

	if len(items) == 0 {
		report.Failed = append(report.Failed, FailedInvoice{
			ClientID: clientID,
			Reason:   "invoice items list is empty for this client",
		})
		return
	}

	invoice := Invoice{
		ID:        InvoiceID(NewID()),
		ClientID:  clientID,
		Year:      period.Year,
		Month:     period.Month,
		CreatedAt: b.now().UTC(),
		Items:     items,
	}

	err = b.store.WithTx(ctx, func(s Store) error {
		return s.CreateInvoice(ctx, invoice)
	})
	if err != nil {
		b.log.Errorw("invoice persist failed", "client", clientID, "error", err)
		report.Failed = append(report.Failed, FailedInvoice{
			ClientID: clientID,
			Reason:   "invoice could not be persisted",
		})
		return
	}

	report.Successful = append(report.Successful, SuccessfulInvoice{
		ClientID:  clientID,
		InvoiceID: invoice.ID,
	})
}

// pairServiceGroup folds one service's ordered operations into invoice
// items. Returns a non-empty reason when the group cannot be invoiced.
//
// The transition validator guarantees alternating open/close events, but
// the fold checks the shape anyway so a corrupted log fails loudly instead
// of producing a wrong invoice.
func pairServiceGroup(
	serviceID ServiceID,
	ops []Operation,
	provisions map[ProvisionID]ServiceProvision,
) ([]InvoiceItem, string) {
	if len(ops) == 0 {
		return nil, ""
	}

	last := ops[len(ops)-1]
	if last.Type != OpEnd {
		return nil, fmt.Sprintf(
			"the last operation for service %s is not an end service (%s on %s)",
			serviceID, last.Type, last.Date)
	}

	var items []InvoiceItem
	var opener *Operation
	for i := range ops {
		op := ops[i]
		switch {
		case op.Type.IsOpening():
			if opener != nil {
				return nil, fmt.Sprintf("operations for service %s are not in open/close order", serviceID)
			}
			opener = &ops[i]
		case op.Type.IsClosing():
			if opener == nil {
				return nil, fmt.Sprintf("operations for service %s are not in open/close order", serviceID)
			}
			provision, ok := provisions[op.ProvisionID]
			if !ok {
				return nil, fmt.Sprintf("no provision found for service %s", serviceID)
			}
			items = append(items, InvoiceItem{
				ServiceID:   serviceID,
				StartDate:   opener.Date,
				EndDate:     op.Date,
				Value:       itemValue(provision, opener.Date, op.Date),
				IsSuspended: op.Type == OpSuspend,
			})
			opener = nil
		}
	}
	if opener != nil {
		return nil, fmt.Sprintf("operations for service %s are not in open/close order", serviceID)
	}
	return items, ""
}

// itemValue computes pricePerDay * quantity * days as an exact decimal.
// Days exclude the end date: a whole-day charge model, not proration.
func itemValue(p ServiceProvision, start, end Date) decimal.Decimal {
	days := DaysBetween(start, end)
	return p.PricePerDay.
		Mul(decimal.NewFromInt(int64(p.Quantity))).
		Mul(decimal.NewFromInt(int64(days)))
}

// =============================================================================
// COVERAGE - The idempotency guard
// =============================================================================

// Covered reports whether every operation is already reflected in the
// invoice: for each operation there is an item of the same service whose
// [startDate, endDate] contains the operation's date. The interval is
// closed on both ends; containment at the exact boundary dates counts.
func Covered(ops []Operation, invoice *Invoice) bool {
	return lo.EveryBy(ops, func(op Operation) bool {
		return lo.SomeBy(invoice.Items, func(item InvoiceItem) bool {
			return item.ServiceID == op.ServiceID &&
				item.StartDate.BeforeOrEqual(op.Date) &&
				item.EndDate.AfterOrEqual(op.Date)
		})
	})
}
