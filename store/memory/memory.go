// Package memory provides an in-memory billing.TxStore for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/warp/invoicing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	operations map[pairKey][]billing.Operation
	provisions map[pairKey][]billing.ServiceProvision
	invoices   map[invoiceKey]billing.Invoice
}

type pairKey struct {
	ClientID  billing.ClientID
	ServiceID billing.ServiceID
}

type invoiceKey struct {
	ClientID billing.ClientID
	Year     int
	Month    time.Month
}

func New() *Memory {
	return &Memory{
		operations: make(map[pairKey][]billing.Operation),
		provisions: make(map[pairKey][]billing.ServiceProvision),
		invoices:   make(map[invoiceKey]billing.Invoice),
	}
}

// AppendOperation adds a single operation. Append-only.
func (m *Memory) AppendOperation(_ context.Context, op billing.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(op)
}

func (m *Memory) appendLocked(op billing.Operation) error {
	k := pairKey{ClientID: op.ClientID, ServiceID: op.ServiceID}
	for _, existing := range m.operations[k] {
		if existing.Date.Equal(op.Date) {
			return billing.ErrDuplicateOperationDate
		}
	}

	ops := m.operations[k]
	i := sort.Search(len(ops), func(i int) bool {
		if ops[i].Date.Equal(op.Date) {
			return ops[i].ID > op.ID
		}
		return ops[i].Date.After(op.Date)
	})
	ops = append(ops, billing.Operation{})
	copy(ops[i+1:], ops[i:])
	ops[i] = op
	m.operations[k] = ops
	return nil
}

func (m *Memory) CreateProvision(_ context.Context, p billing.ServiceProvision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createProvisionLocked(p)
}

func (m *Memory) createProvisionLocked(p billing.ServiceProvision) error {
	k := pairKey{ClientID: p.ClientID, ServiceID: p.ServiceID}
	m.provisions[k] = append(m.provisions[k], p)
	return nil
}

func (m *Memory) LastOperation(_ context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := m.operations[pairKey{ClientID: clientID, ServiceID: serviceID}]
	if len(ops) == 0 {
		return nil, nil
	}
	op := ops[len(ops)-1]
	return &op, nil
}

func (m *Memory) OpenProvision(_ context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.ServiceProvision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ps := m.provisions[pairKey{ClientID: clientID, ServiceID: serviceID}]
	if len(ps) == 0 {
		return nil, nil
	}
	p := ps[len(ps)-1]
	return &p, nil
}

func (m *Memory) ListOperations(_ context.Context, clientID billing.ClientID, serviceID billing.ServiceID) ([]billing.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Operation
	for k, ops := range m.operations {
		if k.ClientID != clientID {
			continue
		}
		if serviceID != "" && k.ServiceID != serviceID {
			continue
		}
		result = append(result, ops...)
	}
	sortOperations(result)
	return result, nil
}

func (m *Memory) OperationsInPeriod(_ context.Context, period billing.Period) ([]billing.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Operation
	for _, ops := range m.operations {
		for _, op := range ops {
			if period.Contains(op.Date) {
				result = append(result, op)
			}
		}
	}
	sortOperations(result)
	return result, nil
}

func (m *Memory) ProvisionsByID(_ context.Context, ids []billing.ProvisionID) (map[billing.ProvisionID]billing.ServiceProvision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := lo.SliceToMap(ids, func(id billing.ProvisionID) (billing.ProvisionID, struct{}) {
		return id, struct{}{}
	})
	result := make(map[billing.ProvisionID]billing.ServiceProvision, len(ids))
	for _, ps := range m.provisions {
		for _, p := range ps {
			if _, ok := wanted[p.ID]; ok {
				result[p.ID] = p
			}
		}
	}
	return result, nil
}

func (m *Memory) CreateInvoice(_ context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createInvoiceLocked(inv)
}

func (m *Memory) createInvoiceLocked(inv billing.Invoice) error {
	k := invoiceKey{ClientID: inv.ClientID, Year: inv.Year, Month: inv.Month}
	if _, exists := m.invoices[k]; exists {
		return billing.ErrPersistence
	}
	m.invoices[k] = inv
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, clientID billing.ClientID, period billing.Period) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[invoiceKey{ClientID: clientID, Year: period.Year, Month: period.Month}]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (m *Memory) ListInvoices(_ context.Context, filter billing.InvoiceFilter, page, pageSize int) (billing.InvoicePage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []billing.Invoice
	for _, inv := range m.invoices {
		if filter.ClientID != nil && inv.ClientID != *filter.ClientID {
			continue
		}
		if filter.Year != nil && inv.Year != *filter.Year {
			continue
		}
		if filter.Month != nil && inv.Month != *filter.Month {
			continue
		}
		matched = append(matched, inv)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.ClientID < b.ClientID
	})

	result := billing.InvoicePage{Page: page, PageSize: pageSize, TotalCount: len(matched)}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return result, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	result.Invoices = matched[start:end]
	return result, nil
}

func sortOperations(ops []billing.Operation) {
	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.ClientID != b.ClientID {
			return a.ClientID < b.ClientID
		}
		if a.ServiceID != b.ServiceID {
			return a.ServiceID < b.ServiceID
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a simulated transaction: the state is
// snapshotted and restored when fn returns an error.
func (m *Memory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	operations map[pairKey][]billing.Operation
	provisions map[pairKey][]billing.ServiceProvision
	invoices   map[invoiceKey]billing.Invoice
}

func (m *Memory) snapshot() memorySnapshot {
	opsCopy := make(map[pairKey][]billing.Operation, len(m.operations))
	for k, v := range m.operations {
		opsCopy[k] = append([]billing.Operation{}, v...)
	}
	provCopy := make(map[pairKey][]billing.ServiceProvision, len(m.provisions))
	for k, v := range m.provisions {
		provCopy[k] = append([]billing.ServiceProvision{}, v...)
	}
	invCopy := make(map[invoiceKey]billing.Invoice, len(m.invoices))
	for k, v := range m.invoices {
		invCopy[k] = v
	}
	return memorySnapshot{operations: opsCopy, provisions: provCopy, invoices: invCopy}
}

func (m *Memory) restore(s memorySnapshot) {
	m.operations = s.operations
	m.provisions = s.provisions
	m.invoices = s.invoices
}

// txView applies writes directly to the parent, which holds the lock and
// the snapshot for rollback.
type txView struct {
	parent *Memory
}

func (tv *txView) AppendOperation(_ context.Context, op billing.Operation) error {
	return tv.parent.appendLocked(op)
}

func (tv *txView) CreateProvision(_ context.Context, p billing.ServiceProvision) error {
	return tv.parent.createProvisionLocked(p)
}

func (tv *txView) CreateInvoice(_ context.Context, inv billing.Invoice) error {
	return tv.parent.createInvoiceLocked(inv)
}

func (tv *txView) LastOperation(_ context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.Operation, error) {
	ops := tv.parent.operations[pairKey{ClientID: clientID, ServiceID: serviceID}]
	if len(ops) == 0 {
		return nil, nil
	}
	op := ops[len(ops)-1]
	return &op, nil
}

func (tv *txView) OpenProvision(_ context.Context, clientID billing.ClientID, serviceID billing.ServiceID) (*billing.ServiceProvision, error) {
	ps := tv.parent.provisions[pairKey{ClientID: clientID, ServiceID: serviceID}]
	if len(ps) == 0 {
		return nil, nil
	}
	p := ps[len(ps)-1]
	return &p, nil
}

func (tv *txView) ListOperations(ctx context.Context, clientID billing.ClientID, serviceID billing.ServiceID) ([]billing.Operation, error) {
	var result []billing.Operation
	for k, ops := range tv.parent.operations {
		if k.ClientID != clientID {
			continue
		}
		if serviceID != "" && k.ServiceID != serviceID {
			continue
		}
		result = append(result, ops...)
	}
	sortOperations(result)
	return result, nil
}

func (tv *txView) OperationsInPeriod(_ context.Context, period billing.Period) ([]billing.Operation, error) {
	var result []billing.Operation
	for _, ops := range tv.parent.operations {
		for _, op := range ops {
			if period.Contains(op.Date) {
				result = append(result, op)
			}
		}
	}
	sortOperations(result)
	return result, nil
}

func (tv *txView) ProvisionsByID(_ context.Context, ids []billing.ProvisionID) (map[billing.ProvisionID]billing.ServiceProvision, error) {
	result := make(map[billing.ProvisionID]billing.ServiceProvision, len(ids))
	for _, ps := range tv.parent.provisions {
		for _, p := range ps {
			for _, id := range ids {
				if p.ID == id {
					result[p.ID] = p
				}
			}
		}
	}
	return result, nil
}

func (tv *txView) GetInvoice(_ context.Context, clientID billing.ClientID, period billing.Period) (*billing.Invoice, error) {
	inv, ok := tv.parent.invoices[invoiceKey{ClientID: clientID, Year: period.Year, Month: period.Month}]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (tv *txView) ListInvoices(_ context.Context, _ billing.InvoiceFilter, page, pageSize int) (billing.InvoicePage, error) {
	return billing.InvoicePage{Page: page, PageSize: pageSize}, nil
}
