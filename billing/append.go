/*
append.go - The validated append path

Flow for a new operation:
  1. Input-shape check (quantity/price required iff start, bounds, 2dp)
  2. Per-(client, service) lock - serializes the last-operation lookup
  3. Load last operation, run the state machine
  4. Resolve the provision: new on start, reuse otherwise
  5. Persist provision (if new) and operation atomically

The per-key mutex closes the read-then-write race on "last operation";
the storage layer's unique (client, service, date) index is the backstop
when multiple processes share the database.
*/
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// APPEND REQUEST
// =============================================================================

// AppendRequest carries one new lifecycle event. Quantity and PricePerDay
// are required for start operations and must be absent for all others.
type AppendRequest struct {
	ClientID    ClientID
	ServiceID   ServiceID
	Type        OperationType
	Date        Date
	Quantity    *int
	PricePerDay *decimal.Decimal
}

// =============================================================================
// APPENDER
// =============================================================================

// Appender owns the validated append path for the operation log.
type Appender struct {
	store TxStore
	log   *zap.SugaredLogger
	keys  keyMutex
	now   func() time.Time
}

func NewAppender(store TxStore, log *zap.SugaredLogger) *Appender {
	return &Appender{store: store, log: log, now: time.Now}
}

// Append validates and persists one operation, returning its id.
func (a *Appender) Append(ctx context.Context, req AppendRequest) (OperationID, error) {
	if errs := validateShape(req); len(errs) > 0 {
		return "", errs
	}

	unlock := a.keys.lock(string(req.ClientID) + "\x00" + string(req.ServiceID))
	defer unlock()

	last, err := a.store.LastOperation(ctx, req.ClientID, req.ServiceID)
	if err != nil {
		return "", fmt.Errorf("%w: last operation lookup: %v", ErrPersistence, err)
	}
	if err := ValidateAppend(last, req.Type, req.Date); err != nil {
		return "", err
	}

	provision, created, err := a.resolveProvision(ctx, req, last)
	if err != nil {
		return "", err
	}

	op := Operation{
		ID:          OperationID(NewID()),
		ProvisionID: provision.ID,
		ClientID:    req.ClientID,
		ServiceID:   req.ServiceID,
		Date:        req.Date,
		Type:        req.Type,
	}

	err = a.store.WithTx(ctx, func(s Store) error {
		if created {
			if err := s.CreateProvision(ctx, *provision); err != nil {
				return err
			}
		}
		return s.AppendOperation(ctx, op)
	})
	if err != nil {
		if IsClientError(err) {
			return "", err
		}
		return "", fmt.Errorf("%w: append operation: %v", ErrPersistence, err)
	}

	a.log.Infow("operation appended",
		"client", req.ClientID, "service", req.ServiceID,
		"type", req.Type, "date", req.Date.String())
	return op.ID, nil
}

// resolveProvision returns the provision the operation attaches to. A fresh
// lifecycle (no prior operation, or ended) gets a new provision built from
// the request terms; everything else inherits the open provision.
func (a *Appender) resolveProvision(ctx context.Context, req AppendRequest, last *Operation) (*ServiceProvision, bool, error) {
	if last == nil || last.Type == OpEnd {
		p := &ServiceProvision{
			ID:          ProvisionID(NewID()),
			ClientID:    req.ClientID,
			ServiceID:   req.ServiceID,
			Quantity:    *req.Quantity,
			PricePerDay: *req.PricePerDay,
			CreatedAt:   a.now().UTC(),
		}
		return p, true, nil
	}

	p, err := a.store.OpenProvision(ctx, req.ClientID, req.ServiceID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: provision lookup: %v", ErrPersistence, err)
	}
	if p == nil {
		return nil, false, fmt.Errorf("%w: no provision for open lifecycle %s/%s",
			ErrPersistence, req.ClientID, req.ServiceID)
	}
	return p, false, nil
}

// =============================================================================
// INPUT-SHAPE VALIDATION
// =============================================================================

// validateShape enforces the precondition layer: field presence, bounds and
// precision. Runs before any state machine evaluation or lookup.
func validateShape(req AppendRequest) ValidationErrors {
	var errs ValidationErrors

	if req.ClientID == "" {
		errs = append(errs, FieldError{Field: "clientId", Message: "must not be empty"})
	}
	if req.ServiceID == "" {
		errs = append(errs, FieldError{Field: "serviceId", Message: "must not be empty"})
	}
	if _, ok := ParseOperationType(string(req.Type)); !ok {
		errs = append(errs, FieldError{Field: "type", Message: "must be one of start, suspend, resume, end"})
	}
	if req.Date.IsZero() {
		errs = append(errs, FieldError{Field: "date", Message: "must be a valid calendar date"})
	}

	if req.Type == OpStart {
		switch {
		case req.Quantity == nil:
			errs = append(errs, FieldError{Field: "quantity", Message: "required for start operations"})
		case *req.Quantity < MinQuantity || *req.Quantity > MaxQuantity:
			errs = append(errs, FieldError{Field: "quantity",
				Message: fmt.Sprintf("must be between %d and %d", MinQuantity, MaxQuantity)})
		}
		switch {
		case req.PricePerDay == nil:
			errs = append(errs, FieldError{Field: "pricePerDay", Message: "required for start operations"})
		case req.PricePerDay.IsNegative():
			errs = append(errs, FieldError{Field: "pricePerDay", Message: "must not be negative"})
		case req.PricePerDay.GreaterThan(MaxPricePerDay):
			errs = append(errs, FieldError{Field: "pricePerDay", Message: "must not exceed 10000"})
		case req.PricePerDay.Exponent() < -2:
			errs = append(errs, FieldError{Field: "pricePerDay", Message: "at most 2 fractional digits"})
		}
	} else {
		if req.Quantity != nil {
			errs = append(errs, FieldError{Field: "quantity", Message: "only allowed for start operations"})
		}
		if req.PricePerDay != nil {
			errs = append(errs, FieldError{Field: "pricePerDay", Message: "only allowed for start operations"})
		}
	}

	return errs
}

// =============================================================================
// PER-KEY LOCKING
// =============================================================================

// keyMutex serializes appends per (client, service) key. Locks are never
// released from the map; the key space is bounded by active lifecycles.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
