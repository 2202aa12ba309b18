package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoicing-engine/billing"
	"github.com/warp/invoicing-engine/store/memory"
)

func op(client, service string, typ billing.OperationType, day int) billing.Operation {
	return billing.Operation{
		ID:        billing.OperationID(billing.NewID()),
		ClientID:  billing.ClientID(client),
		ServiceID: billing.ServiceID(service),
		Date:      billing.NewDate(2025, time.February, day),
		Type:      typ,
	}
}

func TestMemory_DuplicateDayRejected(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.AppendOperation(ctx, op("client-1", "svc-1", billing.OpStart, 5)))

	err := store.AppendOperation(ctx, op("client-1", "svc-1", billing.OpEnd, 5))
	assert.ErrorIs(t, err, billing.ErrDuplicateOperationDate)

	// Different pair, same date.
	assert.NoError(t, store.AppendOperation(ctx, op("client-1", "svc-2", billing.OpStart, 5)))
}

func TestMemory_OperationsKeptSorted(t *testing.T) {
	// Appends out of date order still read back sorted by date.

	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.AppendOperation(ctx, op("client-1", "svc-1", billing.OpEnd, 20)))
	require.NoError(t, store.AppendOperation(ctx, op("client-1", "svc-1", billing.OpStart, 1)))

	ops, err := store.ListOperations(ctx, "client-1", "svc-1")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, billing.OpStart, ops[0].Type)

	last, err := store.LastOperation(ctx, "client-1", "svc-1")
	require.NoError(t, err)
	assert.Equal(t, billing.OpEnd, last.Type)
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	err := store.WithTx(ctx, func(s billing.Store) error {
		if err := s.AppendOperation(ctx, op("client-1", "svc-1", billing.OpStart, 1)); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	ops, err := store.ListOperations(ctx, "client-1", "svc-1")
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestMemory_DuplicateInvoiceRejected(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	inv := billing.Invoice{
		ID:       billing.InvoiceID(billing.NewID()),
		ClientID: "client-1",
		Year:     2025,
		Month:    time.February,
		Items: []billing.InvoiceItem{{
			ServiceID: "svc-1",
			StartDate: billing.NewDate(2025, time.February, 1),
			EndDate:   billing.NewDate(2025, time.February, 10),
			Value:     decimal.NewFromInt(90),
		}},
	}
	require.NoError(t, store.CreateInvoice(ctx, inv))

	dup := inv
	dup.ID = billing.InvoiceID(billing.NewID())
	assert.ErrorIs(t, store.CreateInvoice(ctx, dup), billing.ErrPersistence)
}
