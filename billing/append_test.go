package billing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoicing-engine/billing"
	"github.com/warp/invoicing-engine/store/memory"
	"go.uber.org/zap"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAppender(t *testing.T) (*billing.Appender, *memory.Memory) {
	t.Helper()
	store := memory.New()
	appender := billing.NewAppender(store, zap.NewNop().Sugar())
	return appender, store
}

func startReq(client, service string, year int, month time.Month, day int) billing.AppendRequest {
	qty := 2
	price := decimal.NewFromInt(10)
	return billing.AppendRequest{
		ClientID:    billing.ClientID(client),
		ServiceID:   billing.ServiceID(service),
		Type:        billing.OpStart,
		Date:        billing.NewDate(year, month, day),
		Quantity:    &qty,
		PricePerDay: &price,
	}
}

func opReq(client, service string, typ billing.OperationType, year int, month time.Month, day int) billing.AppendRequest {
	return billing.AppendRequest{
		ClientID:  billing.ClientID(client),
		ServiceID: billing.ServiceID(service),
		Type:      typ,
		Date:      billing.NewDate(year, month, day),
	}
}

// =============================================================================
// SHAPE VALIDATION
// =============================================================================

func TestAppend_StartRequiresTerms(t *testing.T) {
	// GIVEN: A start request missing quantity and pricePerDay
	// WHEN: Appending
	// THEN: Both fields are reported, nothing is persisted

	appender, store := newTestAppender(t)
	ctx := context.Background()

	req := billing.AppendRequest{
		ClientID:  "client-1",
		ServiceID: "svc-1",
		Type:      billing.OpStart,
		Date:      billing.NewDate(2025, time.February, 1),
	}

	_, err := appender.Append(ctx, req)
	require.Error(t, err)

	var verrs billing.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "quantity")
	assert.Contains(t, fields, "pricePerDay")

	ops, err := store.ListOperations(ctx, "client-1", "svc-1")
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestAppend_TermsForbiddenOutsideStart(t *testing.T) {
	appender, _ := newTestAppender(t)
	ctx := context.Background()

	_, err := appender.Append(ctx, startReq("client-1", "svc-1", 2025, time.February, 1))
	require.NoError(t, err)

	qty := 3
	req := opReq("client-1", "svc-1", billing.OpSuspend, 2025, time.February, 3)
	req.Quantity = &qty

	_, err = appender.Append(ctx, req)
	var verrs billing.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "quantity", verrs[0].Field)
}

func TestAppend_QuantityBounds(t *testing.T) {
	appender, _ := newTestAppender(t)
	ctx := context.Background()

	for _, qty := range []int{0, -1, 100_001} {
		req := startReq("client-1", "svc-1", 2025, time.February, 1)
		req.Quantity = &qty
		_, err := appender.Append(ctx, req)
		assert.ErrorIs(t, err, billing.ErrValidation, "quantity %d should be rejected", qty)
	}

	for _, qty := range []int{1, 100_000} {
		req := startReq("client-1", fmt.Sprintf("svc-%d", qty), 2025, time.February, 1)
		req.Quantity = &qty
		_, err := appender.Append(ctx, req)
		assert.NoError(t, err, "quantity %d should be accepted", qty)
	}
}

func TestAppend_PriceBounds(t *testing.T) {
	appender, _ := newTestAppender(t)
	ctx := context.Background()

	reject := []string{"-0.01", "10000.01", "1.999"}
	for _, p := range reject {
		price, perr := decimal.NewFromString(p)
		require.NoError(t, perr)
		req := startReq("client-1", "svc-"+p, 2025, time.February, 1)
		req.PricePerDay = &price
		_, err := appender.Append(ctx, req)
		assert.ErrorIs(t, err, billing.ErrValidation, "price %s should be rejected", p)
	}

	accept := []string{"0", "0.01", "10000", "9999.99"}
	for _, p := range accept {
		price, perr := decimal.NewFromString(p)
		require.NoError(t, perr)
		req := startReq("client-1", "svc-"+p, 2025, time.February, 1)
		req.PricePerDay = &price
		_, err := appender.Append(ctx, req)
		assert.NoError(t, err, "price %s should be accepted", p)
	}
}

// =============================================================================
// LIFECYCLE AND PROVISIONS
// =============================================================================

func TestAppend_FullLifecycle(t *testing.T) {
	// GIVEN: An empty log
	// WHEN: start -> suspend -> resume -> end on advancing dates
	// THEN: All four are accepted and share one provision

	appender, store := newTestAppender(t)
	ctx := context.Background()

	_, err := appender.Append(ctx, startReq("client-1", "svc-1", 2025, time.February, 1))
	require.NoError(t, err)
	_, err = appender.Append(ctx, opReq("client-1", "svc-1", billing.OpSuspend, 2025, time.February, 3))
	require.NoError(t, err)
	_, err = appender.Append(ctx, opReq("client-1", "svc-1", billing.OpResume, 2025, time.February, 5))
	require.NoError(t, err)
	_, err = appender.Append(ctx, opReq("client-1", "svc-1", billing.OpEnd, 2025, time.February, 20))
	require.NoError(t, err)

	ops, err := store.ListOperations(ctx, "client-1", "svc-1")
	require.NoError(t, err)
	require.Len(t, ops, 4)
	for _, op := range ops[1:] {
		assert.Equal(t, ops[0].ProvisionID, op.ProvisionID, "lifecycle shares one provision")
	}
}

func TestAppend_RestartCreatesNewProvision(t *testing.T) {
	// GIVEN: A completed start/end lifecycle
	// WHEN: Starting the same service again with different terms
	// THEN: The new operations attach to a fresh provision

	appender, store := newTestAppender(t)
	ctx := context.Background()

	_, err := appender.Append(ctx, startReq("client-1", "svc-1", 2025, time.February, 1))
	require.NoError(t, err)
	_, err = appender.Append(ctx, opReq("client-1", "svc-1", billing.OpEnd, 2025, time.February, 10))
	require.NoError(t, err)

	second := startReq("client-1", "svc-1", 2025, time.March, 1)
	qty := 5
	second.Quantity = &qty
	_, err = appender.Append(ctx, second)
	require.NoError(t, err)

	ops, err := store.ListOperations(ctx, "client-1", "svc-1")
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.NotEqual(t, ops[0].ProvisionID, ops[2].ProvisionID)

	provisions, err := store.ProvisionsByID(ctx, []billing.ProvisionID{ops[2].ProvisionID})
	require.NoError(t, err)
	assert.Equal(t, 5, provisions[ops[2].ProvisionID].Quantity)
}

func TestAppend_IllegalTransitionRejected(t *testing.T) {
	appender, store := newTestAppender(t)
	ctx := context.Background()

	_, err := appender.Append(ctx, opReq("client-1", "svc-1", billing.OpResume, 2025, time.February, 1))
	assert.ErrorIs(t, err, billing.ErrInvalidTransition)

	_, err = appender.Append(ctx, startReq("client-1", "svc-1", 2025, time.February, 1))
	require.NoError(t, err)

	_, err = appender.Append(ctx, opReq("client-1", "svc-1", billing.OpResume, 2025, time.February, 5))
	assert.ErrorIs(t, err, billing.ErrInvalidTransition)

	ops, err := store.ListOperations(ctx, "client-1", "svc-1")
	require.NoError(t, err)
	assert.Len(t, ops, 1, "rejected operations leave no trace")
}

func TestAppend_SameDayRejected(t *testing.T) {
	appender, _ := newTestAppender(t)
	ctx := context.Background()

	_, err := appender.Append(ctx, startReq("client-1", "svc-1", 2025, time.February, 1))
	require.NoError(t, err)

	_, err = appender.Append(ctx, opReq("client-1", "svc-1", billing.OpSuspend, 2025, time.February, 1))
	assert.ErrorIs(t, err, billing.ErrNonMonotonicDate)
}

func TestAppend_ServicesAreIndependent(t *testing.T) {
	// GIVEN: svc-1 started for client-1
	// WHEN: Starting svc-2 for the same client and svc-1 for another client
	// THEN: Both succeed - lifecycles are scoped to (client, service)

	appender, _ := newTestAppender(t)
	ctx := context.Background()

	_, err := appender.Append(ctx, startReq("client-1", "svc-1", 2025, time.February, 1))
	require.NoError(t, err)

	_, err = appender.Append(ctx, startReq("client-1", "svc-2", 2025, time.February, 1))
	assert.NoError(t, err)

	_, err = appender.Append(ctx, startReq("client-2", "svc-1", 2025, time.February, 1))
	assert.NoError(t, err)
}
