package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoicing-engine/api"
	"github.com/warp/invoicing-engine/billing"
	"github.com/warp/invoicing-engine/store/memory"
	"go.uber.org/zap"
)

func TestScheduler_GeneratesPreviousMonth(t *testing.T) {
	// GIVEN: A completed lifecycle dated in the previous month
	// WHEN: The scheduler ticks
	// THEN: The invoice for that month appears without any API call

	store := memory.New()
	log := zap.NewNop().Sugar()
	appender := billing.NewAppender(store, log)
	builder := billing.NewBuilder(store, log)
	ctx := context.Background()

	period := billing.PeriodOf(time.Now()).Previous()
	qty := 1
	price := decimal.NewFromInt(10)
	_, err := appender.Append(ctx, billing.AppendRequest{
		ClientID:    "client-1",
		ServiceID:   "svc-1",
		Type:        billing.OpStart,
		Date:        period.Start(),
		Quantity:    &qty,
		PricePerDay: &price,
	})
	require.NoError(t, err)
	_, err = appender.Append(ctx, billing.AppendRequest{
		ClientID:  "client-1",
		ServiceID: "svc-1",
		Type:      billing.OpEnd,
		Date:      period.Start().AddDays(5),
	})
	require.NoError(t, err)

	scheduler := api.NewScheduler(builder, 10*time.Millisecond, log)
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	assert.Eventually(t, func() bool {
		inv, err := store.GetInvoice(ctx, "client-1", period)
		return err == nil && inv != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopTerminatesLoop(t *testing.T) {
	store := memory.New()
	log := zap.NewNop().Sugar()
	scheduler := api.NewScheduler(billing.NewBuilder(store, log), time.Hour, log)

	scheduler.Start()

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
