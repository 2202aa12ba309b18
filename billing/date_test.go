package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoicing-engine/billing"
)

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		from billing.Date
		to   billing.Date
		want int
	}{
		{"same day", billing.NewDate(2025, time.February, 1), billing.NewDate(2025, time.February, 1), 0},
		{"one day", billing.NewDate(2025, time.February, 1), billing.NewDate(2025, time.February, 2), 1},
		{"two weeks", billing.NewDate(2025, time.February, 5), billing.NewDate(2025, time.February, 19), 14},
		{"across month boundary", billing.NewDate(2025, time.January, 30), billing.NewDate(2025, time.February, 2), 3},
		{"across DST change", billing.NewDate(2025, time.March, 28), billing.NewDate(2025, time.April, 2), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, billing.DaysBetween(tt.from, tt.to))
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := billing.ParseDate("2025-02-01")
	require.NoError(t, err)
	assert.Equal(t, billing.NewDate(2025, time.February, 1), d)

	_, err = billing.ParseDate("2025-02-30")
	assert.Error(t, err)

	_, err = billing.ParseDate("01/02/2025")
	assert.Error(t, err)
}

func TestPeriod_Contains(t *testing.T) {
	feb := billing.Period{Year: 2025, Month: time.February}

	assert.True(t, feb.Contains(billing.NewDate(2025, time.February, 1)))
	assert.True(t, feb.Contains(billing.NewDate(2025, time.February, 28)))
	assert.False(t, feb.Contains(billing.NewDate(2025, time.January, 31)))
	assert.False(t, feb.Contains(billing.NewDate(2025, time.March, 1)))
}

func TestPeriod_EndHandlesLeapYears(t *testing.T) {
	assert.Equal(t, billing.NewDate(2024, time.February, 29), billing.Period{Year: 2024, Month: time.February}.End())
	assert.Equal(t, billing.NewDate(2025, time.February, 28), billing.Period{Year: 2025, Month: time.February}.End())
	assert.Equal(t, billing.NewDate(2025, time.December, 31), billing.Period{Year: 2025, Month: time.December}.End())
}

func TestPeriod_Previous(t *testing.T) {
	assert.Equal(t, billing.Period{Year: 2024, Month: time.December},
		billing.Period{Year: 2025, Month: time.January}.Previous())
	assert.Equal(t, billing.Period{Year: 2025, Month: time.January},
		billing.Period{Year: 2025, Month: time.February}.Previous())
}

func TestPeriod_Valid(t *testing.T) {
	assert.True(t, billing.Period{Year: 2025, Month: time.February}.Valid())
	assert.False(t, billing.Period{Year: 2025, Month: 0}.Valid())
	assert.False(t, billing.Period{Year: 2025, Month: 13}.Valid())
	assert.False(t, billing.Period{Year: 0, Month: time.February}.Valid())
}
