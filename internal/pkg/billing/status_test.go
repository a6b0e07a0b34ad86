package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStripeStatus(t *testing.T) {
	assert.Equal(t, "active", MapStripeStatus("active"))
	assert.Equal(t, "past_due", MapStripeStatus(" PAST_DUE "))
	assert.Equal(t, "incomplete_expired", MapStripeStatus("incomplete_expired"))
	assert.Equal(t, "incomplete", MapStripeStatus("something_new"))
	assert.Equal(t, "incomplete", MapStripeStatus(""))
}

func TestIsEntitlingStatus(t *testing.T) {
	for _, s := range []string{"active", "trialing", "past_due"} {
		assert.True(t, IsEntitlingStatus(s), s)
	}
	for _, s := range []string{"canceled", "incomplete", "incomplete_expired", "unpaid", "paused", "", "weird"} {
		assert.False(t, IsEntitlingStatus(s), s)
	}
}

func TestNormalizeInterval(t *testing.T) {
	assert.Equal(t, "month", NormalizeInterval("month"))
	assert.Equal(t, "month", NormalizeInterval("Monthly"))
	assert.Equal(t, "year", NormalizeInterval("annual"))
	assert.Equal(t, "unknown", NormalizeInterval("week"))
}

func TestIntervalPriceID(t *testing.T) {
	prices := Prices{Monthly: "price_m", Yearly: "price_y"}

	id, err := prices.IntervalPriceID("month")
	require.NoError(t, err)
	assert.Equal(t, "price_m", id)

	id, err = prices.IntervalPriceID("yearly")
	require.NoError(t, err)
	assert.Equal(t, "price_y", id)

	_, err = prices.IntervalPriceID("weekly")
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = Prices{Monthly: "price_m"}.IntervalPriceID("year")
	assert.ErrorIs(t, err, ErrPriceNotSet)

	assert.Equal(t, "year", prices.IntervalForPrice("price_y"))
	assert.Equal(t, "unknown", prices.IntervalForPrice("price_other"))
}
