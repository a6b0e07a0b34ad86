package billing

import (
	"strings"

	"github.com/ManuelReschke/PixelConvert/app/models"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/paywall"
)

// MapStripeStatus normalizes a Stripe subscription status. Unknown values map
// to incomplete so they never grant access.
func MapStripeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case models.BillingStatusActive,
		models.BillingStatusTrialing,
		models.BillingStatusPastDue,
		models.BillingStatusCanceled,
		models.BillingStatusIncomplete,
		models.BillingStatusIncompleteExpired,
		models.BillingStatusUnpaid,
		models.BillingStatusPaused:
		return s
	default:
		return models.BillingStatusIncomplete
	}
}

// IsEntitlingStatus reports whether a subscription status grants pro access.
func IsEntitlingStatus(status string) bool {
	return paywall.IsEntitlingStatus(status)
}

// NormalizeInterval accepts month/monthly and year/yearly/annual.
func NormalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "month", "monthly":
		return models.BillingIntervalMonth
	case "year", "yearly", "annual":
		return models.BillingIntervalYear
	default:
		return models.BillingIntervalUnknown
	}
}

// Prices holds the Stripe price IDs sold at checkout.
type Prices struct {
	Monthly string
	Yearly  string
}

// IntervalPriceID returns the price for an interval.
func (p Prices) IntervalPriceID(interval string) (string, error) {
	var id string
	switch NormalizeInterval(interval) {
	case models.BillingIntervalMonth:
		id = p.Monthly
	case models.BillingIntervalYear:
		id = p.Yearly
	default:
		return "", ErrInvalidInterval
	}
	if strings.TrimSpace(id) == "" {
		return "", ErrPriceNotSet
	}
	return id, nil
}

// IntervalForPrice maps a configured price back to its interval.
func (p Prices) IntervalForPrice(priceID string) string {
	switch {
	case priceID == "":
		return models.BillingIntervalUnknown
	case priceID == p.Monthly:
		return models.BillingIntervalMonth
	case priceID == p.Yearly:
		return models.BillingIntervalYear
	default:
		return models.BillingIntervalUnknown
	}
}
