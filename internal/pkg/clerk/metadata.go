package clerk

import (
	"encoding/json"
	"time"
)

// SubscriptionMetadata is the billing state mirrored into a user's Clerk
// public metadata. Timestamps are unix seconds.
type SubscriptionMetadata struct {
	IsPro                 bool   `json:"isPro"`
	SubscriptionStatus    string `json:"subscriptionStatus,omitempty"`
	StripeCustomerID      string `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID  string `json:"stripeSubscriptionId,omitempty"`
	StripePriceID         string `json:"stripePriceId,omitempty"`
	CancelAtPeriodEnd     bool   `json:"cancelAtPeriodEnd"`
	CancelAt              *int64 `json:"cancelAt,omitempty"`
	CanceledAt            *int64 `json:"canceledAt,omitempty"`
	CurrentPeriodEnd      *int64 `json:"currentPeriodEnd,omitempty"`
	SubscriptionUpdatedAt int64  `json:"subscriptionUpdatedAt,omitempty"`
}

// ParseSubscriptionMetadata decodes the subscription fields out of a raw
// public_metadata object. Unrelated keys are ignored.
func ParseSubscriptionMetadata(raw json.RawMessage) (SubscriptionMetadata, error) {
	var md SubscriptionMetadata
	if len(raw) == 0 || string(raw) == "null" {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return SubscriptionMetadata{}, err
	}
	return md, nil
}

// Patch builds the merge document for PATCH /users/{id}/metadata. Nil
// timestamps are sent as JSON null so stale values get removed.
func (m SubscriptionMetadata) Patch() map[string]interface{} {
	return map[string]interface{}{
		"isPro":                 m.IsPro,
		"subscriptionStatus":    m.SubscriptionStatus,
		"stripeCustomerId":      m.StripeCustomerID,
		"stripeSubscriptionId":  m.StripeSubscriptionID,
		"stripePriceId":         m.StripePriceID,
		"cancelAtPeriodEnd":     m.CancelAtPeriodEnd,
		"cancelAt":              nullableUnix(m.CancelAt),
		"canceledAt":            nullableUnix(m.CanceledAt),
		"currentPeriodEnd":      nullableUnix(m.CurrentPeriodEnd),
		"subscriptionUpdatedAt": m.SubscriptionUpdatedAt,
	}
}

func nullableUnix(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// UnixPtr converts a time to a unix-seconds pointer; the zero time is nil.
func UnixPtr(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Unix()
	return &v
}

// TimeFromUnix is the inverse of UnixPtr.
func TimeFromUnix(v *int64) *time.Time {
	if v == nil || *v == 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
