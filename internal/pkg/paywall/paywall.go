// Package paywall turns mirrored subscription metadata and the trial flag
// into the access decision and banner shown to a user.
package paywall

import (
	"strings"
	"time"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/clerk"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/entitlements"
)

type Banner string

const (
	BannerNone           Banner = "none"
	BannerTrialAvailable Banner = "trial_available"
	BannerUpgrade        Banner = "upgrade"
	BannerCanceling      Banner = "canceling"
	BannerPastDue        Banner = "past_due"
)

// Status is what the client renders banners and gates from.
type Status struct {
	Plan              entitlements.Plan `json:"plan"`
	IsPro             bool              `json:"is_pro"`
	SubscriptionState string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CancelAt          *time.Time        `json:"cancel_at,omitempty"`
	CurrentPeriodEnd  *time.Time        `json:"current_period_end,omitempty"`
	EndsAt            *time.Time        `json:"ends_at,omitempty"`
	TrialUsed         bool              `json:"trial_used"`
	TrialsRemaining   int               `json:"trials_remaining"`
	CanConvert        bool              `json:"can_convert"`
	Banner            Banner            `json:"banner"`
}

// IsEntitlingStatus reports whether a Stripe subscription status grants pro
// access. past_due is a grace period; anything unknown fails closed.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}

// HasPro decides pro access from mirrored metadata.
func HasPro(md clerk.SubscriptionMetadata) bool {
	status := strings.TrimSpace(md.SubscriptionStatus)
	if status == "" {
		return md.IsPro
	}
	return IsEntitlingStatus(status)
}

// Evaluate computes the paywall status.
func Evaluate(md clerk.SubscriptionMetadata, trialUsed bool, now time.Time) Status {
	pro := HasPro(md)
	st := Status{
		Plan:              entitlements.PlanFree,
		IsPro:             pro,
		SubscriptionState: strings.ToLower(strings.TrimSpace(md.SubscriptionStatus)),
		CancelAtPeriodEnd: md.CancelAtPeriodEnd,
		CancelAt:          clerk.TimeFromUnix(md.CancelAt),
		CurrentPeriodEnd:  clerk.TimeFromUnix(md.CurrentPeriodEnd),
		TrialUsed:         trialUsed,
	}
	if !trialUsed {
		st.TrialsRemaining = 1
	}
	st.CanConvert = pro || !trialUsed

	switch {
	case pro && st.SubscriptionState == "past_due":
		st.Plan = entitlements.PlanPro
		st.Banner = BannerPastDue
	case pro && md.CancelAtPeriodEnd:
		st.Plan = entitlements.PlanPro
		st.Banner = BannerCanceling
		st.EndsAt = st.CancelAt
		if st.EndsAt == nil {
			st.EndsAt = st.CurrentPeriodEnd
		}
	case pro:
		st.Plan = entitlements.PlanPro
		st.Banner = BannerNone
	case !trialUsed:
		st.Banner = BannerTrialAvailable
	default:
		st.Banner = BannerUpgrade
	}

	// A canceling subscription whose end already passed is no longer pro even
	// if the deletion webhook has not arrived yet.
	if st.Banner == BannerCanceling && st.EndsAt != nil && now.After(*st.EndsAt) {
		st.IsPro = false
		st.Plan = entitlements.PlanFree
		st.CanConvert = !trialUsed
		st.Banner = BannerUpgrade
		if !trialUsed {
			st.Banner = BannerTrialAvailable
		}
	}
	return st
}
