package models

import "time"

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

const (
	BillingStatusActive            = "active"
	BillingStatusTrialing          = "trialing"
	BillingStatusPastDue           = "past_due"
	BillingStatusCanceled          = "canceled"
	BillingStatusIncomplete        = "incomplete"
	BillingStatusIncompleteExpired = "incomplete_expired"
	BillingStatusUnpaid            = "unpaid"
	BillingStatusPaused            = "paused"
)

// BillingSubscription mirrors the last applied Stripe subscription snapshot.
// LastEventAt guards against out-of-order webhook deliveries.
type BillingSubscription struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            string     `gorm:"type:varchar(191);not null;index" json:"user_id"`
	Provider          string     `gorm:"type:varchar(20);not null;default:'stripe';uniqueIndex:ux_billing_subscriptions_subid,priority:1" json:"provider"`
	SubscriptionID    string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_subscriptions_subid,priority:2" json:"subscription_id"`
	CustomerID        string     `gorm:"type:varchar(191);not null;index" json:"customer_id"`
	PriceID           string     `gorm:"type:varchar(191);default:''" json:"price_id"`
	BillingInterval   string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	Status            string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodEnd  *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CancelAt          *time.Time `gorm:"type:timestamp;default:null" json:"cancel_at,omitempty"`
	CanceledAt        *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	LastEventAt       time.Time  `gorm:"type:timestamp;not null" json:"last_event_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
