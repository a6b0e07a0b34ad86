package models

import "time"

// BillingProviderStripe is the only billing provider wired today.
const BillingProviderStripe = "stripe"

// BillingCustomer links an auth-provider user to a Stripe customer.
type BillingCustomer struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_customers_user" json:"user_id"`
	Provider   string    `gorm:"type:varchar(20);not null;default:'stripe';uniqueIndex:ux_billing_customers_customer,priority:1" json:"provider"`
	CustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_customers_customer,priority:2" json:"customer_id"`
	Email      string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
