package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PixelConvert/app/models"
)

// Repository provides DB operations used by the billing service.
// Lookups return gorm.ErrRecordNotFound when nothing matches. Every query
// runs with the caller's context so request deadlines reach the database.
type Repository interface {
	UpsertCustomer(ctx context.Context, customer *models.BillingCustomer) error
	GetCustomerByUserID(ctx context.Context, userID string) (*models.BillingCustomer, error)
	GetCustomerByCustomerID(ctx context.Context, customerID string) (*models.BillingCustomer, error)
	UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error
	GetSubscription(ctx context.Context, subscriptionID string) (*models.BillingSubscription, error)
	GetLatestSubscriptionByUser(ctx context.Context, userID string) (*models.BillingSubscription, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertCustomer(ctx context.Context, customer *models.BillingCustomer) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"customer_id",
			"email",
			"updated_at",
		}),
	}).Create(customer).Error; err != nil {
		return err
	}

	return r.db.WithContext(ctx).Where("user_id = ?", customer.UserID).First(customer).Error
}

func (r *gormRepository) GetCustomerByUserID(ctx context.Context, userID string) (*models.BillingCustomer, error) {
	var customer models.BillingCustomer
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *gormRepository) GetCustomerByCustomerID(ctx context.Context, customerID string) (*models.BillingCustomer, error) {
	var customer models.BillingCustomer
	err := r.db.WithContext(ctx).Where("provider = ? AND customer_id = ?", models.BillingProviderStripe, customerID).First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"customer_id",
			"price_id",
			"billing_interval",
			"status",
			"current_period_end",
			"cancel_at_period_end",
			"cancel_at",
			"canceled_at",
			"last_event_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.WithContext(ctx).Where("provider = ? AND subscription_id = ?", sub.Provider, sub.SubscriptionID).
		First(sub).Error
}

func (r *gormRepository) GetSubscription(ctx context.Context, subscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.WithContext(ctx).Where("provider = ? AND subscription_id = ?", models.BillingProviderStripe, subscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetLatestSubscriptionByUser(ctx context.Context, userID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("last_event_at DESC").Order("id DESC").First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
