package billing

import (
	"time"

	"github.com/rebillhq/rebill/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the billing service and the
// sweeper. Implementations must make SaveSubscriptionCAS an atomic
// compare-and-swap on the version column.
type Repository interface {
	CreateSubscriptionIfNone(sub *models.Subscription) error
	GetSubscriptionByPublicID(publicID string) (*models.Subscription, error)
	SaveSubscriptionCAS(sub *models.Subscription) error

	GetPaymentByChargeRef(chargeRef string) (*models.Payment, error)
	CreatePaymentIfNotExists(payment *models.Payment) (bool, error)

	ListSubscriptionsNeedingSchedule(limit int) ([]models.Subscription, error)
	ListSubscriptionsOverdue(cutoff time.Time, limit int) ([]models.Subscription, error)
	MarkFlaggedStale(subscriptionID uint, at time.Time) error

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateSubscriptionIfNone inserts the subscription unless the user already
// has a non-canceled one. The existence check runs under FOR UPDATE inside
// the insert transaction so two concurrent registrations for the same user
// cannot both pass it.
func (r *gormRepository) CreateSubscriptionIfNone(sub *models.Subscription) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.Subscription{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status <> ?", sub.UserID, models.SubscriptionStatusCanceled).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadySubscribed
		}
		return tx.Create(sub).Error
	})
}

func (r *gormRepository) GetSubscriptionByPublicID(publicID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("public_id = ?", publicID).First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// SaveSubscriptionCAS writes every mutable subscription field guarded by the
// version the caller read. Zero rows affected means another writer got there
// first and the whole transition must be re-derived from a fresh row.
func (r *gormRepository) SaveSubscriptionCAS(sub *models.Subscription) error {
	res := r.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]interface{}{
			"status":                sub.Status,
			"first_period_consumed": sub.FirstPeriodConsumed,
			"current_schedule_ref":  sub.CurrentScheduleRef,
			"next_billing_date":     sub.NextBillingDate,
			"cycle_number":          sub.CycleNumber,
			"schedule_retries":      sub.ScheduleRetries,
			"flagged_stale_at":      sub.FlaggedStaleAt,
			"version":               gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	sub.Version++
	return nil
}

func (r *gormRepository) GetPaymentByChargeRef(chargeRef string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("gateway_charge_ref = ?", chargeRef).First(&payment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// CreatePaymentIfNotExists inserts a ledger row unless the charge ref was
// already recorded. Returns whether this call created the row.
func (r *gormRepository) CreatePaymentIfNotExists(payment *models.Payment) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway_charge_ref"}},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListSubscriptionsNeedingSchedule(limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status IN ? AND current_schedule_ref IS NULL", []string{
			models.SubscriptionStatusAwaitingFirstCharge,
			models.SubscriptionStatusActive,
			models.SubscriptionStatusPastDue,
		}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListSubscriptionsOverdue(cutoff time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status IN ? AND current_schedule_ref IS NOT NULL AND next_billing_date < ? AND flagged_stale_at IS NULL", []string{
			models.SubscriptionStatusAwaitingFirstCharge,
			models.SubscriptionStatusActive,
		}, cutoff).
		Order("next_billing_date ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) MarkFlaggedStale(subscriptionID uint, at time.Time) error {
	return r.db.Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Update("flagged_stale_at", &at).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
