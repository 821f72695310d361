package models

import "time"

const (
	SubscriptionStatusAwaitingFirstCharge = "awaiting_first_charge"
	SubscriptionStatusActive              = "active"
	SubscriptionStatusPastDue             = "past_due"
	SubscriptionStatusCanceled            = "canceled"
)

// Subscription is the durable recurring-billing record for one user. Rows are
// never hard-deleted; cancellation flips Status to canceled. All state
// transitions go through a version compare-and-swap so concurrent webhook
// deliveries and sweeper runs serialize per subscription.
type Subscription struct {
	ID                  uint       `gorm:"primaryKey" json:"-"`
	PublicID            string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"id"`
	UserID              uint       `gorm:"not null;index" json:"user_id"`
	Plan                string     `gorm:"type:varchar(50);not null" json:"plan"`
	PricePerCycle       int64      `gorm:"not null" json:"price_per_cycle"`
	Currency            string     `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	BillingKeyRef       string     `gorm:"type:varchar(191);not null" json:"-"`
	Status              string     `gorm:"type:varchar(32);not null;default:'awaiting_first_charge';index:idx_subscriptions_status_schedule,priority:1" json:"status"`
	IsFirstPeriodFree   bool       `gorm:"not null;default:true" json:"is_first_period_free"`
	FirstPeriodConsumed bool       `gorm:"not null;default:false" json:"first_period_consumed"`
	CurrentScheduleRef  *string    `gorm:"type:varchar(191);default:null;index:idx_subscriptions_status_schedule,priority:2" json:"current_schedule_ref,omitempty"`
	NextBillingDate     time.Time  `gorm:"type:timestamp;not null" json:"next_billing_date"`
	CycleNumber         int        `gorm:"not null;default:0" json:"cycle_number"`
	ScheduleRetries     int        `gorm:"not null;default:0" json:"-"`
	FlaggedStaleAt      *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	Version             int64      `gorm:"not null;default:0" json:"-"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCanceled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// HasOutstandingSchedule reports whether a gateway schedule is currently
// outstanding for this subscription.
func (s *Subscription) HasOutstandingSchedule() bool {
	return s.CurrentScheduleRef != nil && *s.CurrentScheduleRef != ""
}
