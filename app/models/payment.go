package models

import "time"

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Payment is one row of the append-only charge ledger. GatewayChargeRef is
// the gateway's transaction identifier and the natural idempotency key: a
// webhook replaying an already-recorded ref must not produce a second row.
// Terminal rows (paid/failed) are never updated.
type Payment struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID   uint       `gorm:"not null;index" json:"subscription_id"`
	GatewayChargeRef string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"gateway_charge_ref"`
	Amount           int64      `gorm:"not null" json:"amount"`
	Currency         string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status           string     `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	IsFirstPeriod    bool       `gorm:"not null;default:false" json:"is_first_period"`
	PaidAt           *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// IsTerminal reports whether the payment reached a final status.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusPaid || p.Status == PaymentStatusFailed
}
