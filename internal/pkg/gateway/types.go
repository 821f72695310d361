package gateway

import (
	"fmt"
	"time"
)

// ChargeStatus is the gateway-reported state of a single charge attempt.
type ChargeStatus string

const (
	ChargeStatusPending ChargeStatus = "PENDING"
	ChargeStatusPaid    ChargeStatus = "PAID"
	ChargeStatusFailed  ChargeStatus = "FAILED"
)

// ScheduleRequest is the command issued to the gateway for a future charge.
// IdempotencyKey is derived deterministically from the subscription and cycle
// number so that a retried call after a timeout cannot create a duplicate
// future charge.
type ScheduleRequest struct {
	BillingKeyRef  string    `json:"billing_key_ref"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	IdempotencyKey string    `json:"-"`
}

// ErrorKind classifies gateway failures into retriable transport problems
// and terminal business rejections.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindUnavailable       ErrorKind = "unavailable"
	KindInvalidCredential ErrorKind = "invalid_credential"
	KindDeclined          ErrorKind = "declined"
	KindRejected          ErrorKind = "rejected"
)

// Error is a typed gateway failure. Only timeout/unavailable kinds may be
// retried; the rest must propagate immediately.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error (%s): %s", e.Kind, e.Message)
}

// Retriable reports whether the failure is transient.
func (e *Error) Retriable() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnavailable
}

// NewError creates a typed gateway error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
