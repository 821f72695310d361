package gateway

import "context"

// Client is the capability the billing orchestrator requires from the
// external payment gateway. Every mutating call carries a caller-supplied
// idempotency key so repeated requests collapse to a single effect on the
// gateway side. Implementations must return *Error for gateway failures.
type Client interface {
	// ScheduleCharge registers a future charge and returns the gateway's
	// opaque schedule reference.
	ScheduleCharge(ctx context.Context, req ScheduleRequest) (string, error)

	// CancelSchedule cancels a previously accepted schedule. Canceling an
	// already-canceled or consumed schedule is a no-op success.
	CancelSchedule(ctx context.Context, scheduleRef, idempotencyKey string) error

	// ChargeNow performs an immediate charge against a billing key. Used for
	// manual retries only, not the steady-state cycle.
	ChargeNow(ctx context.Context, billingKeyRef string, amount int64, currency, idempotencyKey string) (string, error)

	// GetChargeStatus reports the current state of a charge attempt.
	GetChargeStatus(ctx context.Context, chargeRef string) (ChargeStatus, error)
}
