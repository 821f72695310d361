package billing

import "errors"

var (
	// ErrAlreadySubscribed is returned when a user already has a
	// non-canceled subscription.
	ErrAlreadySubscribed = errors.New("user already has an active subscription")

	// ErrSubscriptionNotFound is returned for unknown subscription IDs.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidSignature is returned when a webhook body does not match its
	// signature header. No state is mutated in that case.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned for webhook bodies that fail to parse.
	// The raw delivery is still recorded for auditing.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrVersionConflict is returned by compare-and-swap updates when the
	// subscription row changed underneath the caller.
	ErrVersionConflict = errors.New("subscription version conflict")
)
