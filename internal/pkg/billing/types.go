package billing

// RegisterInput is the normalized input for subscription registration. The
// billing key ref is the gateway's opaque handle for a stored payment
// credential; raw card data never reaches this subsystem.
type RegisterInput struct {
	UserID        uint
	BillingKeyRef string
	Plan          string
	PricePerCycle int64
	Currency      string
}

// ReconcileOutcome tells the webhook endpoint how a delivery was consumed.
// Duplicate and Ignored are both acknowledged with 200 so the gateway stops
// redelivering.
type ReconcileOutcome struct {
	Duplicate bool
	Ignored   bool
}
