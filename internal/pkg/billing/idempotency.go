package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ScheduleKey derives the deterministic idempotency key for scheduling the
// charge of one billing cycle. Retried scheduling calls for the same
// (subscription, cycle) pair always carry the same key, so the gateway
// collapses them into a single future charge.
func ScheduleKey(subscriptionPublicID string, cycle int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", subscriptionPublicID, cycle)))
	return hex.EncodeToString(sum[:])
}
