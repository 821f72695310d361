package entitlements

import (
	"strings"

	"github.com/rebillhq/rebill/app/models"
	"github.com/rebillhq/rebill/internal/pkg/env"
)

// Entitled makes "has service" an explicit function of subscription status
// instead of row existence. Whether a past_due subscription still grants
// access during its retry window is a deployment policy knob.
func Entitled(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusAwaitingFirstCharge:
		return true
	case models.SubscriptionStatusPastDue:
		return entitlePastDue()
	default:
		return false
	}
}

func entitlePastDue() bool {
	return env.GetEnv("ENTITLE_PAST_DUE", "true") != "false"
}
