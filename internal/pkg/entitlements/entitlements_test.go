package entitlements

import (
	"testing"

	"github.com/rebillhq/rebill/app/models"
)

func TestEntitled(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{status: models.SubscriptionStatusActive, want: true},
		{status: models.SubscriptionStatusAwaitingFirstCharge, want: true},
		{status: models.SubscriptionStatusPastDue, want: true},
		{status: models.SubscriptionStatusCanceled, want: false},
		{status: "ACTIVE", want: true},
		{status: "", want: false},
		{status: "unknown", want: false},
	}
	for _, tt := range tests {
		if got := Entitled(tt.status); got != tt.want {
			t.Fatalf("Entitled(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPastDueEntitlementKnob(t *testing.T) {
	t.Setenv("ENTITLE_PAST_DUE", "false")
	if Entitled(models.SubscriptionStatusPastDue) {
		t.Fatalf("expected past_due to lose entitlement when disabled")
	}

	t.Setenv("ENTITLE_PAST_DUE", "true")
	if !Entitled(models.SubscriptionStatusPastDue) {
		t.Fatalf("expected past_due entitlement when enabled")
	}
}
