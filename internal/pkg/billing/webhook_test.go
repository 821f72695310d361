package billing

import (
	"testing"
)

func TestParseChargeEvent(t *testing.T) {
	raw := []byte(`{
		"event_id": "evt_1",
		"type": "charge.succeeded",
		"data": {
			"charge_ref": "ch_abc",
			"schedule_ref": "sch_1",
			"subscription_id": "sub_pub_1",
			"amount": 2000,
			"currency": "eur",
			"is_first_period": true
		}
	}`)

	ev, err := ParseChargeEvent(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.EventID != "evt_1" || ev.EventType != EventChargeSucceeded {
		t.Fatalf("unexpected envelope: id=%q type=%q", ev.EventID, ev.EventType)
	}
	if ev.ChargeRef != "ch_abc" || ev.SubscriptionID != "sub_pub_1" {
		t.Fatalf("unexpected refs: charge=%q sub=%q", ev.ChargeRef, ev.SubscriptionID)
	}
	if ev.Amount != 2000 || ev.Currency != "EUR" {
		t.Fatalf("unexpected amount: %d %s", ev.Amount, ev.Currency)
	}
	if !ev.IsFirstPeriod {
		t.Fatalf("expected is_first_period=true")
	}
}

func TestParseChargeEventMissingFields(t *testing.T) {
	if _, err := ParseChargeEvent([]byte(`{"type":"charge.failed","data":{"subscription_id":"s"}}`)); err == nil {
		t.Fatalf("expected error for missing charge_ref")
	}
	if _, err := ParseChargeEvent([]byte(`{"type":"charge.failed","data":{"charge_ref":"c"}}`)); err == nil {
		t.Fatalf("expected error for missing subscription_id")
	}
	if _, err := ParseChargeEvent([]byte(`{"data":{}}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := ParseChargeEvent([]byte(`not-json`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestParseChargeEventUnknownTypePassesThrough(t *testing.T) {
	// Unknown event kinds parse fine without charge fields; the caller
	// acknowledges and ignores them.
	ev, err := ParseChargeEvent([]byte(`{"event_id":"evt_9","type":"refund.created","data":{}}`))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if IsChargeEvent(ev.EventType) {
		t.Fatalf("expected refund.created to not be a charge event")
	}
}

func TestIsChargeEvent(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{in: "charge.succeeded", want: true},
		{in: "charge.failed", want: true},
		{in: "CHARGE.SUCCEEDED", want: true},
		{in: "refund.created", want: false},
		{in: "", want: false},
	}
	for _, tt := range tests {
		if got := IsChargeEvent(tt.in); got != tt.want {
			t.Fatalf("IsChargeEvent(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestScheduleKeyDeterministic(t *testing.T) {
	a := ScheduleKey("sub_pub_1", 3)
	b := ScheduleKey("sub_pub_1", 3)
	if a != b {
		t.Fatalf("expected identical keys for identical inputs")
	}
	if a == ScheduleKey("sub_pub_1", 4) {
		t.Fatalf("expected different keys for different cycles")
	}
	if a == ScheduleKey("sub_pub_2", 3) {
		t.Fatalf("expected different keys for different subscriptions")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256 key, got %d chars", len(a))
	}
}
