package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	EventChargeSucceeded = "charge.succeeded"
	EventChargeFailed    = "charge.failed"
)

// ChargeEvent is the parsed form of a gateway payment-result webhook.
type ChargeEvent struct {
	EventID        string
	EventType      string
	ChargeRef      string
	ScheduleRef    string
	SubscriptionID string
	Amount         int64
	Currency       string
	IsFirstPeriod  bool
	FailureCode    string
	OccurredAt     time.Time
}

// ParseChargeEvent decodes a webhook payload. Only the envelope is
// validated here; unknown event types are reported via IsChargeEvent so the
// caller can acknowledge and ignore them.
func ParseChargeEvent(payload []byte) (*ChargeEvent, error) {
	var raw struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
		Data    struct {
			ChargeRef      string    `json:"charge_ref"`
			ScheduleRef    string    `json:"schedule_ref"`
			SubscriptionID string    `json:"subscription_id"`
			Amount         int64     `json:"amount"`
			Currency       string    `json:"currency"`
			IsFirstPeriod  bool      `json:"is_first_period"`
			FailureCode    string    `json:"failure_code"`
			OccurredAt     time.Time `json:"occurred_at"`
		} `json:"data"`
	}

	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	ev := &ChargeEvent{
		EventID:        strings.TrimSpace(raw.EventID),
		EventType:      strings.ToLower(strings.TrimSpace(raw.Type)),
		ChargeRef:      strings.TrimSpace(raw.Data.ChargeRef),
		ScheduleRef:    strings.TrimSpace(raw.Data.ScheduleRef),
		SubscriptionID: strings.TrimSpace(raw.Data.SubscriptionID),
		Amount:         raw.Data.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(raw.Data.Currency)),
		IsFirstPeriod:  raw.Data.IsFirstPeriod,
		FailureCode:    strings.TrimSpace(raw.Data.FailureCode),
		OccurredAt:     raw.Data.OccurredAt,
	}

	if ev.EventType == "" {
		return nil, errors.New("webhook payload missing event type")
	}
	if IsChargeEvent(ev.EventType) {
		if ev.ChargeRef == "" {
			return nil, errors.New("webhook payload missing charge_ref")
		}
		if ev.SubscriptionID == "" {
			return nil, errors.New("webhook payload missing subscription_id")
		}
	}
	return ev, nil
}

// IsChargeEvent reports whether the event type carries a terminal charge
// outcome this service reconciles. Anything else is acknowledged untouched
// for forward compatibility.
func IsChargeEvent(eventType string) bool {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case EventChargeSucceeded, EventChargeFailed:
		return true
	default:
		return false
	}
}
