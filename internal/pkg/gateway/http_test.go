package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestHTTPClient(srv *httptest.Server) *HTTPClient {
	return &HTTPClient{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func TestHTTPClientScheduleCharge(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		var req ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.BillingKeyRef != "bk_1" || req.Amount != 2000 {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"schedule_ref": "sch_42"})
	}))
	defer srv.Close()

	client := newTestHTTPClient(srv)
	ref, err := client.ScheduleCharge(context.Background(), ScheduleRequest{
		BillingKeyRef:  "bk_1",
		Amount:         2000,
		Currency:       "EUR",
		ScheduledAt:    time.Now().Add(30 * 24 * time.Hour),
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "sch_42" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if gotKey != "idem-1" {
		t.Fatalf("expected idempotency key header, got %q", gotKey)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestHTTPClientMapsServerErrorsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestHTTPClient(srv)
	_, err := client.ScheduleCharge(context.Background(), ScheduleRequest{BillingKeyRef: "bk", IdempotencyKey: "k"})

	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if gwErr.Kind != KindUnavailable {
		t.Fatalf("expected unavailable kind, got %s", gwErr.Kind)
	}
	if !gwErr.Retriable() {
		t.Fatalf("expected 5xx to be retriable")
	}
}

func TestHTTPClientMapsDeclinedCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "card_declined", "message": "insufficient funds"},
		})
	}))
	defer srv.Close()

	client := newTestHTTPClient(srv)
	_, err := client.ChargeNow(context.Background(), "bk", 2000, "EUR", "k")

	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if gwErr.Kind != KindDeclined {
		t.Fatalf("expected declined kind, got %s", gwErr.Kind)
	}
	if gwErr.Retriable() {
		t.Fatalf("declined must not be retriable")
	}
}

func TestHTTPClientMapsInvalidCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "invalid_billing_key", "message": "unknown billing key"},
		})
	}))
	defer srv.Close()

	client := newTestHTTPClient(srv)
	_, err := client.ScheduleCharge(context.Background(), ScheduleRequest{BillingKeyRef: "bk", IdempotencyKey: "k"})

	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if gwErr.Kind != KindInvalidCredential {
		t.Fatalf("expected invalid_credential kind, got %s", gwErr.Kind)
	}
}

func TestHTTPClientGetChargeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/charges/ch_7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"charge_ref": "ch_7", "status": "PAID"})
	}))
	defer srv.Close()

	client := newTestHTTPClient(srv)
	status, err := client.GetChargeStatus(context.Background(), "ch_7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != ChargeStatusPaid {
		t.Fatalf("expected PAID, got %s", status)
	}
}

func TestHTTPClientCancelSchedule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/schedules/sch_9/cancel" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestHTTPClient(srv)
	if err := client.CancelSchedule(context.Background(), "sch_9", "cancel:sch_9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
