package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rebillhq/rebill/internal/pkg/env"
)

const defaultGatewayTimeout = 10 * time.Second

// HTTPClient talks JSON over HTTP to the payment gateway.
type HTTPClient struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

// NewHTTPClientFromEnv builds a gateway client from environment configuration.
func NewHTTPClientFromEnv() *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(env.GetEnv("GATEWAY_BASE_URL", "http://localhost:8089"), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("GATEWAY_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: defaultGatewayTimeout,
		},
	}
}

type scheduleResponse struct {
	ScheduleRef string `json:"schedule_ref"`
}

type chargeResponse struct {
	ChargeRef string `json:"charge_ref"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ScheduleCharge registers a future charge with the gateway.
func (c *HTTPClient) ScheduleCharge(ctx context.Context, req ScheduleRequest) (string, error) {
	if strings.TrimSpace(req.BillingKeyRef) == "" {
		return "", NewError(KindRejected, "billing key ref is required")
	}
	if req.IdempotencyKey == "" {
		return "", NewError(KindRejected, "idempotency key is required")
	}

	var out scheduleResponse
	if err := c.do(ctx, http.MethodPost, "/v1/schedules", req.IdempotencyKey, req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ScheduleRef) == "" {
		return "", NewError(KindRejected, "gateway returned empty schedule_ref")
	}
	return out.ScheduleRef, nil
}

// CancelSchedule cancels an outstanding schedule.
func (c *HTTPClient) CancelSchedule(ctx context.Context, scheduleRef, idempotencyKey string) error {
	if strings.TrimSpace(scheduleRef) == "" {
		return NewError(KindRejected, "schedule ref is required")
	}
	path := "/v1/schedules/" + scheduleRef + "/cancel"
	return c.do(ctx, http.MethodPost, path, idempotencyKey, nil, nil)
}

// ChargeNow performs an immediate charge against a stored billing key.
func (c *HTTPClient) ChargeNow(ctx context.Context, billingKeyRef string, amount int64, currency, idempotencyKey string) (string, error) {
	if strings.TrimSpace(billingKeyRef) == "" {
		return "", NewError(KindRejected, "billing key ref is required")
	}
	body := map[string]interface{}{
		"billing_key_ref": billingKeyRef,
		"amount":          amount,
		"currency":        currency,
	}
	var out chargeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/charges", idempotencyKey, body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ChargeRef) == "" {
		return "", NewError(KindRejected, "gateway returned empty charge_ref")
	}
	return out.ChargeRef, nil
}

// GetChargeStatus reports the gateway-side state of a charge attempt.
func (c *HTTPClient) GetChargeStatus(ctx context.Context, chargeRef string) (ChargeStatus, error) {
	if strings.TrimSpace(chargeRef) == "" {
		return "", NewError(KindRejected, "charge ref is required")
	}
	var out chargeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+chargeRef, "", nil, &out); err != nil {
		return "", err
	}
	switch strings.ToUpper(strings.TrimSpace(out.Status)) {
	case string(ChargeStatusPaid):
		return ChargeStatusPaid, nil
	case string(ChargeStatusFailed):
		return ChargeStatusFailed, nil
	default:
		return ChargeStatusPending, nil
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return NewError(KindRejected, "encode request: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return NewError(KindRejected, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return NewError(KindTimeout, "gateway request timed out: %v", err)
		}
		return NewError(KindUnavailable, "gateway unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return NewError(KindRejected, "decode response: %v", err)
		}
		return nil
	}

	return c.mapErrorResponse(resp.StatusCode, body)
}

func (c *HTTPClient) mapErrorResponse(status int, body []byte) error {
	if status >= 500 {
		return NewError(KindUnavailable, "gateway returned status=%d body=%s", status, truncate(body, 256))
	}
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return NewError(KindTimeout, "gateway returned status=%d", status)
	}

	var er errorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("status=%d body=%s", status, truncate(body, 256))
	}
	switch strings.ToLower(strings.TrimSpace(er.Error.Code)) {
	case "invalid_billing_key", "invalid_credential":
		return NewError(KindInvalidCredential, "%s", msg)
	case "card_declined", "insufficient_funds", "declined":
		return NewError(KindDeclined, "%s", msg)
	default:
		return NewError(KindRejected, "%s", msg)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
