package gateway

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig bounds the automatic retry behavior for transient gateway
// failures. TotalBudget caps the whole call including backoff sleeps.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	TotalBudget  time.Duration
}

// DefaultRetryConfig returns the retry policy used in production: up to 3
// attempts, exponential backoff with jitter, at most 10s wall time.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		TotalBudget:  10 * time.Second,
	}
}

// RetryingClient wraps a Client with bounded retries for transient errors.
// Terminal gateway errors (declined, invalid credential) propagate
// immediately without retry.
type RetryingClient struct {
	inner  Client
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient wraps inner with the given retry policy.
func NewRetryingClient(inner Client, config RetryConfig) *RetryingClient {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 250 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 2 * time.Second
	}
	if config.TotalBudget <= 0 {
		config.TotalBudget = 10 * time.Second
	}
	return &RetryingClient{
		inner:  inner,
		config: config,
		sleep:  sleepContext,
	}
}

func (c *RetryingClient) ScheduleCharge(ctx context.Context, req ScheduleRequest) (string, error) {
	var ref string
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		ref, err = c.inner.ScheduleCharge(ctx, req)
		return err
	})
	return ref, err
}

func (c *RetryingClient) CancelSchedule(ctx context.Context, scheduleRef, idempotencyKey string) error {
	return c.retry(ctx, func(ctx context.Context) error {
		return c.inner.CancelSchedule(ctx, scheduleRef, idempotencyKey)
	})
}

func (c *RetryingClient) ChargeNow(ctx context.Context, billingKeyRef string, amount int64, currency, idempotencyKey string) (string, error) {
	var ref string
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		ref, err = c.inner.ChargeNow(ctx, billingKeyRef, amount, currency, idempotencyKey)
		return err
	})
	return ref, err
}

func (c *RetryingClient) GetChargeStatus(ctx context.Context, chargeRef string) (ChargeStatus, error) {
	var status ChargeStatus
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		status, err = c.inner.GetChargeStatus(ctx, chargeRef)
		return err
	})
	return status, err
}

func (c *RetryingClient) retry(ctx context.Context, call func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.TotalBudget)
	defer cancel()

	var lastErr error
	delay := c.config.InitialDelay
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		var gwErr *Error
		if !errors.As(lastErr, &gwErr) || !gwErr.Retriable() {
			return lastErr
		}
		if attempt == c.config.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, jitter(delay)); err != nil {
			return lastErr
		}
		delay *= 2
		if delay > c.config.MaxDelay {
			delay = c.config.MaxDelay
		}
	}
	return lastErr
}

// jitter randomizes a delay into [d/2, d) so concurrent retriers spread out.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
