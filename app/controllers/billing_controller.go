package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rebillhq/rebill/app/models"
	"github.com/rebillhq/rebill/internal/pkg/billing"
	"github.com/rebillhq/rebill/internal/pkg/entitlements"
)

// BillingController exposes the registration, cancellation and webhook entry
// points over HTTP. The billing service is injected so the handlers can be
// exercised against fakes.
type BillingController struct {
	svc      *billing.Service
	validate *validator.Validate
}

// NewBillingController creates the controller from an injected service.
func NewBillingController(svc *billing.Service) *BillingController {
	return &BillingController{
		svc:      svc,
		validate: validator.New(),
	}
}

type registerRequest struct {
	UserID        uint   `json:"user_id" validate:"required"`
	BillingKeyRef string `json:"billing_key_ref" validate:"required,min=4,max=191"`
	Plan          string `json:"plan" validate:"required,min=2,max=50"`
	PricePerCycle int64  `json:"price_per_cycle" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
}

// HandleRegister creates a subscription for a user against a billing key.
func (bc *BillingController) HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := bc.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "details": err.Error()})
	}

	ctx, cancel := requestContext()
	defer cancel()

	sub, err := bc.svc.Register(ctx, billing.RegisterInput{
		UserID:        req.UserID,
		BillingKeyRef: req.BillingKeyRef,
		Plan:          req.Plan,
		PricePerCycle: req.PricePerCycle,
		Currency:      req.Currency,
	})
	if err != nil {
		if errors.Is(err, billing.ErrAlreadySubscribed) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_subscribed"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "registration_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(subscriptionResponse(sub))
}

// HandleGetSubscription returns one subscription by its public ID.
func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()

	sub, err := bc.svc.Get(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(subscriptionResponse(sub))
}

// HandleCancel transitions a subscription to canceled. Idempotent: canceling
// twice succeeds both times.
func (bc *BillingController) HandleCancel(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()

	sub, err := bc.svc.Cancel(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cancel_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(subscriptionResponse(sub))
}

// HandleChargeWebhook consumes gateway payment-result notifications.
// Responds 200 for accepted-or-duplicate, 400 for signature/payload
// failures, 5xx only for internal errors so the gateway redelivers.
func (bc *BillingController) HandleChargeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Gateway-Signature"))

	ctx, cancel := requestContext()
	defer cancel()

	outcome, err := bc.svc.Reconcile(ctx, rawBody, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		case errors.Is(err, billing.ErrInvalidPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
		}
	}

	resp := fiber.Map{"ok": true}
	if outcome.Duplicate {
		resp["duplicate"] = true
	}
	if outcome.Ignored {
		resp["ignored"] = true
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func subscriptionResponse(sub *models.Subscription) fiber.Map {
	return fiber.Map{
		"id":                    sub.PublicID,
		"user_id":               sub.UserID,
		"plan":                  sub.Plan,
		"price_per_cycle":       sub.PricePerCycle,
		"currency":              sub.Currency,
		"status":                sub.Status,
		"is_first_period_free":  sub.IsFirstPeriodFree,
		"first_period_consumed": sub.FirstPeriodConsumed,
		"next_billing_date":     sub.NextBillingDate,
		"entitled":              entitlements.Entitled(sub.Status),
		"created_at":            sub.CreatedAt,
	}
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}
