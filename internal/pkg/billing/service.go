package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/rebillhq/rebill/app/models"
	"github.com/rebillhq/rebill/internal/pkg/billingdate"
	"github.com/rebillhq/rebill/internal/pkg/env"
	"github.com/rebillhq/rebill/internal/pkg/gateway"
	"gorm.io/gorm"
)

// maxCASAttempts bounds the optimistic-concurrency retry loop on a
// subscription transition before the webhook is surfaced as a 5xx (which
// triggers gateway-side redelivery).
const maxCASAttempts = 3

// Service orchestrates subscription registration, webhook reconciliation and
// cancellation. It holds no locks across gateway calls: every transition is
// gateway call first, then one short compare-and-swap write.
type Service struct {
	repo          Repository
	gateway       gateway.Client
	webhookSecret string
}

// NewService creates a billing service from injected dependencies.
func NewService(repo Repository, gw gateway.Client, webhookSecret string) *Service {
	return &Service{repo: repo, gateway: gw, webhookSecret: webhookSecret}
}

// NewServiceFromDB creates a billing service from a GORM DB handle, reading
// the webhook secret from the environment.
func NewServiceFromDB(db *gorm.DB, gw gateway.Client) *Service {
	return NewService(NewRepository(db), gw, env.GetEnv("GATEWAY_WEBHOOK_SECRET", ""))
}

// Register creates a subscription with a free first period and asks the
// gateway to schedule the first real charge. The subscription row is
// committed before the gateway call; a scheduling failure is invisible to
// the caller and repaired asynchronously by the sweeper.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Subscription, error) {
	if in.UserID == 0 || strings.TrimSpace(in.BillingKeyRef) == "" || strings.TrimSpace(in.Plan) == "" {
		return nil, errors.New("user_id, billing_key_ref and plan are required")
	}
	if in.PricePerCycle <= 0 {
		return nil, errors.New("price_per_cycle must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "EUR"
	}

	now := time.Now()
	sub := &models.Subscription{
		PublicID:          uuid.NewString(),
		UserID:            in.UserID,
		Plan:              strings.TrimSpace(in.Plan),
		PricePerCycle:     in.PricePerCycle,
		Currency:          currency,
		BillingKeyRef:     strings.TrimSpace(in.BillingKeyRef),
		Status:            models.SubscriptionStatusAwaitingFirstCharge,
		IsFirstPeriodFree: true,
		NextBillingDate:   billingdate.NextDate(now, true),
		CycleNumber:       0,
	}
	if err := s.repo.CreateSubscriptionIfNone(sub); err != nil {
		return nil, err
	}

	scheduleRef, err := s.gateway.ScheduleCharge(ctx, gateway.ScheduleRequest{
		BillingKeyRef:  sub.BillingKeyRef,
		Amount:         sub.PricePerCycle,
		Currency:       sub.Currency,
		ScheduledAt:    sub.NextBillingDate,
		IdempotencyKey: ScheduleKey(sub.PublicID, sub.CycleNumber),
	})
	if err != nil {
		log.Warnf("[Billing] Initial scheduling failed for subscription %s, handing to sweeper: %v", sub.PublicID, err)
		return sub, nil
	}

	sub.CurrentScheduleRef = &scheduleRef
	if err := s.repo.SaveSubscriptionCAS(sub); err != nil {
		// The schedule key is deterministic; the sweeper re-issues the same
		// request and the gateway collapses it into the existing schedule.
		log.Warnf("[Billing] Could not persist schedule ref for subscription %s: %v", sub.PublicID, err)
		sub.CurrentScheduleRef = nil
	}
	return sub, nil
}

// Get returns a subscription by its public ID.
func (s *Service) Get(ctx context.Context, publicID string) (*models.Subscription, error) {
	_ = ctx
	return s.repo.GetSubscriptionByPublicID(strings.TrimSpace(publicID))
}

// Cancel transitions a subscription to its terminal canceled state and makes
// a best-effort attempt to cancel any outstanding gateway schedule.
// Canceling an already-canceled subscription is a no-op success.
func (s *Service) Cancel(ctx context.Context, publicID string) (*models.Subscription, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		sub, err := s.repo.GetSubscriptionByPublicID(strings.TrimSpace(publicID))
		if err != nil {
			return nil, err
		}
		if sub.IsCanceled() {
			return sub, nil
		}

		if sub.HasOutstandingSchedule() {
			ref := *sub.CurrentScheduleRef
			if err := s.gateway.CancelSchedule(ctx, ref, "cancel:"+ref); err != nil {
				// Keep the ref so the outstanding schedule stays visible; the
				// canceled status makes it inert for the orchestrator.
				log.Warnf("[Billing] Gateway cancel failed for subscription %s (schedule %s): %v", sub.PublicID, ref, err)
			} else {
				sub.CurrentScheduleRef = nil
			}
		}

		sub.Status = models.SubscriptionStatusCanceled
		err = s.repo.SaveSubscriptionCAS(sub)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, ErrVersionConflict
}

// Reconcile consumes one payment-result webhook delivery: verify the
// signature, dedupe the delivery, record the payment and advance the
// subscription state machine. Internal scheduling failures still produce an
// Ack; only signature failures and exhausted version conflicts are surfaced
// as errors.
func (s *Service) Reconcile(ctx context.Context, rawPayload []byte, signatureHeader string) (*ReconcileOutcome, error) {
	if !VerifyWebhookSignature(rawPayload, signatureHeader, s.webhookSecret) {
		return nil, ErrInvalidSignature
	}

	ev, parseErr := ParseChargeEvent(rawPayload)
	eventID := ""
	eventType := ""
	if ev != nil {
		eventID = ev.EventID
		eventType = ev.EventType
	}
	if eventID == "" {
		sum := sha256.Sum256(rawPayload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		EventID:        eventID,
		EventType:      eventType,
		PayloadJSON:    string(rawPayload),
		SignatureValid: true,
	})
	if err != nil {
		return nil, err
	}
	reprocess := false
	if !created {
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			return &ReconcileOutcome{Duplicate: true}, nil
		}
		// The earlier delivery died mid-processing (version conflicts
		// exhausted, crash). The gateway redelivered; run it again.
		reprocess = true
	}
	if parseErr != nil {
		_ = s.repo.MarkWebhookProcessed(stored.ID, parseErr.Error())
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, parseErr)
	}
	if !IsChargeEvent(ev.EventType) {
		_ = s.repo.MarkWebhookProcessed(stored.ID, "")
		return &ReconcileOutcome{Ignored: true}, nil
	}

	outcome, procErr := s.applyChargeEvent(ctx, ev, reprocess)
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	_ = s.repo.MarkWebhookProcessed(stored.ID, errMsg)
	return outcome, procErr
}

func (s *Service) applyChargeEvent(ctx context.Context, ev *ChargeEvent, reprocess bool) (*ReconcileOutcome, error) {
	existing, err := s.repo.GetPaymentByChargeRef(ev.ChargeRef)
	if err != nil {
		return nil, err
	}
	// On reprocess the payment row may exist from the failed first attempt
	// while the subscription transition never applied; skip the dedup and
	// re-run the transition.
	if existing != nil && existing.IsTerminal() && !reprocess {
		return &ReconcileOutcome{Duplicate: true}, nil
	}

	sub, err := s.repo.GetSubscriptionByPublicID(ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			log.Warnf("[Billing] Webhook for unknown subscription %s (charge %s), ignoring", ev.SubscriptionID, ev.ChargeRef)
			return &ReconcileOutcome{Ignored: true}, nil
		}
		return nil, err
	}

	if existing == nil {
		payment := &models.Payment{
			SubscriptionID:   sub.ID,
			GatewayChargeRef: ev.ChargeRef,
			Amount:           ev.Amount,
			Currency:         ev.Currency,
			IsFirstPeriod:    ev.IsFirstPeriod,
		}
		now := time.Now()
		if ev.EventType == EventChargeSucceeded {
			payment.Status = models.PaymentStatusPaid
			payment.PaidAt = &now
		} else {
			payment.Status = models.PaymentStatusFailed
		}

		inserted, err := s.repo.CreatePaymentIfNotExists(payment)
		if err != nil {
			return nil, err
		}
		if !inserted && !reprocess {
			// Lost a race against a concurrent delivery of the same charge.
			return &ReconcileOutcome{Duplicate: true}, nil
		}
	}

	if sub.IsCanceled() {
		// Canceled is terminal. The ledger keeps the charge outcome, but
		// there is no transition and no new schedule.
		log.Warnf("[Billing] Charge %s arrived for canceled subscription %s, recording only", ev.ChargeRef, sub.PublicID)
		return &ReconcileOutcome{Ignored: true}, nil
	}

	if ev.EventType == EventChargeFailed {
		return s.applyChargeFailed(sub)
	}
	return s.applyChargeSucceeded(ctx, sub)
}

// applyChargeFailed moves the subscription to past_due and clears the
// consumed schedule. The sweeper owns retries from here.
func (s *Service) applyChargeFailed(sub *models.Subscription) (*ReconcileOutcome, error) {
	for attempt := 0; ; attempt++ {
		sub.Status = models.SubscriptionStatusPastDue
		sub.CurrentScheduleRef = nil
		sub.ScheduleRetries = 0

		err := s.repo.SaveSubscriptionCAS(sub)
		if err == nil {
			return &ReconcileOutcome{}, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt+1 >= maxCASAttempts {
			return nil, err
		}
		fresh, ferr := s.repo.GetSubscriptionByPublicID(sub.PublicID)
		if ferr != nil {
			return nil, ferr
		}
		if fresh.IsCanceled() {
			return &ReconcileOutcome{Ignored: true}, nil
		}
		sub = fresh
	}
}

// applyChargeSucceeded consumes the free period at most once and schedules
// the following cycle. The gateway call happens exactly once, before the CAS
// write; a conflicting concurrent transition invalidates the obtained ref
// and hands scheduling to the sweeper instead of calling the gateway again.
func (s *Service) applyChargeSucceeded(ctx context.Context, sub *models.Subscription) (*ReconcileOutcome, error) {
	now := time.Now()
	next := billingdate.NextDate(now, false)
	scheduledCycle := sub.CycleNumber + 1

	scheduleRef, schedErr := s.gateway.ScheduleCharge(ctx, gateway.ScheduleRequest{
		BillingKeyRef:  sub.BillingKeyRef,
		Amount:         sub.PricePerCycle,
		Currency:       sub.Currency,
		ScheduledAt:    next,
		IdempotencyKey: ScheduleKey(sub.PublicID, scheduledCycle),
	})
	if schedErr != nil {
		log.Warnf("[Billing] Next-cycle scheduling failed for subscription %s, handing to sweeper: %v", sub.PublicID, schedErr)
	}

	for attempt := 0; ; attempt++ {
		sub.Status = models.SubscriptionStatusActive
		if sub.IsFirstPeriodFree && !sub.FirstPeriodConsumed {
			sub.FirstPeriodConsumed = true
		}
		sub.NextBillingDate = next
		sub.ScheduleRetries = 0
		if schedErr == nil && sub.CycleNumber+1 == scheduledCycle {
			sub.CurrentScheduleRef = &scheduleRef
		} else {
			sub.CurrentScheduleRef = nil
		}
		sub.CycleNumber++

		err := s.repo.SaveSubscriptionCAS(sub)
		if err == nil {
			return &ReconcileOutcome{}, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt+1 >= maxCASAttempts {
			return nil, err
		}
		fresh, ferr := s.repo.GetSubscriptionByPublicID(sub.PublicID)
		if ferr != nil {
			return nil, ferr
		}
		if fresh.IsCanceled() {
			// Canceled underneath us after the schedule was created; undo it
			// best-effort so no charge lands on a canceled subscription.
			if schedErr == nil {
				if cerr := s.gateway.CancelSchedule(ctx, scheduleRef, "cancel:"+scheduleRef); cerr != nil {
					log.Warnf("[Billing] Could not cancel schedule %s for canceled subscription %s: %v", scheduleRef, fresh.PublicID, cerr)
				}
			}
			return &ReconcileOutcome{Ignored: true}, nil
		}
		sub = fresh
	}
}
