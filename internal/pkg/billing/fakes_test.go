package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rebillhq/rebill/app/models"
	"github.com/rebillhq/rebill/internal/pkg/gateway"
)

// fakeRepo is an in-memory Repository with the same compare-and-swap
// semantics as the GORM implementation.
type fakeRepo struct {
	mu       sync.Mutex
	nextID   uint
	subs     map[uint]*models.Subscription
	payments map[string]*models.Payment
	events   map[string]*models.WebhookEvent

	// forcedCASConflicts makes the next n CAS writes fail as if a
	// concurrent writer always won.
	forcedCASConflicts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:     make(map[uint]*models.Subscription),
		payments: make(map[string]*models.Payment),
		events:   make(map[string]*models.WebhookEvent),
	}
}

func copySub(s *models.Subscription) *models.Subscription {
	c := *s
	if s.CurrentScheduleRef != nil {
		ref := *s.CurrentScheduleRef
		c.CurrentScheduleRef = &ref
	}
	return &c
}

func (r *fakeRepo) CreateSubscriptionIfNone(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing.UserID == sub.UserID && existing.Status != models.SubscriptionStatusCanceled {
			return ErrAlreadySubscribed
		}
	}
	r.nextID++
	sub.ID = r.nextID
	sub.CreatedAt = time.Now()
	r.subs[sub.ID] = copySub(sub)
	return nil
}

func (r *fakeRepo) GetSubscriptionByPublicID(publicID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.PublicID == publicID {
			return copySub(s), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *fakeRepo) SaveSubscriptionCAS(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forcedCASConflicts > 0 {
		r.forcedCASConflicts--
		return ErrVersionConflict
	}
	stored, ok := r.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if stored.Version != sub.Version {
		return ErrVersionConflict
	}
	sub.Version++
	r.subs[sub.ID] = copySub(sub)
	return nil
}

func (r *fakeRepo) GetPaymentByChargeRef(chargeRef string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[chargeRef]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (r *fakeRepo) CreatePaymentIfNotExists(payment *models.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[payment.GatewayChargeRef]; ok {
		return false, nil
	}
	r.nextID++
	payment.ID = r.nextID
	payment.CreatedAt = time.Now()
	c := *payment
	r.payments[payment.GatewayChargeRef] = &c
	return true, nil
}

func (r *fakeRepo) ListSubscriptionsNeedingSchedule(limit int) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subs {
		switch s.Status {
		case models.SubscriptionStatusAwaitingFirstCharge, models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
			if s.CurrentScheduleRef == nil && len(out) < limit {
				out = append(out, *copySub(s))
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) ListSubscriptionsOverdue(cutoff time.Time, limit int) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subs {
		switch s.Status {
		case models.SubscriptionStatusAwaitingFirstCharge, models.SubscriptionStatusActive:
			if s.CurrentScheduleRef != nil && s.NextBillingDate.Before(cutoff) && s.FlaggedStaleAt == nil && len(out) < limit {
				out = append(out, *copySub(s))
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkFlaggedStale(subscriptionID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[subscriptionID]; ok {
		s.FlaggedStaleAt = &at
	}
	return nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.events[event.EventID]; ok {
		c := *stored
		return false, &c, nil
	}
	r.nextID++
	event.ID = r.nextID
	c := *event
	r.events[event.EventID] = &c
	return true, &c, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, e := range r.events {
		if e.ID == id {
			e.ProcessedAt = &now
			e.ProcessingError = processingError
		}
	}
	return nil
}

func (r *fakeRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

func (r *fakeRepo) storedSub(id uint) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copySub(r.subs[id])
}

// fakeGateway records calls and fails on demand.
type fakeGateway struct {
	mu            sync.Mutex
	scheduleCalls []gateway.ScheduleRequest
	cancelCalls   []string
	scheduleErr   error
	cancelErr     error
	refSeq        int
}

func (g *fakeGateway) ScheduleCharge(ctx context.Context, req gateway.ScheduleRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scheduleCalls = append(g.scheduleCalls, req)
	if g.scheduleErr != nil {
		return "", g.scheduleErr
	}
	g.refSeq++
	return fmt.Sprintf("sch_%d", g.refSeq), nil
}

func (g *fakeGateway) CancelSchedule(ctx context.Context, scheduleRef, idempotencyKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls = append(g.cancelCalls, scheduleRef)
	return g.cancelErr
}

func (g *fakeGateway) ChargeNow(ctx context.Context, billingKeyRef string, amount int64, currency, idempotencyKey string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refSeq++
	return fmt.Sprintf("ch_%d", g.refSeq), nil
}

func (g *fakeGateway) GetChargeStatus(ctx context.Context, chargeRef string) (gateway.ChargeStatus, error) {
	return gateway.ChargeStatusPending, nil
}

func (g *fakeGateway) scheduleCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.scheduleCalls)
}

func (g *fakeGateway) lastScheduleCall() gateway.ScheduleRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scheduleCalls[len(g.scheduleCalls)-1]
}
