package sweeper

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/rebillhq/rebill/app/models"
	"github.com/rebillhq/rebill/internal/pkg/billing"
	"github.com/rebillhq/rebill/internal/pkg/env"
	"github.com/rebillhq/rebill/internal/pkg/gateway"
)

const (
	defaultIntervalMinutes = 2
	defaultMaxRetries      = 3
	defaultGraceHours      = 48
	defaultScanLimit       = 100

	leaseTTL = 60 * time.Second
)

// Locker is the per-subscription lease the sweeper takes before touching a
// row, so concurrently running sweepers don't double-work. A lost lease is
// harmless anyway: schedule idempotency keys make duplicate calls collapse
// on the gateway side.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Manager runs the background retry/requeue sweep: it finds subscriptions
// whose scheduling call failed (nil schedule ref), retries them with the
// same deterministic idempotency key, escalates exhausted past_due
// subscriptions to canceled, and flags possible lost-webhook cases.
type Manager struct {
	repo    billing.Repository
	gateway gateway.Client
	locker  Locker

	interval   time.Duration
	maxRetries int
	grace      time.Duration

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager creates a sweeper from injected dependencies, reading tunables
// from the environment.
func NewManager(repo billing.Repository, gw gateway.Client, locker Locker) *Manager {
	return &Manager{
		repo:       repo,
		gateway:    gw,
		locker:     locker,
		interval:   time.Duration(envInt("SWEEPER_INTERVAL_MINUTES", defaultIntervalMinutes)) * time.Minute,
		maxRetries: envInt("SWEEPER_MAX_RETRIES", defaultMaxRetries),
		grace:      time.Duration(envInt("SWEEPER_GRACE_HOURS", defaultGraceHours)) * time.Hour,
	}
}

// Start launches the background sweep loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Infof("[Sweeper] Starting retry sweep (interval: %s, max retries: %d)", m.interval, m.maxRetries)

	m.ticker = time.NewTicker(m.interval)
	m.wg.Add(1)
	go m.sweepWorker()
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Sweeper] Stopping...")
	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	log.Info("[Sweeper] Stopped")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Sweeper] Sweep worker stopping")
			return
		case <-m.ticker.C:
			if err := m.RunSweepOnce(context.Background()); err != nil {
				log.Errorf("[Sweeper] Sweep error: %v", err)
			}
		}
	}
}

// RunSweepOnce performs a single sweep pass. Exposed for manual triggering
// and tests.
func (m *Manager) RunSweepOnce(ctx context.Context) error {
	if err := m.retryMissingSchedules(ctx); err != nil {
		return err
	}
	return m.flagStaleSubscriptions(ctx)
}

func (m *Manager) retryMissingSchedules(ctx context.Context) error {
	subs, err := m.repo.ListSubscriptionsNeedingSchedule(defaultScanLimit)
	if err != nil {
		return err
	}

	for i := range subs {
		sub := subs[i]
		leaseKey := "rebill:sweep:" + sub.PublicID
		if m.locker != nil {
			ok, lockErr := m.locker.Acquire(ctx, leaseKey, leaseTTL)
			if lockErr != nil {
				// Degrade to sweeping without the lease; the idempotency key
				// keeps a racing sweeper from double-scheduling.
				log.Warnf("[Sweeper] Lease acquire failed for %s: %v", sub.PublicID, lockErr)
			} else if !ok {
				continue
			}
		}

		m.sweepSubscription(ctx, &sub)

		if m.locker != nil {
			_ = m.locker.Release(ctx, leaseKey)
		}
	}
	return nil
}

func (m *Manager) sweepSubscription(ctx context.Context, sub *models.Subscription) {
	if sub.Status == models.SubscriptionStatusPastDue && sub.ScheduleRetries >= m.maxRetries {
		m.cancelExhausted(sub)
		return
	}

	// An overdue cycle (past_due retries, long outage) charges immediately
	// instead of back-dating the schedule.
	chargeAt := sub.NextBillingDate
	if now := time.Now(); chargeAt.Before(now) {
		chargeAt = now
	}

	// Same cycle, same key: a repeat of a previously timed-out call lands on
	// the already-created schedule.
	scheduleRef, err := m.gateway.ScheduleCharge(ctx, gateway.ScheduleRequest{
		BillingKeyRef:  sub.BillingKeyRef,
		Amount:         sub.PricePerCycle,
		Currency:       sub.Currency,
		ScheduledAt:    chargeAt,
		IdempotencyKey: billing.ScheduleKey(sub.PublicID, sub.CycleNumber),
	})

	sub.ScheduleRetries++
	if err != nil {
		log.Warnf("[Sweeper] Reschedule attempt %d failed for subscription %s: %v", sub.ScheduleRetries, sub.PublicID, err)
	} else {
		sub.CurrentScheduleRef = &scheduleRef
		if sub.Status == models.SubscriptionStatusPastDue {
			// Late recovery: the cycle is schedulable again.
			sub.Status = models.SubscriptionStatusActive
		}
		log.Infof("[Sweeper] Rescheduled cycle %d for subscription %s", sub.CycleNumber, sub.PublicID)
	}

	if casErr := m.repo.SaveSubscriptionCAS(sub); casErr != nil {
		if errors.Is(casErr, billing.ErrVersionConflict) {
			// A webhook beat us to the row; next sweep sees the fresh state.
			log.Infof("[Sweeper] Skipping subscription %s after concurrent update", sub.PublicID)
			return
		}
		log.Errorf("[Sweeper] Persisting sweep result failed for subscription %s: %v", sub.PublicID, casErr)
	}
}

func (m *Manager) cancelExhausted(sub *models.Subscription) {
	sub.Status = models.SubscriptionStatusCanceled
	sub.CurrentScheduleRef = nil
	if err := m.repo.SaveSubscriptionCAS(sub); err != nil {
		if errors.Is(err, billing.ErrVersionConflict) {
			log.Infof("[Sweeper] Skipping cancellation of %s after concurrent update", sub.PublicID)
			return
		}
		log.Errorf("[Sweeper] Cancel after retry exhaustion failed for subscription %s: %v", sub.PublicID, err)
		return
	}
	log.Warnf("[Sweeper] Subscription %s canceled after %d failed scheduling retries", sub.PublicID, sub.ScheduleRetries)
}

// flagStaleSubscriptions marks subscriptions whose expected webhook never
// arrived within the grace window. Flag only; cancellation of lost-event
// cases stays a human decision.
func (m *Manager) flagStaleSubscriptions(ctx context.Context) error {
	_ = ctx
	cutoff := time.Now().Add(-m.grace)
	subs, err := m.repo.ListSubscriptionsOverdue(cutoff, defaultScanLimit)
	if err != nil {
		return err
	}
	for i := range subs {
		sub := subs[i]
		log.Warnf("[Sweeper] Subscription %s is %s past its billing date with no webhook; flagging for operators",
			sub.PublicID, time.Since(sub.NextBillingDate).Truncate(time.Minute))
		if err := m.repo.MarkFlaggedStale(sub.ID, time.Now()); err != nil {
			log.Errorf("[Sweeper] Flagging subscription %s failed: %v", sub.PublicID, err)
		}
	}
	return nil
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(env.GetEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return def
}
