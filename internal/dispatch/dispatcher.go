// Package dispatch applies provider events to subscription state.
//
// Dispatch never touches the event log or the retry queue, and never decides
// retry policy: any error is handed back to the caller unchanged.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/subscription-webhooks/internal/model"
	"github.com/richardliu001/subscription-webhooks/internal/notify"
	"github.com/richardliu001/subscription-webhooks/internal/pkg/clock"
	"github.com/richardliu001/subscription-webhooks/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidPayload means the event data could not be decoded.
	ErrInvalidPayload = errors.New("invalid event payload")
	// ErrSubscriptionNotFound means a non-creation event referenced an unknown subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// DefaultPeriod is applied when the provider omits a renewal date.
const DefaultPeriod = 30 * 24 * time.Hour

// Notifier receives post-commit side effects. It has no error result.
type Notifier interface {
	Notify(ctx context.Context, n notify.PaymentFailedNotice)
}

type handler func(ctx context.Context, tx *gorm.DB, p *SubscriptionPayload) (*model.Subscription, error)

// Dispatcher routes events to their handlers.
type Dispatcher struct {
	repo     repo.SubscriptionRepository
	notifier Notifier
	clock    clock.Clock
	log      *zap.SugaredLogger
	handlers map[Kind]handler
}

// NewDispatcher wires every known kind to its handler. notifier may be nil.
func NewDispatcher(r repo.SubscriptionRepository, n Notifier, clk clock.Clock, log *zap.SugaredLogger) *Dispatcher {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	d := &Dispatcher{repo: r, notifier: n, clock: clk, log: log.Named("dispatch")}
	d.handlers = map[Kind]handler{
		KindSubscriptionCreated:        d.created,
		KindSubscriptionUpdated:        d.updated,
		KindSubscriptionCancelled:      d.cancelled,
		KindSubscriptionResumed:        d.resumed,
		KindSubscriptionExpired:        d.expired,
		KindSubscriptionPaused:         d.setStatus(model.SubscriptionPaused),
		KindSubscriptionUnpaused:       d.setStatus(model.SubscriptionActive),
		KindSubscriptionPaymentSuccess: d.paymentSuccess,
		KindSubscriptionPaymentFailed:  d.setStatus(model.SubscriptionPastDue),
	}
	return d
}

// Dispatch applies one event inside a single transaction.
func (d *Dispatcher) Dispatch(ctx context.Context, eventName string, payload []byte) error {
	kind := ParseKind(eventName)
	h, ok := d.handlers[kind]
	if !ok {
		d.log.Infow("ignoring unhandled event", "event_name", eventName)
		return nil
	}

	p, err := decodePayload(payload)
	if err != nil {
		return err
	}

	var sub *model.Subscription
	err = d.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := h(ctx, tx, p)
		sub = s
		return err
	})
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", kind, err)
	}

	if kind == KindSubscriptionPaymentFailed && d.notifier != nil {
		d.notifier.Notify(ctx, paymentFailedNotice(sub, p, d.clock.Now()))
	}
	d.log.Debugw("event applied", "kind", kind.String(), "subscription_id", p.SubscriptionID)
	return nil
}

func (d *Dispatcher) load(ctx context.Context, tx *gorm.DB, externalID string) (*model.Subscription, error) {
	s, err := d.repo.GetSubscriptionForUpdate(ctx, tx, externalID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, externalID)
	}
	return s, err
}

func (d *Dispatcher) apply(ctx context.Context, tx *gorm.DB, s *model.Subscription, fields map[string]interface{}) (*model.Subscription, error) {
	if err := d.repo.UpdateSubscription(ctx, tx, s.ID, fields); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Dispatcher) periodEnd(p *SubscriptionPayload) time.Time {
	if p.RenewsAt != nil {
		return p.RenewsAt.UTC()
	}
	return d.clock.Now().Add(DefaultPeriod)
}

func (d *Dispatcher) created(ctx context.Context, tx *gorm.DB, p *SubscriptionPayload) (*model.Subscription, error) {
	status := p.Status
	if status == "" {
		status = model.SubscriptionActive
	}
	s, err := d.repo.GetSubscriptionForUpdate(ctx, tx, p.SubscriptionID)
	if errors.Is(err, repo.ErrNotFound) {
		// upsert: a concurrent creation may commit the same row first
		s = &model.Subscription{
			ExternalID:        p.SubscriptionID,
			CustomerID:        p.CustomerID,
			UserEmail:         p.UserEmail,
			ProductID:         p.ProductID,
			VariantID:         p.VariantID,
			Status:            status,
			Amount:            amountOr(p.Amount, decimal.Zero),
			Currency:          p.Currency,
			CurrentPeriodEnd:  d.periodEnd(p),
			CancelAtPeriodEnd: p.Cancelled != nil && *p.Cancelled,
			TrialEndsAt:       utcPtr(p.TrialEndsAt),
			EndsAt:            utcPtr(p.EndsAt),
		}
		return s, d.repo.CreateSubscription(ctx, tx, s)
	}
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"status":             status,
		"current_period_end": d.periodEnd(p),
	}
	mergeOptional(fields, p)
	return d.apply(ctx, tx, s, fields)
}

func (d *Dispatcher) updated(ctx context.Context, tx *gorm.DB, p *SubscriptionPayload) (*model.Subscription, error) {
	s, err := d.load(ctx, tx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if p.Status != "" {
		fields["status"] = p.Status
	}
	if p.RenewsAt != nil || s.CurrentPeriodEnd.IsZero() {
		fields["current_period_end"] = d.periodEnd(p)
	}
	mergeOptional(fields, p)
	if len(fields) == 0 {
		return s, nil
	}
	return d.apply(ctx, tx, s, fields)
}

func (d *Dispatcher) cancelled(ctx context.Context, tx *gorm.DB, p *SubscriptionPayload) (*model.Subscription, error) {
	s, err := d.load(ctx, tx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	endsAt := s.CurrentPeriodEnd
	if p.EndsAt != nil {
		endsAt = p.EndsAt.UTC()
	}
	return d.apply(ctx, tx, s, map[string]interface{}{
		"status":               model.SubscriptionCancelled,
		"cancel_at_period_end": true,
		"ends_at":              &endsAt,
	})
}

func (d *Dispatcher) resumed(ctx context.Context, tx *gorm.DB, p *SubscriptionPayload) (*model.Subscription, error) {
	s, err := d.load(ctx, tx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"status":               model.SubscriptionActive,
		"cancel_at_period_end": false,
		"ends_at":              nil,
	}
	if p.RenewsAt != nil {
		fields["current_period_end"] = p.RenewsAt.UTC()
	}
	return d.apply(ctx, tx, s, fields)
}

func (d *Dispatcher) expired(ctx context.Context, tx *gorm.DB, p *SubscriptionPayload) (*model.Subscription, error) {
	s, err := d.load(ctx, tx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	endsAt := d.clock.Now()
	if p.EndsAt != nil {
		endsAt = p.EndsAt.UTC()
	}
	return d.apply(ctx, tx, s, map[string]interface{}{
		"status":  model.SubscriptionExpired,
		"ends_at": &endsAt,
	})
}

func (d *Dispatcher) paymentSuccess(ctx context.Context, tx *gorm.DB, p *SubscriptionPayload) (*model.Subscription, error) {
	s, err := d.load(ctx, tx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"status":             model.SubscriptionActive,
		"current_period_end": d.periodEnd(p),
	}
	if p.Amount != nil {
		fields["amount"] = *p.Amount
	}
	return d.apply(ctx, tx, s, fields)
}

func (d *Dispatcher) setStatus(status string) handler {
	return func(ctx context.Context, tx *gorm.DB, p *SubscriptionPayload) (*model.Subscription, error) {
		s, err := d.load(ctx, tx, p.SubscriptionID)
		if err != nil {
			return nil, err
		}
		return d.apply(ctx, tx, s, map[string]interface{}{"status": status})
	}
}

// mergeOptional copies fields the provider sent explicitly.
func mergeOptional(fields map[string]interface{}, p *SubscriptionPayload) {
	if p.Cancelled != nil {
		fields["cancel_at_period_end"] = *p.Cancelled
	}
	if p.TrialEndsAt != nil {
		fields["trial_ends_at"] = utcPtr(p.TrialEndsAt)
	}
	if p.EndsAt != nil {
		fields["ends_at"] = utcPtr(p.EndsAt)
	}
	if p.Amount != nil {
		fields["amount"] = *p.Amount
	}
	if p.Currency != "" {
		fields["currency"] = p.Currency
	}
	if p.UserEmail != "" {
		fields["user_email"] = p.UserEmail
	}
}

func paymentFailedNotice(s *model.Subscription, p *SubscriptionPayload, now time.Time) notify.PaymentFailedNotice {
	n := notify.PaymentFailedNotice{
		SubscriptionID: p.SubscriptionID,
		CustomerID:     p.CustomerID,
		Email:          p.UserEmail,
		Currency:       p.Currency,
		Reason:         p.FailureReason,
		OccurredAt:     now,
	}
	if s != nil {
		if n.Email == "" {
			n.Email = s.UserEmail
		}
		if n.CustomerID == "" {
			n.CustomerID = s.CustomerID
		}
		if n.Currency == "" {
			n.Currency = s.Currency
		}
		n.Amount = s.Amount
	}
	if p.Amount != nil {
		n.Amount = *p.Amount
	}
	return n
}

func amountOr(a *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if a == nil {
		return def
	}
	return *a
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
