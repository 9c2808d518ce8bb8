package service

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/subscription-webhooks/internal/pkg/clock"
	"github.com/richardliu001/subscription-webhooks/internal/repo"
	"go.uber.org/zap"
)

// Maintenance holds the day-granularity housekeeping jobs.
type Maintenance struct {
	events    repo.EventStore
	subs      repo.SubscriptionRepository
	clock     clock.Clock
	log       *zap.SugaredLogger
	retention time.Duration
}

// NewMaintenance returns Maintenance. Processed events older than retention are pruned.
func NewMaintenance(events repo.EventStore, subs repo.SubscriptionRepository, clk clock.Clock, retention time.Duration, logger *zap.SugaredLogger) *Maintenance {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Maintenance{events: events, subs: subs, clock: clk, log: logger.Named("maintenance"), retention: retention}
}

// ExpireLapsedSubscriptions flips cancelled subscriptions past their end date to expired.
func (m *Maintenance) ExpireLapsedSubscriptions(ctx context.Context) error {
	n, err := m.subs.ExpireLapsed(ctx, m.clock.Now())
	if err != nil {
		return fmt.Errorf("expire lapsed subscriptions: %w", err)
	}
	m.log.Infow("lapsed subscriptions expired", "count", n)
	return nil
}

// PruneProcessedEvents removes processed events past the retention window.
func (m *Maintenance) PruneProcessedEvents(ctx context.Context) error {
	if m.retention <= 0 {
		return nil
	}
	n, err := m.events.PruneProcessed(ctx, m.clock.Now().Add(-m.retention))
	if err != nil {
		return fmt.Errorf("prune processed events: %w", err)
	}
	m.log.Infow("processed events pruned", "count", n)
	return nil
}

// ReportFailedEvents logs permanently failed events so operators can replay them.
func (m *Maintenance) ReportFailedEvents(ctx context.Context) error {
	failed, err := m.events.GetFailed(ctx, repo.MaxPageSize)
	if err != nil {
		return fmt.Errorf("load failed events: %w", err)
	}
	if len(failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(failed))
	for _, evt := range failed {
		ids = append(ids, evt.ID)
	}
	m.log.Warnw("permanently failed webhook events", "count", len(failed), "event_ids", ids)
	return nil
}
