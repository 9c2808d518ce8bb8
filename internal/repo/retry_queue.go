package repo

import (
	"context"
	"time"

	"github.com/richardliu001/subscription-webhooks/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Enqueue creates the retry item or pushes an existing one forward in one
// upsert statement.
func (r *Repository) Enqueue(ctx context.Context, eventID string, delay time.Duration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.enqueue(tx, eventID, delay)
	})
}

func (r *Repository) enqueue(tx *gorm.DB, eventID string, delay time.Duration) error {
	now := r.clock.Now()
	next := now.Add(delay)
	item := model.RetryQueueItem{EventID: eventID, NextRetryAt: next, RetryCount: 1, CreatedAt: now, UpdatedAt: now}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"next_retry_at": next,
			"retry_count":   gorm.Expr("webhook_retry_queue.retry_count + 1"),
			"updated_at":    now,
		}),
	}).Create(&item).Error
}

// DueItems returns items whose next_retry_at has passed, earliest first.
func (r *Repository) DueItems(ctx context.Context, limit int) ([]model.RetryQueueItem, error) {
	var items []model.RetryQueueItem
	err := r.db.WithContext(ctx).
		Where("next_retry_at <= ?", r.clock.Now()).
		Order("next_retry_at asc").Limit(limit).Find(&items).Error
	return items, err
}

// RemoveRetry deletes the item for eventID. Missing items are not an error.
func (r *Repository) RemoveRetry(ctx context.Context, eventID string) error {
	return r.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&model.RetryQueueItem{}).Error
}

// GetRetryItem returns the pending item for eventID, or ErrNotFound.
func (r *Repository) GetRetryItem(ctx context.Context, eventID string) (*model.RetryQueueItem, error) {
	var item model.RetryQueueItem
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}
