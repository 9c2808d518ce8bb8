package repo

import (
	"context"
	"time"

	"github.com/richardliu001/subscription-webhooks/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetSubscriptionForUpdate locks the subscription row by provider id.
func (r *Repository) GetSubscriptionForUpdate(ctx context.Context, tx *gorm.DB, externalID string) (*model.Subscription, error) {
	var s model.Subscription
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_id = ?", externalID).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// subscriptionUpsertColumns are overwritten when a concurrent creation already
// inserted the same external_id.
var subscriptionUpsertColumns = []string{
	"customer_id", "user_email", "product_id", "variant_id", "status", "amount", "currency",
	"current_period_end", "cancel_at_period_end", "trial_ends_at", "ends_at", "updated_at",
}

// CreateSubscription inserts record, or overwrites the row that already holds
// its external_id (last write wins).
func (r *Repository) CreateSubscription(ctx context.Context, tx *gorm.DB, s *model.Subscription) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(subscriptionUpsertColumns),
	}).Create(s).Error
}

// UpdateSubscription writes the given columns.
func (r *Repository) UpdateSubscription(ctx context.Context, tx *gorm.DB, id uint64, fields map[string]interface{}) error {
	res := tx.WithContext(ctx).Model(&model.Subscription{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireLapsed moves cancelled subscriptions whose end date passed to expired.
func (r *Repository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("status = ? AND COALESCE(ends_at, current_period_end) <= ?", model.SubscriptionCancelled, now).
		Updates(map[string]interface{}{"status": model.SubscriptionExpired})
	return res.RowsAffected, res.Error
}
