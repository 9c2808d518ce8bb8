package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/subscription-webhooks/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LogEvent inserts the event or returns the id of the row already holding externalID.
func (r *Repository) LogEvent(ctx context.Context, externalID, kind string, payload []byte) (string, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	evt := &model.Event{
		ExternalID: externalID,
		Kind:       kind,
		Payload:    datatypes.JSON(payload),
		CreatedAt:  r.clock.Now(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(evt)
	if res.Error != nil {
		return "", fmt.Errorf("insert event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return evt.ID, nil
	}

	var existing model.Event
	if err := r.db.WithContext(ctx).Select("id").
		Where("external_id = ?", externalID).First(&existing).Error; err != nil {
		return "", fmt.Errorf("lookup event %s: %w", externalID, notFound(err))
	}
	return existing.ID, nil
}

// GetEvent loads one event by internal id.
func (r *Repository) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var evt model.Event
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&evt).Error; err != nil {
		return nil, notFound(err)
	}
	return &evt, nil
}

// IsProcessed consults the cache first and falls back to the database.
func (r *Repository) IsProcessed(ctx context.Context, id string) (bool, error) {
	if r.cachedProcessed(ctx, id) {
		return true, nil
	}
	var evt model.Event
	if err := r.db.WithContext(ctx).Select("processed").Where("id = ?", id).First(&evt).Error; err != nil {
		return false, notFound(err)
	}
	if evt.Processed {
		r.cacheProcessed(ctx, id)
	}
	return evt.Processed, nil
}

// MarkProcessed sets the terminal flag and drops any pending retry. Error
// fields are kept as history.
func (r *Repository) MarkProcessed(ctx context.Context, id string) error {
	now := r.clock.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Event{}).Where("id = ?", id).
			Updates(map[string]interface{}{"processed": true, "processed_at": &now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("event_id = ?", id).Delete(&model.RetryQueueItem{}).Error
	})
	if err != nil {
		return err
	}
	r.cacheProcessed(ctx, id)
	return nil
}

// RecordFailure bumps error_count and schedules the next attempt while the
// event is under MaxRetries. At or above the ceiling the retry item is removed.
// A failure reported after the event was processed elsewhere is dropped.
func (r *Repository) RecordFailure(ctx context.Context, id string, cause error, shouldRetry bool) error {
	msg := errorText(cause)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Event{}).Where("id = ? AND processed = ?", id, false).
			Updates(map[string]interface{}{
				"error_count": gorm.Expr("error_count + 1"),
				"error":       msg,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return alreadyProcessed(tx, id)
		}

		var evt model.Event
		if err := tx.Select("error_count").Where("id = ?", id).First(&evt).Error; err != nil {
			return err
		}
		if shouldRetry && evt.ErrorCount < MaxRetries {
			return r.enqueue(tx, id, RetryDelay(evt.ErrorCount))
		}
		return tx.Where("event_id = ?", id).Delete(&model.RetryQueueItem{}).Error
	})
}

// MarkPermanentlyFailed raises error_count to the ceiling and stops scheduling.
// Processed events are left alone.
func (r *Repository) MarkPermanentlyFailed(ctx context.Context, id string, cause error) error {
	msg := errorText(cause)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Event{}).Where("id = ? AND processed = ?", id, false).
			Updates(map[string]interface{}{
				"error_count": gorm.Expr("CASE WHEN error_count < ? THEN ? ELSE error_count END", MaxRetries, MaxRetries),
				"error":       msg,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return alreadyProcessed(tx, id)
		}
		return tx.Where("event_id = ?", id).Delete(&model.RetryQueueItem{}).Error
	})
}

// GetPending returns unprocessed events still under the ceiling, oldest first.
func (r *Repository) GetPending(ctx context.Context, limit int) ([]model.Event, error) {
	var evts []model.Event
	err := r.db.WithContext(ctx).
		Where("processed = ? AND error_count < ?", false, MaxRetries).
		Order("created_at asc").Limit(pageSize(limit)).Find(&evts).Error
	return evts, err
}

// GetFailed returns permanently failed events, newest first.
func (r *Repository) GetFailed(ctx context.Context, limit int) ([]model.Event, error) {
	var evts []model.Event
	err := r.db.WithContext(ctx).
		Where("processed = ? AND error_count >= ?", false, MaxRetries).
		Order("created_at desc").Limit(pageSize(limit)).Find(&evts).Error
	return evts, err
}

// ListEvents pages through events, newest first, with the total match count.
func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]model.Event, int64, error) {
	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&model.Event{})
		if f.Processed != nil {
			q = q.Where("processed = ?", *f.Processed)
		}
		return q
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	skip := f.Skip
	if skip < 0 {
		skip = 0
	}
	var evts []model.Event
	err := scoped().Order("created_at desc").Offset(skip).Limit(pageSize(f.Take)).Find(&evts).Error
	return evts, total, err
}

// Replay re-admits an event: processed and error are cleared and a retry item
// is scheduled for the next sweep. error_count is reset to 0 as well: an event
// left at the ceiling would stay out of GetPending and its first retry failure
// would be terminal, so keeping the count would not actually re-admit it.
func (r *Repository) Replay(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Event{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"processed":    false,
				"processed_at": nil,
				"error":        nil,
				"error_count":  0,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("event_id = ?", id).Delete(&model.RetryQueueItem{}).Error; err != nil {
			return err
		}
		return r.enqueue(tx, id, 0)
	})
	if err != nil {
		return err
	}
	r.dropProcessedCache(ctx, id)
	return nil
}

// PruneProcessed deletes processed events finished before the cutoff.
func (r *Repository) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed = ? AND processed_at < ?", true, before).
		Delete(&model.Event{})
	return res.RowsAffected, res.Error
}

// alreadyProcessed resolves a conditional update that matched no unprocessed
// row: nil when the event exists, ErrNotFound otherwise.
func alreadyProcessed(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&model.Event{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func pageSize(n int) int {
	if n <= 0 || n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
