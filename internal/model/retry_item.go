package model

import "time"

// RetryQueueItem schedules the next attempt for a failed event. At most one per event.
type RetryQueueItem struct {
	ID          uint64    `gorm:"primaryKey" json:"-"`
	EventID     string    `gorm:"size:36;not null;uniqueIndex" json:"eventId"`
	NextRetryAt time.Time `gorm:"not null;index" json:"nextRetryAt"`
	RetryCount  int       `gorm:"not null" json:"retryCount"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (RetryQueueItem) TableName() string { return "webhook_retry_queue" }
