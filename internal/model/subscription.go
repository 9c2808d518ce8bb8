package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionActive    = "active"
	SubscriptionOnTrial   = "on_trial"
	SubscriptionPastDue   = "past_due"
	SubscriptionPaused    = "paused"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// Subscription holds only the fields the webhook dispatcher writes.
type Subscription struct {
	ID                uint64          `gorm:"primaryKey" json:"id"`
	ExternalID        string          `gorm:"size:191;not null;uniqueIndex" json:"externalId"`
	CustomerID        string          `gorm:"size:191;index" json:"customerId"`
	UserEmail         string          `gorm:"size:320" json:"userEmail"`
	ProductID         string          `gorm:"size:64" json:"productId"`
	VariantID         string          `gorm:"size:64" json:"variantId"`
	Status            string          `gorm:"size:32;not null;index" json:"status"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'" json:"amount"`
	Currency          string          `gorm:"size:8" json:"currency"`
	CurrentPeriodEnd  time.Time       `gorm:"not null" json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool            `gorm:"not null;default:false" json:"cancelAtPeriodEnd"`
	TrialEndsAt       *time.Time      `json:"trialEndsAt,omitempty"`
	EndsAt            *time.Time      `json:"endsAt,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Subscription) TableName() string { return "subscription" }

// All lists every table owned by this service, in migration order.
func All() []interface{} {
	return []interface{}{&Event{}, &RetryQueueItem{}, &Subscription{}}
}
