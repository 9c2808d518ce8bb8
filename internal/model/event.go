package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is one durably logged provider notification. ExternalID is the dedupe key.
type Event struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	ExternalID  string         `gorm:"size:191;not null;uniqueIndex" json:"externalId"`
	Kind        string         `gorm:"size:64;not null;index" json:"kind"`
	Payload     datatypes.JSON `gorm:"not null" json:"payload"`
	Processed   bool           `gorm:"not null;default:false;index" json:"processed"`
	ProcessedAt *time.Time     `json:"processedAt,omitempty"`
	Error       *string        `gorm:"type:text" json:"error,omitempty"`
	ErrorCount  int            `gorm:"not null;default:0" json:"errorCount"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (Event) TableName() string { return "webhook_event" }

// BeforeCreate assigns the internal id.
func (e *Event) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
