package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionPayload is the "data" object of a subscription event.
type SubscriptionPayload struct {
	SubscriptionID string           `json:"subscription_id"`
	CustomerID     string           `json:"customer_id"`
	UserEmail      string           `json:"user_email"`
	ProductID      string           `json:"product_id"`
	VariantID      string           `json:"variant_id"`
	Status         string           `json:"status"`
	Amount         *decimal.Decimal `json:"amount"`
	Currency       string           `json:"currency"`
	RenewsAt       *time.Time       `json:"renews_at"`
	EndsAt         *time.Time       `json:"ends_at"`
	TrialEndsAt    *time.Time       `json:"trial_ends_at"`
	Cancelled      *bool            `json:"cancelled"`
	FailureReason  string           `json:"failure_reason"`
}

func decodePayload(raw []byte) (*SubscriptionPayload, error) {
	var p SubscriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.SubscriptionID = strings.TrimSpace(p.SubscriptionID)
	if p.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription_id is required", ErrInvalidPayload)
	}
	return &p, nil
}
