// Package notify delivers the outbound side effects of webhook processing.
// Delivery is best effort: callers never see a notification error.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentFailedNotice asks the mailer to tell a customer their renewal failed.
type PaymentFailedNotice struct {
	SubscriptionID string          `json:"subscription_id"`
	CustomerID     string          `json:"customer_id"`
	Email          string          `json:"email"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Reason         string          `json:"reason,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Sender performs the actual delivery and may fail.
type Sender interface {
	SendPaymentFailed(ctx context.Context, n PaymentFailedNotice) error
}

// BestEffort runs a Sender in the background. Failures go to its own logger.
type BestEffort struct {
	sender  Sender
	log     *zap.SugaredLogger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBestEffort wraps sender. A zero timeout defaults to ten seconds.
func NewBestEffort(sender Sender, timeout time.Duration, log *zap.SugaredLogger) *BestEffort {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BestEffort{sender: sender, log: log.Named("notify"), timeout: timeout}
}

// Notify schedules delivery and returns immediately.
func (b *BestEffort) Notify(ctx context.Context, n PaymentFailedNotice) {
	if b == nil || b.sender == nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.Errorw("payment failed notice panicked", "subscription_id", n.SubscriptionID, "panic", r)
			}
		}()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		if err := b.sender.SendPaymentFailed(sendCtx, n); err != nil {
			b.log.Warnw("payment failed notice not sent", "subscription_id", n.SubscriptionID, "error", err)
			return
		}
		b.log.Infow("payment failed notice sent", "subscription_id", n.SubscriptionID)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (b *BestEffort) Wait() {
	if b == nil {
		return
	}
	b.wg.Wait()
}
