package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/richardliu001/subscription-webhooks/internal/logger"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaSender_Message(t *testing.T) {
	w := &captureWriter{}
	s := NewKafkaSender(w)

	err := s.SendPaymentFailed(context.Background(), PaymentFailedNotice{
		SubscriptionID: "sub_9",
		Email:          "jo@example.com",
		Amount:         decimal.RequireFromString("12.50"),
		Currency:       "EUR",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "sub_9", string(w.msgs[0].Key))

	var got envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "subscription_payment_failed", got.Type)
	assert.Equal(t, "jo@example.com", got.Notice.Email)
	assert.True(t, got.Notice.Amount.Equal(decimal.RequireFromString("12.5")))
}

type panicSender struct{}

func (panicSender) SendPaymentFailed(context.Context, PaymentFailedNotice) error {
	panic("mailer exploded")
}

func TestBestEffort_SwallowsFailures(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	b := NewBestEffort(NewKafkaSender(w), 0, logger.NewNop())

	assert.NotPanics(t, func() {
		b.Notify(context.Background(), PaymentFailedNotice{SubscriptionID: "sub_1"})
		b.Wait()
	})

	p := NewBestEffort(panicSender{}, 0, logger.NewNop())
	assert.NotPanics(t, func() {
		p.Notify(context.Background(), PaymentFailedNotice{SubscriptionID: "sub_2"})
		p.Wait()
	})
}

func TestBestEffort_DetachedFromCallerContext(t *testing.T) {
	w := &captureWriter{}
	b := NewBestEffort(NewKafkaSender(w), 0, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Notify(ctx, PaymentFailedNotice{SubscriptionID: "sub_3"})
	b.Wait()

	require.Len(t, w.msgs, 1)
}

func TestBestEffort_NilSafe(t *testing.T) {
	var b *BestEffort
	assert.NotPanics(t, func() {
		b.Notify(context.Background(), PaymentFailedNotice{})
		b.Wait()
	})
}
