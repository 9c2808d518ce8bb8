package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSender publishes notices for the mailer service to consume.
type KafkaSender struct {
	writer MessageWriter
}

// NewKafkaSender returns KafkaSender.
func NewKafkaSender(w MessageWriter) *KafkaSender {
	return &KafkaSender{writer: w}
}

type envelope struct {
	Type   string              `json:"type"`
	Notice PaymentFailedNotice `json:"notice"`
}

// SendPaymentFailed writes one message keyed by subscription id.
func (s *KafkaSender) SendPaymentFailed(ctx context.Context, n PaymentFailedNotice) error {
	body, err := json.Marshal(envelope{Type: "subscription_payment_failed", Notice: n})
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.SubscriptionID),
		Value: body,
		Time:  time.Now(),
	}
	return s.writer.WriteMessages(ctx, msg)
}
