package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/richardliu001/subscription-webhooks/internal/model"
	"github.com/richardliu001/subscription-webhooks/internal/repo"
	"go.uber.org/zap"
)

var (
	// ErrInvalidEnvelope means the inbound delivery is missing required fields.
	ErrInvalidEnvelope = errors.New("invalid webhook envelope")
	// ErrDispatchFailed is returned by operator re-triggers when the event still fails.
	ErrDispatchFailed = errors.New("dispatch failed")
)

// DefaultSweepBatch bounds the work done by one sweep.
const DefaultSweepBatch = 10

const retryWarning = "processing failed; scheduled for retry"

// Dispatcher applies an event's effect. It must not touch the event log.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventName string, payload []byte) error
}

// Envelope is the pre-verified delivery from the billing provider.
type Envelope struct {
	EventName string          `json:"eventName"`
	EventID   string          `json:"eventId"`
	Data      json.RawMessage `json:"data"`
}

// Result is what the provider sees. Received is true whenever the event was logged.
type Result struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId"`
	Cached   bool   `json:"cached,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// EventDetail is one event plus its pending retry, if any.
type EventDetail struct {
	Event     *model.Event          `json:"event"`
	RetryItem *model.RetryQueueItem `json:"retryItem"`
}

// WebhookService glues the event log, retry queue and dispatcher.
type WebhookService struct {
	events     repo.EventStore
	queue      repo.RetryQueue
	dispatcher Dispatcher
	log        *zap.SugaredLogger
	sweepLog   *zap.SugaredLogger
	sweepBatch int
}

// NewWebhookService returns WebhookService.
func NewWebhookService(events repo.EventStore, queue repo.RetryQueue, d Dispatcher, logger *zap.SugaredLogger) *WebhookService {
	return &WebhookService{
		events:     events,
		queue:      queue,
		dispatcher: d,
		log:        logger,
		sweepLog:   logger.Named("sweep"),
		sweepBatch: DefaultSweepBatch,
	}
}

// WithSweepBatch overrides the number of items pulled per sweep.
func (s *WebhookService) WithSweepBatch(n int) *WebhookService {
	if n > 0 {
		s.sweepBatch = n
	}
	return s
}

func (e *Envelope) normalize() error {
	e.EventName = strings.TrimSpace(e.EventName)
	e.EventID = strings.TrimSpace(e.EventID)
	if e.EventName == "" {
		return fmt.Errorf("%w: eventName is required", ErrInvalidEnvelope)
	}
	if e.EventID == "" {
		return fmt.Errorf("%w: eventId is required", ErrInvalidEnvelope)
	}
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		e.Data = json.RawMessage("{}")
		return nil
	}
	if data[0] != '{' || !json.Valid(data) {
		return fmt.Errorf("%w: data must be a JSON object", ErrInvalidEnvelope)
	}
	e.Data = data
	return nil
}

// Receive logs, dispatches and records the outcome of one delivery. An error
// is returned only when the event could not be logged durably.
func (s *WebhookService) Receive(ctx context.Context, env Envelope) (Result, error) {
	if err := env.normalize(); err != nil {
		return Result{}, err
	}

	id, err := s.events.LogEvent(ctx, env.EventID, env.EventName, env.Data)
	if err != nil {
		return Result{}, fmt.Errorf("log event: %w", err)
	}
	res := Result{Received: true, EventID: id}
	log := s.log.With("event_id", id, "external_id", env.EventID, "event_name", env.EventName)

	processed, err := s.events.IsProcessed(ctx, id)
	if err != nil {
		// dispatch is idempotent, so carry on
		log.Warnw("processed check failed", "error", err)
	}
	if processed {
		log.Infow("duplicate delivery ignored")
		res.Cached = true
		return res, nil
	}

	if err := s.dispatcher.Dispatch(ctx, env.EventName, env.Data); err != nil {
		log.Warnw("dispatch failed", "error", err)
		if recErr := s.events.RecordFailure(ctx, id, err, true); recErr != nil {
			log.Errorw("record failure", "error", recErr)
		}
		res.Warning = retryWarning
		return res, nil
	}

	if err := s.events.MarkProcessed(ctx, id); err != nil {
		log.Errorw("mark processed", "error", err)
		res.Warning = "processed but completion was not recorded"
		return res, nil
	}
	log.Infow("event processed")
	return res, nil
}

// Retry re-dispatches one stored event immediately.
func (s *WebhookService) Retry(ctx context.Context, id string) (Result, error) {
	evt, err := s.events.GetEvent(ctx, id)
	if err != nil {
		return Result{}, err
	}
	res := Result{Received: true, EventID: evt.ID}
	if evt.Processed {
		res.Cached = true
		return res, nil
	}
	if err := s.dispatcher.Dispatch(ctx, evt.Kind, evt.Payload); err != nil {
		if recErr := s.events.RecordFailure(ctx, id, err, true); recErr != nil {
			s.log.Errorw("record failure", "event_id", id, "error", recErr)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	if err := s.events.MarkProcessed(ctx, id); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Replay re-admits an event into processing without dispatching it.
func (s *WebhookService) Replay(ctx context.Context, id string) error {
	if err := s.events.Replay(ctx, id); err != nil {
		return err
	}
	s.log.Infow("event replayed", "event_id", id)
	return nil
}

// GetEvent returns the event together with its retry item.
func (s *WebhookService) GetEvent(ctx context.Context, id string) (*EventDetail, error) {
	evt, err := s.events.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	item, err := s.queue.GetRetryItem(ctx, id)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return &EventDetail{Event: evt, RetryItem: item}, nil
}

// ListEvents pages through the event log.
func (s *WebhookService) ListEvents(ctx context.Context, f repo.EventFilter) ([]model.Event, int64, error) {
	return s.events.ListEvents(ctx, f)
}

// Pending lists events still eligible for processing.
func (s *WebhookService) Pending(ctx context.Context, limit int) ([]model.Event, error) {
	return s.events.GetPending(ctx, limit)
}

// Failed lists permanently failed events.
func (s *WebhookService) Failed(ctx context.Context, limit int) ([]model.Event, error) {
	return s.events.GetFailed(ctx, limit)
}
