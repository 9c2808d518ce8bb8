package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardliu001/subscription-webhooks/internal/model"
	"github.com/richardliu001/subscription-webhooks/internal/repo"
)

// SweepReport summarises one pass over the retry queue.
type SweepReport struct {
	Picked      int `json:"picked"`
	Succeeded   int `json:"succeeded"`
	Rescheduled int `json:"rescheduled"`
	Dead        int `json:"dead"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

// Sweep re-dispatches due retry items, at most sweepBatch per call.
func (s *WebhookService) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	items, err := s.queue.DueItems(ctx, s.sweepBatch)
	if err != nil {
		return rep, fmt.Errorf("due items: %w", err)
	}
	rep.Picked = len(items)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		s.sweepOne(ctx, item, &rep)
	}
	if rep.Picked > 0 {
		s.sweepLog.Infow("retry sweep finished",
			"picked", rep.Picked, "succeeded", rep.Succeeded, "rescheduled", rep.Rescheduled,
			"dead", rep.Dead, "skipped", rep.Skipped, "errors", rep.Errors)
	}
	return rep, nil
}

// SweepJob adapts Sweep to the scheduler's job signature.
func (s *WebhookService) SweepJob(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

func (s *WebhookService) sweepOne(ctx context.Context, item model.RetryQueueItem, rep *SweepReport) {
	log := s.sweepLog.With("event_id", item.EventID, "retry_count", item.RetryCount)

	evt, err := s.events.GetEvent(ctx, item.EventID)
	if errors.Is(err, repo.ErrNotFound) {
		s.drop(ctx, item.EventID, rep)
		return
	}
	if err != nil {
		log.Errorw("load event", "error", err)
		rep.Errors++
		return
	}
	if evt.Processed {
		s.drop(ctx, item.EventID, rep)
		return
	}

	if err := s.dispatcher.Dispatch(ctx, evt.Kind, evt.Payload); err != nil {
		if item.RetryCount >= repo.MaxRetries {
			if markErr := s.events.MarkPermanentlyFailed(ctx, evt.ID, err); markErr != nil {
				log.Errorw("mark permanently failed", "error", markErr)
				rep.Errors++
				return
			}
			log.Errorw("event permanently failed", "error", err)
			rep.Dead++
			return
		}
		if recErr := s.events.RecordFailure(ctx, evt.ID, err, true); recErr != nil {
			log.Errorw("record failure", "error", recErr)
			rep.Errors++
			return
		}
		log.Warnw("retry failed", "error", err)
		rep.Rescheduled++
		return
	}

	if err := s.events.MarkProcessed(ctx, evt.ID); err != nil {
		log.Errorw("mark processed", "error", err)
		rep.Errors++
		return
	}
	if err := s.queue.RemoveRetry(ctx, evt.ID); err != nil {
		log.Warnw("remove retry item", "error", err)
	}
	rep.Succeeded++
}

func (s *WebhookService) drop(ctx context.Context, eventID string, rep *SweepReport) {
	if err := s.queue.RemoveRetry(ctx, eventID); err != nil {
		s.sweepLog.Warnw("remove stale retry item", "event_id", eventID, "error", err)
		rep.Errors++
		return
	}
	rep.Skipped++
}
