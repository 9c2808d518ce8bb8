package repo

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/subscription-webhooks/internal/model"
	"github.com/richardliu001/subscription-webhooks/internal/pkg/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// MaxRetries is the failure ceiling. An event whose error count reaches it is
// permanently failed and no longer scheduled.
const MaxRetries = 5

// EventFilter narrows ListEvents. Take is clamped to MaxPageSize.
type EventFilter struct {
	Processed *bool
	Skip      int
	Take      int
}

// MaxPageSize bounds operator listings.
const MaxPageSize = 100

// EventStore is the idempotent record of inbound events.
type EventStore interface {
	LogEvent(ctx context.Context, externalID, kind string, payload []byte) (string, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, cause error, shouldRetry bool) error
	MarkPermanentlyFailed(ctx context.Context, id string, cause error) error
	GetPending(ctx context.Context, limit int) ([]model.Event, error)
	GetFailed(ctx context.Context, limit int) ([]model.Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]model.Event, int64, error)
	Replay(ctx context.Context, id string) error
	PruneProcessed(ctx context.Context, before time.Time) (int64, error)
}

// RetryQueue tracks when a failed event becomes eligible for another attempt.
type RetryQueue interface {
	Enqueue(ctx context.Context, eventID string, delay time.Duration) error
	DueItems(ctx context.Context, limit int) ([]model.RetryQueueItem, error)
	RemoveRetry(ctx context.Context, eventID string) error
	GetRetryItem(ctx context.Context, eventID string) (*model.RetryQueueItem, error)
}

// SubscriptionRepository is the subscription state written by the dispatcher.
type SubscriptionRepository interface {
	DB(ctx context.Context) *gorm.DB
	GetSubscriptionForUpdate(ctx context.Context, tx *gorm.DB, externalID string) (*model.Subscription, error)
	CreateSubscription(ctx context.Context, tx *gorm.DB, s *model.Subscription) error
	UpdateSubscription(ctx context.Context, tx *gorm.DB, id uint64, fields map[string]interface{}) error
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

// Repository implements EventStore, RetryQueue and SubscriptionRepository.
type Repository struct {
	db    *gorm.DB
	rdb   *redis.Client
	clock clock.Clock
	log   *zap.SugaredLogger
}

var (
	_ EventStore             = (*Repository)(nil)
	_ RetryQueue             = (*Repository)(nil)
	_ SubscriptionRepository = (*Repository)(nil)
)

// NewRepository constructs repo. rdb may be nil, which disables the cache.
func NewRepository(db *gorm.DB, rdb *redis.Client, clk clock.Clock, logger *zap.SugaredLogger) *Repository {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Repository{db: db, rdb: rdb, clock: clk, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// PingContext reports whether the database is reachable.
func (r *Repository) PingContext(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
