package repo

import (
	"context"
	"fmt"
	"time"
)

// processedTTL bounds how long a processed flag is served from Redis.
const processedTTL = 24 * time.Hour

func processedKey(id string) string { return fmt.Sprintf("webhook:event:processed:%s", id) }

func (r *Repository) cachedProcessed(ctx context.Context, id string) bool {
	if r.rdb == nil {
		return false
	}
	v, err := r.rdb.Get(ctx, processedKey(id)).Result()
	return err == nil && v == "1"
}

func (r *Repository) cacheProcessed(ctx context.Context, id string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Set(ctx, processedKey(id), "1", processedTTL).Err(); err != nil {
		r.log.Warnw("cache processed flag", "event_id", id, "error", err)
	}
}

func (r *Repository) dropProcessedCache(ctx context.Context, id string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, processedKey(id)).Err(); err != nil {
		r.log.Warnw("drop processed flag", "event_id", id, "error", err)
	}
}
