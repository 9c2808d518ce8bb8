package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/subscription-webhooks/internal/config"
	"github.com/richardliu001/subscription-webhooks/internal/scheduler"
	"github.com/richardliu001/subscription-webhooks/internal/service"
	"go.uber.org/zap"
)

// StatusProvider exposes the scheduler snapshot.
type StatusProvider interface {
	Status() scheduler.Status
}

// Pinger backs the readiness probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options carries the router's configuration.
type Options struct {
	RateLimit  config.RateLimitConfig
	AdminToken string
}

func NewRouter(svc *service.WebhookService, sched StatusProvider, db Pinger, opts Options, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(log))

	RegisterHealthHandlers(r, db)

	hooks := r.Group("/webhooks", RateLimitMiddleware(opts.RateLimit.RPS, opts.RateLimit.Burst))
	hooks.POST("/:provider", webhookHandler(svc, log))

	admin := r.Group("/admin", AdminAuthMiddleware(opts.AdminToken))
	RegisterAdminHandlers(admin, svc, sched)
	return r
}
