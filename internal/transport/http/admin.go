package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/subscription-webhooks/internal/repo"
	"github.com/richardliu001/subscription-webhooks/internal/service"
)

func RegisterAdminHandlers(g *gin.RouterGroup, svc *service.WebhookService, sched StatusProvider) {
	hooks := g.Group("/webhooks")
	{
		hooks.GET("/events", listEventsHandler(svc))
		hooks.GET("/events/:id", getEventHandler(svc))
		hooks.POST("/events/:id/replay", replayHandler(svc))
		hooks.POST("/events/:id/retry", retryHandler(svc))
		hooks.GET("/pending", pendingHandler(svc))
		hooks.GET("/failed", failedHandler(svc))
		hooks.POST("/sweep", sweepHandler(svc))
	}
	g.GET("/scheduler/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, sched.Status())
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return n, true
}

func listEventsHandler(svc *service.WebhookService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f repo.EventFilter
		if raw := c.Query("processed"); raw != "" {
			p, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid processed"})
				return
			}
			f.Processed = &p
		}
		var ok bool
		if f.Skip, ok = intQuery(c, "skip", 0); !ok {
			return
		}
		if f.Take, ok = intQuery(c, "take", 20); !ok {
			return
		}
		if f.Take > repo.MaxPageSize {
			f.Take = repo.MaxPageSize
		}
		evts, total, err := svc.ListEvents(c.Request.Context(), f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": evts, "total": total, "skip": f.Skip, "take": f.Take})
	}
}

func getEventHandler(svc *service.WebhookService) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := svc.GetEvent(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func replayHandler(svc *service.WebhookService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := svc.Replay(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"replayed": true, "eventId": id})
	}
}

func retryHandler(svc *service.WebhookService) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.Retry(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func pendingHandler(svc *service.WebhookService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", 50)
		if !ok {
			return
		}
		evts, err := svc.Pending(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, evts)
	}
}

func failedHandler(svc *service.WebhookService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", 50)
		if !ok {
			return
		}
		evts, err := svc.Failed(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, evts)
	}
}

func sweepHandler(svc *service.WebhookService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := svc.Sweep(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}
