package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/subscription-webhooks/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// webhookHandler answers 200 once the event is logged, even if processing
// failed; the retry queue owns redelivery from then on.
func webhookHandler(svc *service.WebhookService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		var env service.Envelope
		if err := c.ShouldBindJSON(&env); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed webhook body"})
			return
		}
		res, err := svc.Receive(c.Request.Context(), env)
		if errors.Is(err, service.ErrInvalidEnvelope) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			log.Errorw("webhook not recorded",
				"provider", c.Param("provider"), "external_id", env.EventID,
				"request_id", c.GetString(requestIDKey), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event not recorded"})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
