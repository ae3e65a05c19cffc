package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookPayloadBytes = 1 << 20

// HandlePaymentWebhook acknowledges every verified delivery with 200 so the
// gateway stops retrying, including duplicates and events we do not track.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.reconciler.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Debug("payment webhook processed",
		zap.String("provider", provider),
		zap.String("outcome", string(outcome)),
	)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": outcome})
}
