package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) CheckSiteLimit(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	check, err := s.usageSvc.CheckSiteLimit(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": check})
}

func (s *Server) CheckAICallLimit(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	check, err := s.usageSvc.CheckAICallLimit(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": check})
}

// RecordAICall counts one AI call against the account's quota. Bursts are
// throttled per account before the quota is consulted; a limiter outage lets
// calls through.
func (s *Server) RecordAICall(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()

	allowed, retryAfter, err := s.aiCallLimiter.Allow(ctx, accountID)
	switch {
	case err != nil:
		s.log.Warn("ai call rate limiter unavailable",
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
	case !allowed:
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
		AbortWithError(c, ErrRateLimited)
		return
	}

	check, err := s.usageSvc.CheckAICallLimit(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !check.Allowed {
		AbortWithError(c, ErrLimitExceeded)
		return
	}

	used, err := s.usageSvc.IncrementAIUsage(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	check.Used = used
	if check.Limit != nil {
		remaining := *check.Limit - used
		if remaining < 0 {
			remaining = 0
		}
		check.Remaining = &remaining
	}

	c.JSON(http.StatusOK, gin.H{"data": check})
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
