package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFromContext(c)
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}

		err := s.authzSvc.Authorize(c.Request.Context(), actor, strings.TrimSpace(object), strings.TrimSpace(action))
		if err != nil {
			s.log.Warn("authorization denied",
				zap.String("actor", actor),
				zap.String("object", object),
				zap.String("action", action),
				zap.Error(err),
			)
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
