package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/sitebill/internal/audit/domain"
)

type listAuditLogsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Action    string `form:"action"`
	AccountID string `form:"account_id"`
}

func (q listAuditLogsQuery) request() auditdomain.ListRequest {
	req := auditdomain.ListRequest{Action: strings.TrimSpace(q.Action)}
	req.PageToken = strings.TrimSpace(q.PageToken)
	req.PageSize = q.PageSize
	return req
}

// ListAccountAuditLogs is the caller's own billing history.
func (s *Server) ListAccountAuditLogs(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.ListByAccount(c.Request.Context(), accountID, query.request())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, err := parseOptionalSnowflakeID(query.AccountID)
	if err != nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account_id", "invalid account_id"))
		return
	}

	req := query.request()
	req.AccountID = accountID

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}
