package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
)

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context(), plandomain.ListRequest{})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if plans == nil {
		plans = []plandomain.Plan{}
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) ListAllPlans(c *gin.Context) {
	includeInactive, err := parseOptionalBool(c.Query("include_inactive"))
	if err != nil {
		AbortWithError(c, newValidationError("include_inactive", "invalid_include_inactive", "invalid include_inactive"))
		return
	}

	req := plandomain.ListRequest{}
	if includeInactive != nil {
		req.IncludeInactive = *includeInactive
	}

	plans, err := s.planSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if plans == nil {
		plans = []plandomain.Plan{}
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req plandomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) DeactivatePlan(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	plan, err := s.planSvc.Deactivate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}
