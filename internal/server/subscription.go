package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
)

type createChargeIntentRequest struct {
	PlanID snowflake.ID `json:"plan_id" binding:"required"`
}

type setAutoRenewRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) CreateChargeIntent(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createChargeIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.CreateChargeIntent(c.Request.Context(), accountID, req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateSubscription(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = accountID
	req.Actor = actorFromContext(c)

	resp, err := s.subscriptionSvc.CreateSubscription(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCurrentSubscription(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.subscriptionSvc.GetActive(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSubscriptionHistory(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.subscriptionSvc.ListHistory(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp == nil {
		resp = []subscriptiondomain.Subscription{}
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.subscriptionSvc.CancelSubscription(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetAutoRenew(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req setAutoRenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.SetAutoRenew(c.Request.Context(), accountID, *req.Enabled)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ProvisionAccount puts a newly created account on the free plan. Calling it
// again for an account that already has a subscription is a no-op.
func (s *Server) ProvisionAccount(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.subscriptionSvc.EnsureFreeSubscription(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AssignPlan(c *gin.Context) {
	var req subscriptiondomain.AssignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Actor = actorFromContext(c)

	resp, err := s.subscriptionSvc.AssignPlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
