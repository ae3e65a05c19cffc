package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	"github.com/smallbiznis/sitebill/internal/providers/pdf"
	"go.uber.org/zap"
)

const defaultTransactionListLimit = 50

func (s *Server) ListTransactions(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit := defaultTransactionListLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		limit = parsed
	}

	txns, err := s.paymentSvc.List(c.Request.Context(), accountID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if txns == nil {
		txns = []paymentdomain.Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{"data": txns})
}

// GetTransactionReceipt renders a PDF receipt for one of the caller's
// transactions.
func (s *Server) GetTransactionReceipt(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	ctx := c.Request.Context()
	txn, err := s.paymentSvc.Get(ctx, accountID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plan, err := s.planSvc.GetAny(ctx, txn.PlanID)
	if err != nil && !errors.Is(err, plandomain.ErrPlanNotFound) {
		AbortWithError(c, err)
		return
	}

	doc, err := s.pdfProvider.GenerateReceipt(ctx, pdf.NewReceiptData(txn, plan))
	if err != nil {
		s.log.Error("failed to render receipt",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
		AbortWithError(c, ErrInternal)
		return
	}
	if len(doc) == 0 {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"receipt-%s.pdf\"", txn.ID.String()))
	c.Data(http.StatusOK, "application/pdf", doc)
}
