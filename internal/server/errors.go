package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/sitebill/internal/audit/domain"
	"github.com/smallbiznis/sitebill/internal/authorization"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/sitebill/internal/usage/domain"
	"github.com/smallbiznis/sitebill/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrLimitExceeded      = errors.New("limit_exceeded")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// errorClass is how one family of errors surfaces to clients. Conflict and
// payment errors keep their sentinel code as the message so callers can
// branch on it.
type errorClass struct {
	status  int
	typ     string
	message string
}

var (
	classValidation   = errorClass{http.StatusBadRequest, "validation_error", "validation error"}
	classUnauthorized = errorClass{http.StatusUnauthorized, "unauthorized", "unauthorized"}
	classForbidden    = errorClass{http.StatusForbidden, "forbidden", "forbidden"}
	classNotFound     = errorClass{http.StatusNotFound, "not_found", "not found"}
	classConflict     = errorClass{http.StatusConflict, "conflict", ""}
	classPayment      = errorClass{http.StatusUnprocessableEntity, "payment_error", ""}
	classLimit        = errorClass{http.StatusForbidden, "limit_exceeded", "limit exceeded"}
	classRateLimited  = errorClass{http.StatusTooManyRequests, "rate_limited", "too many requests"}
	classUnavailable  = errorClass{http.StatusServiceUnavailable, "service_unavailable", "service unavailable"}
	classInternal     = errorClass{http.StatusInternalServerError, "internal_error", "internal server error"}
)

var errorTable = []struct {
	class errorClass
	errs  []error
}{
	{classValidation, []error{
		ErrInvalidRequest,
		subscriptiondomain.ErrInvalidAccount,
		subscriptiondomain.ErrInvalidPlan,
		subscriptiondomain.ErrInvalidActor,
		subscriptiondomain.ErrInvalidChargeMode,
		subscriptiondomain.ErrPaymentReferenceRequired,
		plandomain.ErrInvalidCode,
		plandomain.ErrInvalidName,
		plandomain.ErrInvalidType,
		plandomain.ErrInvalidPrice,
		plandomain.ErrInvalidCurrency,
		plandomain.ErrInvalidLimit,
		auditdomain.ErrInvalidAccount,
		auditdomain.ErrInvalidAction,
		auditdomain.ErrInvalidPageToken,
		pagination.ErrInvalidPageToken,
		usagedomain.ErrInvalidAccount,
		paymentdomain.ErrInvalidAccount,
		paymentdomain.ErrInvalidPayload,
		paymentdomain.ErrInvalidSignature,
		paymentdomain.ErrInvalidProvider,
		reference.ErrEmptyReference,
		reference.ErrReservedReference,
		reference.ErrReferenceTooLong,
	}},
	{classUnauthorized, []error{
		ErrUnauthorized,
	}},
	{classForbidden, []error{
		ErrForbidden,
		authorization.ErrForbidden,
		authorization.ErrInvalidActor,
	}},
	{classNotFound, []error{
		ErrNotFound,
		subscriptiondomain.ErrSubscriptionNotFound,
		subscriptiondomain.ErrNoActiveSubscription,
		plandomain.ErrPlanNotFound,
		paymentdomain.ErrTransactionNotFound,
		paymentdomain.ErrIntentNotFound,
		paymentdomain.ErrProviderNotFound,
		gorm.ErrRecordNotFound,
	}},
	{classConflict, []error{
		subscriptiondomain.ErrAlreadySubscribed,
		subscriptiondomain.ErrAlreadyOnFreePlan,
		subscriptiondomain.ErrConcurrentTransition,
		subscriptiondomain.ErrPaymentReferenceUsed,
		subscriptiondomain.ErrRenewalNotDue,
		subscriptiondomain.ErrAutoRenewNotAllowed,
		plandomain.ErrPlanCodeTaken,
		paymentdomain.ErrDuplicateReference,
	}},
	{classPayment, []error{
		subscriptiondomain.ErrPaymentNotConfirmed,
		subscriptiondomain.ErrPaymentAmountMismatch,
	}},
	{classLimit, []error{ErrLimitExceeded}},
	{classRateLimited, []error{ErrRateLimited}},
	{classUnavailable, []error{
		ErrServiceUnavailable,
		plandomain.ErrFreePlanNotConfigured,
		paymentdomain.ErrGatewayUnavailable,
		paymentdomain.ErrInvalidConfig,
	}},
	{classInternal, []error{
		ErrInternal,
		subscriptiondomain.ErrAtomicWriteFailure,
	}},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return classInternal.status, errorPayload{
			Type:    classInternal.typ,
			Message: classInternal.message,
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return classValidation.status, errorPayload{
			Type:    classValidation.typ,
			Message: classValidation.message,
			Errors:  vErr.Errors,
		}
	}

	class, sentinel := classify(err)
	payload := errorPayload{
		Type:    class.typ,
		Message: class.message,
	}
	switch class {
	case classValidation:
		code := sentinel.Error()
		payload.Errors = []ValidationError{
			{
				Field:   validationErrorField(code),
				Code:    code,
				Message: validationErrorMessage(code),
			},
		}
	case classConflict, classPayment:
		payload.Message = sentinel.Error()
	}
	return class.status, payload
}

// classify finds the first table entry err matches. Unknown errors are
// internal.
func classify(err error) (errorClass, error) {
	for _, row := range errorTable {
		for _, target := range row.errs {
			if errors.Is(err, target) {
				return row.class, target
			}
		}
	}
	return classInternal, ErrInternal
}

// classifyErrorForLog feeds the request logger the same type/code pair the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil {
		code := "validation_error"
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return classValidation.typ, code
	}
	class, sentinel := classify(err)
	return class.typ, sentinel.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	case code == "payment_reference_required":
		return "payment_reference"
	default:
		return ""
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "payment_reference_required":
		return "payment reference is required"
	default:
		return "invalid value"
	}
}
