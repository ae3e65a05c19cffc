package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/sitebill/internal/audit/domain"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
)

type Service interface {
	CreateChargeIntent(ctx context.Context, accountID, planID snowflake.ID) (*ChargeIntentResponse, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*TransitionResult, error)
	AssignPlan(ctx context.Context, req AssignPlanRequest) (*TransitionResult, error)
	EnsureFreeSubscription(ctx context.Context, accountID snowflake.ID) (*TransitionResult, error)
	CancelSubscription(ctx context.Context, accountID snowflake.ID) (*TransitionResult, error)
	Renew(ctx context.Context, subscriptionID snowflake.ID, chargeMode string) (*TransitionResult, error)
	ExpireLapsed(ctx context.Context, subscriptionID snowflake.ID) (*TransitionResult, error)
	SetAutoRenew(ctx context.Context, accountID snowflake.ID, enabled bool) (*Subscription, error)

	GetActive(ctx context.Context, accountID snowflake.ID) (*Subscription, error)
	ListHistory(ctx context.Context, accountID snowflake.ID) ([]Subscription, error)
	ListDueForRenewal(ctx context.Context, today time.Time, after *SweepCursor, limit int) ([]Subscription, error)
	ListLapsed(ctx context.Context, today time.Time, after *SweepCursor, limit int) ([]Subscription, error)
}

type CreateSubscriptionRequest struct {
	AccountID        snowflake.ID `json:"-"`
	PlanID           snowflake.ID `json:"plan_id" binding:"required"`
	PaymentReference string       `json:"payment_reference"`
	Actor            string       `json:"-"`
}

type AssignPlanRequest struct {
	AccountID snowflake.ID `json:"account_id" binding:"required"`
	PlanID    snowflake.ID `json:"plan_id" binding:"required"`
	Actor     string       `json:"-"`
}

type ChargeIntentResponse struct {
	IntentID     string          `json:"intent_id"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	PlanID       snowflake.ID    `json:"plan_id"`
}

// TransitionResult is everything one atomic unit wrote.
type TransitionResult struct {
	Subscription *Subscription              `json:"subscription"`
	Ended        *Subscription              `json:"ended,omitempty"`
	AuditEntries []auditdomain.Entry        `json:"audit_entries"`
	Transaction  *paymentdomain.Transaction `json:"transaction,omitempty"`
}

var (
	ErrInvalidAccount           = errors.New("invalid_account")
	ErrInvalidPlan              = errors.New("invalid_plan")
	ErrInvalidActor             = errors.New("invalid_actor")
	ErrSubscriptionNotFound     = errors.New("subscription_not_found")
	ErrNoActiveSubscription     = errors.New("no_active_subscription")
	ErrAlreadySubscribed        = errors.New("already_subscribed")
	ErrAlreadyOnFreePlan        = errors.New("already_on_free_plan")
	ErrAtomicWriteFailure       = errors.New("atomic_write_failure")
	ErrConcurrentTransition     = errors.New("concurrent_transition")
	ErrPaymentReferenceRequired = errors.New("payment_reference_required")
	ErrPaymentNotConfirmed      = errors.New("payment_not_confirmed")
	ErrPaymentAmountMismatch    = errors.New("payment_amount_mismatch")
	ErrPaymentReferenceUsed     = errors.New("payment_reference_used")
	ErrRenewalNotDue            = errors.New("renewal_not_due")
	ErrRenewalItemFailure       = errors.New("renewal_item_failure")
	ErrAutoRenewNotAllowed      = errors.New("auto_renew_not_allowed")
	ErrInvalidChargeMode        = errors.New("invalid_charge_mode")
)

// RenewalItemError is one subscription the sweep could not process. It
// matches ErrRenewalItemFailure and the underlying cause.
type RenewalItemError struct {
	SubscriptionID snowflake.ID
	AccountID      snowflake.ID
	Op             string
	Err            error
}

func (e *RenewalItemError) Error() string {
	return fmt.Sprintf("%s subscription %s (account %s): %v", e.Op, e.SubscriptionID, e.AccountID, e.Err)
}

func (e *RenewalItemError) Unwrap() []error {
	return []error{ErrRenewalItemFailure, e.Err}
}
