package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/sitebill/internal/audit/domain"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/config"
	obsmetrics "github.com/smallbiznis/sitebill/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	"github.com/smallbiznis/sitebill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const historyLimit = 100

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          subscriptiondomain.Repository
	PlanSvc       plandomain.Service
	AuditSvc      auditdomain.Service
	PaymentSvc    paymentdomain.Service
	UsageResetter subscriptiondomain.UsageResetter
	Gateway       paymentdomain.Gateway         `optional:"true"`
	Lifecycle     *config.LifecycleConfigHolder `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics           `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	planSvc    plandomain.Service
	auditSvc   auditdomain.Service
	paymentSvc paymentdomain.Service
	usage      subscriptiondomain.UsageResetter
	gateway    paymentdomain.Gateway
	lifecycle  *config.LifecycleConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		planSvc:    p.PlanSvc,
		auditSvc:   p.AuditSvc,
		paymentSvc: p.PaymentSvc,
		usage:      p.UsageResetter,
		gateway:    p.Gateway,
		lifecycle:  p.Lifecycle,
		obsMetrics: p.ObsMetrics,
	}
}

// current is the account's active row as seen before a unit opens, with its
// plan already resolved. The unit re-reads the row under lock and refuses to
// proceed if it changed in between.
type current struct {
	sub  *subscriptiondomain.Subscription
	plan *plandomain.Plan
}

func (c current) id() snowflake.ID {
	if c.sub == nil {
		return 0
	}
	return c.sub.ID
}

// CreateChargeIntent opens a gateway charge for a paid plan. Nothing is
// recorded until the caller comes back with the intent id.
func (s *Service) CreateChargeIntent(ctx context.Context, accountID, planID snowflake.ID) (*subscriptiondomain.ChargeIntentResponse, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	if planID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	plan, err := s.planSvc.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	if s.gateway == nil {
		return nil, paymentdomain.ErrInvalidConfig
	}

	intent, err := s.gateway.CreateChargeIntent(ctx, plan.Price, plan.Currency, map[string]string{
		"account_id": accountID.String(),
		"plan_id":    plan.ID.String(),
	})
	if err != nil {
		s.log.Warn("failed to create charge intent",
			zap.String("account_id", accountID.String()),
			zap.String("plan_id", plan.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return &subscriptiondomain.ChargeIntentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       plan.Price,
		Currency:     strings.ToUpper(plan.Currency),
		PlanID:       plan.ID,
	}, nil
}

// CreateSubscription moves the account onto planID. Paid plans are verified
// against the gateway before anything is written.
func (s *Service) CreateSubscription(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.TransitionResult, error) {
	if req.AccountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	plan, err := s.planSvc.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	cur, err := s.loadCurrent(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if cur.sub != nil && cur.sub.PlanID == plan.ID {
		return nil, subscriptiondomain.ErrAlreadySubscribed
	}

	now := s.clock.Now().UTC()
	ref, status, err := s.settlement(ctx, req.AccountID, *plan, req.PaymentReference, now)
	if err != nil {
		return nil, err
	}

	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "account:" + req.AccountID.String()
	}

	return s.switchPlan(ctx, switchRequest{
		accountID: req.AccountID,
		current:   cur,
		plan:      *plan,
		ref:       ref,
		status:    status,
		actor:     actor,
		now:       now,
	})
}

// settlement decides the reference and payment status a transition to plan
// is recorded with.
func (s *Service) settlement(ctx context.Context, accountID snowflake.ID, plan plandomain.Plan, paymentReference string, now time.Time) (reference.Reference, auditdomain.PaymentStatus, error) {
	if plan.IsFree() {
		ref, err := reference.Synthetic(reference.ReasonAssignment, now)
		return ref, auditdomain.PaymentStatusCompleted, err
	}

	if strings.TrimSpace(paymentReference) == "" {
		return reference.Reference{}, "", subscriptiondomain.ErrPaymentReferenceRequired
	}
	ref, err := reference.Gateway(paymentReference)
	if err != nil {
		return reference.Reference{}, "", err
	}

	status, err := s.verifyIntent(ctx, accountID, plan, ref.Value)
	if err != nil {
		return reference.Reference{}, "", err
	}
	return ref, status, nil
}

func (s *Service) verifyIntent(ctx context.Context, accountID snowflake.ID, plan plandomain.Plan, intentID string) (auditdomain.PaymentStatus, error) {
	if s.gateway == nil {
		return "", paymentdomain.ErrInvalidConfig
	}

	intent, err := s.gateway.GetChargeIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrIntentNotFound) {
			return "", fmt.Errorf("%w: %w", subscriptiondomain.ErrPaymentNotConfirmed, err)
		}
		return "", err
	}

	if owner := intent.Metadata["account_id"]; owner != "" && owner != accountID.String() {
		return "", subscriptiondomain.ErrPaymentNotConfirmed
	}
	if !intent.Amount.Equal(plan.Price) || !strings.EqualFold(intent.Currency, plan.Currency) {
		return "", subscriptiondomain.ErrPaymentAmountMismatch
	}

	switch intent.Status {
	case paymentdomain.IntentStatusSucceeded:
		return auditdomain.PaymentStatusCompleted, nil
	case paymentdomain.IntentStatusProcessing:
		return auditdomain.PaymentStatusPending, nil
	default:
		s.log.Info("charge intent not confirmed",
			zap.String("intent_id", intentID),
			zap.String("status", string(intent.Status)),
		)
		return "", subscriptiondomain.ErrPaymentNotConfirmed
	}
}

// AssignPlan is the administrative path: no gateway verification, the
// transition is recorded as completed under an administrative marker.
func (s *Service) AssignPlan(ctx context.Context, req subscriptiondomain.AssignPlanRequest) (*subscriptiondomain.TransitionResult, error) {
	if req.AccountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, subscriptiondomain.ErrInvalidActor
	}

	plan, err := s.planSvc.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	cur, err := s.loadCurrent(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if cur.sub != nil && cur.sub.PlanID == plan.ID {
		return nil, subscriptiondomain.ErrAlreadySubscribed
	}

	now := s.clock.Now().UTC()
	ref, err := reference.Administrative(actor, now)
	if err != nil {
		return nil, err
	}

	return s.switchPlan(ctx, switchRequest{
		accountID: req.AccountID,
		current:   cur,
		plan:      *plan,
		ref:       ref,
		status:    auditdomain.PaymentStatusCompleted,
		actor:     actor,
		now:       now,
	})
}

// EnsureFreeSubscription places an account without any active row on the
// free plan. Accounts that already have one are returned untouched.
func (s *Service) EnsureFreeSubscription(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.TransitionResult, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}

	cur, err := s.loadCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if cur.sub != nil {
		return &subscriptiondomain.TransitionResult{Subscription: cur.sub}, nil
	}

	free, err := s.planSvc.GetFreePlan(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	ref, err := reference.Synthetic(reference.ReasonAssignment, now)
	if err != nil {
		return nil, err
	}

	return s.switchPlan(ctx, switchRequest{
		accountID: accountID,
		current:   cur,
		plan:      *free,
		ref:       ref,
		status:    auditdomain.PaymentStatusCompleted,
		actor:     "system",
		now:       now,
	})
}

// CancelSubscription ends the active paid row and puts the account on the
// free plan in the same unit.
func (s *Service) CancelSubscription(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.TransitionResult, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}

	cur, err := s.loadCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if cur.sub == nil {
		return nil, subscriptiondomain.ErrNoActiveSubscription
	}
	if cur.plan.IsFree() {
		return nil, subscriptiondomain.ErrAlreadyOnFreePlan
	}

	free, err := s.planSvc.GetFreePlan(ctx)
	if err != nil {
		return nil, err
	}

	return s.moveToFree(ctx, cur, *free, auditdomain.ActionCancelled, reference.ReasonCancellation, nil)
}

// ExpireLapsed closes a row whose period ran out without auto renew and
// falls the account back to the free plan.
func (s *Service) ExpireLapsed(ctx context.Context, subscriptionID snowflake.ID) (*subscriptiondomain.TransitionResult, error) {
	cur, err := s.loadByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	today := clock.Today(s.clock)
	if cur.sub.AutoRenew || !cur.sub.Due(today) {
		return nil, subscriptiondomain.ErrRenewalNotDue
	}

	free, err := s.planSvc.GetFreePlan(ctx)
	if err != nil {
		return nil, err
	}

	lapsed := func(tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
		if err := s.claim(ctx, tx, sub); err != nil {
			return err
		}
		if sub.AutoRenew || !sub.Due(today) {
			return subscriptiondomain.ErrRenewalNotDue
		}
		return nil
	}
	return s.moveToFree(ctx, cur, *free, auditdomain.ActionExpired, reference.ReasonExpiry, lapsed)
}

// Renew rolls a due auto-renewing row into a fresh period on the same plan,
// even when the plan has since been deactivated.
func (s *Service) Renew(ctx context.Context, subscriptionID snowflake.ID, chargeMode string) (*subscriptiondomain.TransitionResult, error) {
	mode := strings.ToLower(strings.TrimSpace(chargeMode))
	if mode == "" {
		mode = s.lifecycle.Get().Renewal.ChargeMode
	}
	if mode != config.ChargeModeInternal && mode != config.ChargeModeGateway {
		return nil, subscriptiondomain.ErrInvalidChargeMode
	}

	cur, err := s.loadByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	today := clock.Today(s.clock)
	if !cur.sub.AutoRenew || !cur.sub.Due(today) {
		return nil, subscriptiondomain.ErrRenewalNotDue
	}

	now := s.clock.Now().UTC()
	plan := *cur.plan

	var (
		ref    reference.Reference
		status auditdomain.PaymentStatus
	)
	switch mode {
	case config.ChargeModeGateway:
		if s.gateway == nil {
			return nil, paymentdomain.ErrInvalidConfig
		}
		// one intent per subscription period, however often the unit below
		// fails and the sweep retries it
		intent, err := s.gateway.CreateChargeIntent(ctx, plan.Price, plan.Currency, map[string]string{
			"account_id":      cur.sub.AccountID.String(),
			"plan_id":         plan.ID.String(),
			"subscription_id": cur.sub.ID.String(),
			"reason":          string(reference.ReasonRenewal),

			paymentdomain.MetadataIdempotencyKey: renewalIdempotencyKey(*cur.sub),
		})
		if err != nil {
			return nil, err
		}
		if ref, err = reference.Gateway(intent.ID); err != nil {
			return nil, err
		}
		status = auditdomain.PaymentStatusPending
	default:
		if ref, err = reference.Synthetic(reference.ReasonRenewal, now); err != nil {
			return nil, err
		}
		status = auditdomain.PaymentStatusCompleted
	}

	result := &subscriptiondomain.TransitionResult{}
	err = s.unit(ctx, cur.sub.AccountID, func(tx *gorm.DB) error {
		locked, err := s.relock(ctx, tx, cur.sub.AccountID, cur)
		if err != nil {
			return err
		}
		if err := s.claim(ctx, tx, locked); err != nil {
			return err
		}
		if !locked.AutoRenew || !locked.Due(today) {
			return subscriptiondomain.ErrRenewalNotDue
		}

		ended, err := s.end(ctx, tx, locked, today, now)
		if err != nil {
			return err
		}
		result.Ended = ended

		next, err := s.open(ctx, tx, locked.AccountID, plan, today, ref, now)
		if err != nil {
			return err
		}
		result.Subscription = next

		entry, err := s.record(ctx, tx, &auditdomain.Entry{
			AccountID:      locked.AccountID,
			PlanID:         plan.ID,
			SubscriptionID: &next.ID,
			Action:         auditdomain.ActionRenewed,
			PaymentStatus:  status,
			Amount:         plan.Price,
			Currency:       plan.Currency,
			Metadata: datatypes.JSONMap{
				auditdomain.MetaChargeMode: mode,
				auditdomain.MetaReason:     string(reference.ReasonRenewal),
			},
		}, ref)
		if err != nil {
			return err
		}
		result.AuditEntries = append(result.AuditEntries, *entry)

		txn, err := s.charge(ctx, tx, next, plan, ref, paymentdomain.TransactionStatus(status))
		if err != nil {
			return err
		}
		result.Transaction = txn

		return s.usage.ResetAIUsage(ctx, tx, locked.AccountID, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription renewed",
		zap.String("account_id", cur.sub.AccountID.String()),
		zap.String("subscription_id", result.Subscription.ID.String()),
		zap.String("charge_mode", mode),
	)
	s.obsMetrics.RecordTransition(ctx, string(auditdomain.ActionRenewed), string(status))
	return result, nil
}

func (s *Service) SetAutoRenew(ctx context.Context, accountID snowflake.ID, enabled bool) (*subscriptiondomain.Subscription, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}

	cur, err := s.loadCurrent(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if cur.sub == nil {
		return nil, subscriptiondomain.ErrNoActiveSubscription
	}
	if enabled && cur.plan.IsFree() {
		return nil, subscriptiondomain.ErrAutoRenewNotAllowed
	}
	if cur.sub.AutoRenew == enabled {
		return cur.sub, nil
	}

	var updated *subscriptiondomain.Subscription
	err = s.unit(ctx, accountID, func(tx *gorm.DB) error {
		locked, err := s.relock(ctx, tx, accountID, cur)
		if err != nil {
			return err
		}
		ok, err := s.repo.SetAutoRenew(ctx, tx, locked.ID, enabled, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return subscriptiondomain.ErrConcurrentTransition
		}
		updated, err = s.repo.FindByID(ctx, tx, locked.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) GetActive(ctx context.Context, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	item, err := s.repo.FindActiveByAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, subscriptiondomain.ErrNoActiveSubscription
	}
	return item, nil
}

func (s *Service) ListHistory(ctx context.Context, accountID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	if accountID == 0 {
		return nil, subscriptiondomain.ErrInvalidAccount
	}
	return s.repo.ListByAccount(ctx, s.db, accountID, historyLimit)
}

// ListDueForRenewal pages through due auto-renewing rows oldest first. Pass
// the cursor of the last row seen to continue past it.
func (s *Service) ListDueForRenewal(ctx context.Context, today time.Time, after *subscriptiondomain.SweepCursor, limit int) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListDueForRenewal(ctx, s.db, clock.Date(today), after, s.batchLimit(limit))
}

func (s *Service) ListLapsed(ctx context.Context, today time.Time, after *subscriptiondomain.SweepCursor, limit int) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListLapsed(ctx, s.db, clock.Date(today), after, s.batchLimit(limit))
}

func (s *Service) batchLimit(limit int) int {
	if limit <= 0 {
		return s.lifecycle.Get().Renewal.BatchSize
	}
	return limit
}

type switchRequest struct {
	accountID snowflake.ID
	current   current
	plan      plandomain.Plan
	ref       reference.Reference
	status    auditdomain.PaymentStatus
	actor     string
	now       time.Time
}

// switchPlan is the shared atomic unit behind create, assign and ensure:
// end the active row, open one on the new plan, audit it and, for paid
// plans, write the transaction.
func (s *Service) switchPlan(ctx context.Context, req switchRequest) (*subscriptiondomain.TransitionResult, error) {
	action := subscriptiondomain.Classify(req.current.plan, req.plan)
	today := clock.Date(req.now)

	result := &subscriptiondomain.TransitionResult{}
	err := s.unit(ctx, req.accountID, func(tx *gorm.DB) error {
		locked, err := s.relock(ctx, tx, req.accountID, req.current)
		if err != nil {
			return err
		}

		metadata := datatypes.JSONMap{auditdomain.MetaActor: req.actor}
		if locked != nil {
			ended, err := s.end(ctx, tx, locked, today, req.now)
			if err != nil {
				return err
			}
			result.Ended = ended
			metadata[auditdomain.MetaPreviousPlanID] = locked.PlanID.String()
		}

		next, err := s.open(ctx, tx, req.accountID, req.plan, today, req.ref, req.now)
		if err != nil {
			return err
		}
		result.Subscription = next

		entry, err := s.record(ctx, tx, &auditdomain.Entry{
			AccountID:      req.accountID,
			PlanID:         req.plan.ID,
			SubscriptionID: &next.ID,
			Action:         action,
			PaymentStatus:  req.status,
			Amount:         req.plan.Price,
			Currency:       req.plan.Currency,
			Metadata:       metadata,
		}, req.ref)
		if err != nil {
			return err
		}
		result.AuditEntries = append(result.AuditEntries, *entry)

		if req.plan.IsFree() {
			return nil
		}
		txn, err := s.charge(ctx, tx, next, req.plan, req.ref, paymentdomain.TransactionStatus(req.status))
		if err != nil {
			return err
		}
		result.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription transition",
		zap.String("account_id", req.accountID.String()),
		zap.String("plan_id", req.plan.ID.String()),
		zap.String("action", string(action)),
		zap.String("payment_status", string(req.status)),
		zap.String("reference_kind", string(req.ref.Kind)),
	)
	s.obsMetrics.RecordTransition(ctx, string(action), string(req.status))
	return result, nil
}

// moveToFree ends the current row under action and reason, then opens the
// free plan for the account. Both audit entries carry synthetic references.
func (s *Service) moveToFree(ctx context.Context, cur current, free plandomain.Plan, action auditdomain.Action, reason reference.Reason, guard func(*gorm.DB, *subscriptiondomain.Subscription) error) (*subscriptiondomain.TransitionResult, error) {
	now := s.clock.Now().UTC()
	today := clock.Date(now)

	endRef, err := reference.Synthetic(reason, now)
	if err != nil {
		return nil, err
	}
	assignRef, err := reference.Synthetic(reference.ReasonAssignment, now)
	if err != nil {
		return nil, err
	}

	result := &subscriptiondomain.TransitionResult{}
	err = s.unit(ctx, cur.sub.AccountID, func(tx *gorm.DB) error {
		locked, err := s.relock(ctx, tx, cur.sub.AccountID, cur)
		if err != nil {
			return err
		}
		if locked == nil {
			return subscriptiondomain.ErrNoActiveSubscription
		}
		if guard != nil {
			if err := guard(tx, locked); err != nil {
				return err
			}
		}

		ended, err := s.end(ctx, tx, locked, today, now)
		if err != nil {
			return err
		}
		result.Ended = ended

		closing, err := s.record(ctx, tx, &auditdomain.Entry{
			AccountID:      locked.AccountID,
			PlanID:         locked.PlanID,
			SubscriptionID: &locked.ID,
			Action:         action,
			PaymentStatus:  auditdomain.PaymentStatusCompleted,
			Amount:         decimal.Zero,
			Currency:       cur.plan.Currency,
			Metadata:       datatypes.JSONMap{auditdomain.MetaReason: string(reason)},
		}, endRef)
		if err != nil {
			return err
		}
		result.AuditEntries = append(result.AuditEntries, *closing)

		next, err := s.open(ctx, tx, locked.AccountID, free, today, assignRef, now)
		if err != nil {
			return err
		}
		result.Subscription = next

		opening, err := s.record(ctx, tx, &auditdomain.Entry{
			AccountID:      locked.AccountID,
			PlanID:         free.ID,
			SubscriptionID: &next.ID,
			Action:         auditdomain.ActionCreated,
			PaymentStatus:  auditdomain.PaymentStatusCompleted,
			Amount:         free.Price,
			Currency:       free.Currency,
			Metadata: datatypes.JSONMap{
				auditdomain.MetaReason:         string(reason),
				auditdomain.MetaPreviousPlanID: locked.PlanID.String(),
			},
		}, assignRef)
		if err != nil {
			return err
		}
		result.AuditEntries = append(result.AuditEntries, *opening)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription moved to free plan",
		zap.String("account_id", cur.sub.AccountID.String()),
		zap.String("previous_plan_id", cur.sub.PlanID.String()),
		zap.String("action", string(action)),
	)
	s.obsMetrics.RecordTransition(ctx, string(action), string(auditdomain.PaymentStatusCompleted))
	return result, nil
}

// unit runs fn in one transaction holding the account's advisory lock.
// Lifecycle errors pass through; anything else is an atomic write failure.
func (s *Service) unit(ctx context.Context, accountID snowflake.ID, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.AdvisoryXactLock(tx, "subscription:account:"+accountID.String()); err != nil {
			return err
		}
		return fn(tx)
	})
	if err == nil {
		return nil
	}
	for _, known := range passthrough {
		if errors.Is(err, known) {
			return err
		}
	}
	s.log.Error("subscription unit rolled back",
		zap.String("account_id", accountID.String()),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %w", subscriptiondomain.ErrAtomicWriteFailure, err)
}

var passthrough = []error{
	subscriptiondomain.ErrNoActiveSubscription,
	subscriptiondomain.ErrSubscriptionNotFound,
	subscriptiondomain.ErrConcurrentTransition,
	subscriptiondomain.ErrPaymentReferenceUsed,
	subscriptiondomain.ErrRenewalNotDue,
	context.Canceled,
	context.DeadlineExceeded,
}

func (s *Service) loadCurrent(ctx context.Context, accountID snowflake.ID) (current, error) {
	sub, err := s.repo.FindActiveByAccount(ctx, s.db, accountID)
	if err != nil {
		return current{}, err
	}
	if sub == nil {
		return current{}, nil
	}
	plan, err := s.planSvc.GetAny(ctx, sub.PlanID)
	if err != nil {
		return current{}, err
	}
	return current{sub: sub, plan: plan}, nil
}

func (s *Service) loadByID(ctx context.Context, subscriptionID snowflake.ID) (current, error) {
	if subscriptionID == 0 {
		return current{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return current{}, err
	}
	if sub == nil {
		return current{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !sub.IsActive() {
		return current{}, subscriptiondomain.ErrNoActiveSubscription
	}
	plan, err := s.planSvc.GetAny(ctx, sub.PlanID)
	if err != nil {
		return current{}, err
	}
	return current{sub: sub, plan: plan}, nil
}

// claim takes the sweep's row lock on sub. When another worker already holds
// it, or the row is no longer active, there is nothing left to do here.
func (s *Service) claim(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription) error {
	if sub == nil {
		return subscriptiondomain.ErrNoActiveSubscription
	}
	claimed, err := s.repo.ClaimActiveByID(ctx, tx, sub.ID)
	if err != nil {
		return err
	}
	if claimed == nil {
		return subscriptiondomain.ErrRenewalNotDue
	}
	return nil
}

func renewalIdempotencyKey(sub subscriptiondomain.Subscription) string {
	period := ""
	if sub.EndDate != nil {
		period = sub.EndDate.UTC().Format("20060102")
	}
	return "renewal:" + sub.ID.String() + ":" + period
}

// relock re-reads the account's active row under lock. A row that appeared,
// vanished or was replaced since cur was loaded means another transition won.
func (s *Service) relock(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, cur current) (*subscriptiondomain.Subscription, error) {
	locked, err := s.repo.FindActiveByAccountForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if locked == nil {
		if cur.sub != nil {
			return nil, subscriptiondomain.ErrConcurrentTransition
		}
		return nil, nil
	}
	if locked.ID != cur.id() {
		return nil, subscriptiondomain.ErrConcurrentTransition
	}
	return locked, nil
}

// end closes sub. A period that already ran out keeps its own end date so
// history shows the real period boundary.
func (s *Service) end(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, today, now time.Time) (*subscriptiondomain.Subscription, error) {
	endDate := today
	if sub.EndDate != nil && sub.EndDate.Before(today) {
		endDate = clock.Date(*sub.EndDate)
	}

	ok, err := s.repo.End(ctx, tx, sub.ID, endDate, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, subscriptiondomain.ErrConcurrentTransition
	}

	ended := *sub
	ended.Status = subscriptiondomain.SubscriptionStatusEnded
	ended.EndDate = &endDate
	ended.AutoRenew = false
	ended.EndedAt = &now
	ended.UpdatedAt = now
	return &ended, nil
}

func (s *Service) open(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, plan plandomain.Plan, start time.Time, ref reference.Reference, now time.Time) (*subscriptiondomain.Subscription, error) {
	sub := &subscriptiondomain.Subscription{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		PlanID:    plan.ID,
		Status:    subscriptiondomain.SubscriptionStatusActive,
		StartDate: start,
		EndDate:   subscriptiondomain.PeriodEnd(plan.Type, start),
		AutoRenew: !plan.IsFree(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	sub.SetReference(ref)

	if err := s.repo.Insert(ctx, tx, sub); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, subscriptiondomain.ErrConcurrentTransition
		}
		return nil, err
	}
	return sub, nil
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, entry *auditdomain.Entry, ref reference.Reference) (*auditdomain.Entry, error) {
	entry.SetReference(ref)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now().UTC()
	}
	if err := s.auditSvc.Record(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) charge(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, plan plandomain.Plan, ref reference.Reference, status paymentdomain.TransactionStatus) (*paymentdomain.Transaction, error) {
	txn := &paymentdomain.Transaction{
		AccountID:            sub.AccountID,
		PlanID:               plan.ID,
		SubscriptionID:       &sub.ID,
		Amount:               plan.Price,
		Currency:             plan.Currency,
		Status:               status,
		TransactionReference: ref.Value,
		ReferenceKind:        ref.Kind,
	}
	if err := s.paymentSvc.Record(ctx, tx, txn); err != nil {
		if errors.Is(err, paymentdomain.ErrDuplicateReference) {
			return nil, subscriptiondomain.ErrPaymentReferenceUsed
		}
		return nil, err
	}
	return txn, nil
}
