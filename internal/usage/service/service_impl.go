package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/clock"
	obsmetrics "github.com/smallbiznis/sitebill/internal/observability/metrics"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	"github.com/smallbiznis/sitebill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	SubRepo    subscriptiondomain.Repository
	PlanSvc    plandomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	subRepo    subscriptiondomain.Repository
	planSvc    plandomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		subRepo:    p.SubRepo,
		planSvc:    p.PlanSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CheckSiteLimit(ctx context.Context, accountID snowflake.ID) (domain.LimitCheck, error) {
	if accountID == 0 {
		return domain.LimitCheck{}, domain.ErrInvalidAccount
	}

	plan, err := s.activePlan(ctx, accountID)
	if err != nil {
		return domain.LimitCheck{}, err
	}
	if plan == nil {
		return s.deny(ctx, domain.LimitCheck{Resource: domain.LimitSites}, domain.ReasonNoActiveSubscription), nil
	}

	used, err := s.repo.CountActiveSites(ctx, s.db, accountID)
	if err != nil {
		return domain.LimitCheck{}, err
	}
	return s.evaluate(ctx, domain.LimitSites, plan.SiteLimit, used), nil
}

func (s *Service) CheckAICallLimit(ctx context.Context, accountID snowflake.ID) (domain.LimitCheck, error) {
	if accountID == 0 {
		return domain.LimitCheck{}, domain.ErrInvalidAccount
	}

	plan, err := s.activePlan(ctx, accountID)
	if err != nil {
		return domain.LimitCheck{}, err
	}
	if plan == nil {
		return s.deny(ctx, domain.LimitCheck{Resource: domain.LimitAICalls}, domain.ReasonNoActiveSubscription), nil
	}

	usage, err := s.repo.FindAIUsage(ctx, s.db, accountID)
	if err != nil {
		return domain.LimitCheck{}, err
	}
	var used int64
	if usage != nil {
		used = usage.CallCount
	}
	return s.evaluate(ctx, domain.LimitAICalls, plan.AICallLimit, used), nil
}

// IncrementAIUsage counts one AI call and returns the new period total. It
// does not enforce the limit; callers check first.
func (s *Service) IncrementAIUsage(ctx context.Context, accountID snowflake.ID) (int64, error) {
	if accountID == 0 {
		return 0, domain.ErrInvalidAccount
	}

	count, err := s.repo.IncrementAIUsage(ctx, s.db, accountID, s.clock.Now().UTC())
	if err != nil {
		s.log.Error("failed to increment ai usage", zap.String("account_id", accountID.String()), zap.Error(err))
		return 0, err
	}
	s.obsMetrics.RecordAIUsage(ctx)
	return count, nil
}

func (s *Service) ResetAIUsage(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, at time.Time) error {
	if accountID == 0 {
		return domain.ErrInvalidAccount
	}
	if tx == nil {
		tx = s.db
	}
	return s.repo.ResetAIUsage(ctx, tx, accountID, at.UTC())
}

// activePlan resolves the plan behind the account's active subscription,
// including deactivated plans still held by grandfathered accounts. A row
// whose period ran out without auto renew only waits for the sweep to expire
// it, so the account is already held to the free plan.
func (s *Service) activePlan(ctx context.Context, accountID snowflake.ID) (*plandomain.Plan, error) {
	sub, err := s.subRepo.FindActiveByAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	if !sub.AutoRenew && sub.Due(clock.Today(s.clock)) {
		free, err := s.planSvc.GetFreePlan(ctx)
		if errors.Is(err, plandomain.ErrFreePlanNotConfigured) {
			return nil, nil
		}
		return free, err
	}
	return s.planSvc.GetAny(ctx, sub.PlanID)
}

func (s *Service) evaluate(ctx context.Context, resource string, limit *int64, used int64) domain.LimitCheck {
	check := domain.LimitCheck{Resource: resource, Used: used}
	if limit == nil {
		check.Allowed = true
		check.Unlimited = true
		return check
	}

	max := *limit
	remaining := max - used
	if remaining < 0 {
		remaining = 0
	}
	check.Limit = &max
	check.Remaining = &remaining
	if used >= max {
		return s.deny(ctx, check, domain.ReasonLimitReached)
	}
	check.Allowed = true
	return check
}

func (s *Service) deny(ctx context.Context, check domain.LimitCheck, reason string) domain.LimitCheck {
	check.Allowed = false
	check.Reason = reason
	s.obsMetrics.RecordLimitDenied(ctx, check.Resource, reason)
	return check
}
