package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/cache"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/smallbiznis/sitebill/internal/plan/domain"
	"github.com/smallbiznis/sitebill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Cfg       config.Config
	Lifecycle *config.LifecycleConfigHolder `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            domain.Repository
	cache           cache.PlanCache
	defaultCurrency string
}

func NewService(p Params) domain.Service {
	lifecycle := p.Lifecycle
	ttl := func() time.Duration {
		return lifecycle.Get().Limits.PlanCacheTTL
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Cfg.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}

	return &Service{
		db:              p.DB,
		log:             p.Log.Named("plan.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		cache:           cache.NewPlanCache(ttl),
		defaultCurrency: currency,
	}
}

// Get resolves a plan an account is about to move onto. It always reads the
// store, since a deactivation on another replica would not have reached this
// replica's cache yet.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	if id == 0 {
		return nil, domain.ErrPlanNotFound
	}
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	s.cache.SetPlan(*plan)
	if !plan.IsActive {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) GetAny(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	if id == 0 {
		return nil, domain.ErrPlanNotFound
	}
	if cached, ok := s.cache.GetPlan(id); ok {
		return &cached, nil
	}

	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}

	s.cache.SetPlan(*plan)
	return plan, nil
}

func (s *Service) GetFreePlan(ctx context.Context) (*domain.Plan, error) {
	if cached, ok := s.cache.GetFreePlan(); ok {
		return &cached, nil
	}

	plan, err := s.repo.FindFirstActiveFree(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		s.log.Error("no active free plan configured")
		return nil, domain.ErrFreePlanNotConfigured
	}

	s.cache.SetFreePlan(*plan)
	s.cache.SetPlan(*plan)
	return plan, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Plan, error) {
	return s.repo.List(ctx, s.db, !req.IncludeInactive)
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Plan, error) {
	plan, err := s.buildPlan(req)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByCode(ctx, s.db, plan.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrPlanCodeTaken
	}

	if err := s.repo.Insert(ctx, s.db, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrPlanCodeTaken
		}
		return nil, err
	}

	s.log.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("code", plan.Code),
		zap.String("type", string(plan.Type)),
	)
	return plan, nil
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	if !plan.IsActive {
		return plan, nil
	}

	now := s.clock.Now()
	updated, err := s.repo.SetActive(ctx, s.db, id, false, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrPlanNotFound
	}
	s.cache.Invalidate(id)

	plan.IsActive = false
	plan.UpdatedAt = now
	s.log.Info("plan deactivated", zap.String("plan_id", id.String()), zap.String("code", plan.Code))
	return plan, nil
}

func (s *Service) buildPlan(req domain.CreateRequest) (*domain.Plan, error) {
	code := strings.ToLower(strings.TrimSpace(req.Code))
	if !domain.CodePattern.MatchString(code) {
		return nil, domain.ErrInvalidCode
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	planType := domain.PlanType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	if !planType.Valid() {
		return nil, domain.ErrInvalidType
	}

	price := req.Price
	switch {
	case price.IsNegative():
		return nil, domain.ErrInvalidPrice
	case planType == domain.PlanTypeFree && !price.IsZero():
		return nil, domain.ErrInvalidPrice
	case planType != domain.PlanTypeFree && !price.IsPositive():
		return nil, domain.ErrInvalidPrice
	case !price.Equal(price.Round(2)):
		return nil, domain.ErrInvalidPrice
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	if !validLimit(req.SiteLimit) || !validLimit(req.AICallLimit) {
		return nil, domain.ErrInvalidLimit
	}

	now := s.clock.Now()
	return &domain.Plan{
		ID:          s.genID.Generate(),
		Code:        code,
		Name:        name,
		Type:        planType,
		Price:       price.Round(2),
		Currency:    currency,
		SiteLimit:   req.SiteLimit,
		AICallLimit: req.AICallLimit,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func validLimit(limit *int64) bool {
	return limit == nil || *limit >= 0
}
