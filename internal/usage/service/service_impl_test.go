package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/config"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	planrepository "github.com/smallbiznis/sitebill/internal/plan/repository"
	planservice "github.com/smallbiznis/sitebill/internal/plan/service"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/sitebill/internal/subscription/repository"
	"github.com/smallbiznis/sitebill/internal/testutil"
	"github.com/smallbiznis/sitebill/internal/usage/domain"
	"github.com/smallbiznis/sitebill/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type usageFixture struct {
	db      *gorm.DB
	svc     domain.Service
	planSvc plandomain.Service
	subRepo subscriptiondomain.Repository
	node    *snowflake.Node
	clock   *clock.FakeClock
}

func setupUsageService(t *testing.T) *usageFixture {
	t.Helper()

	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	planSvc := planservice.NewService(planservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		Repo:      planrepository.Provide(),
		Cfg:       config.Config{DefaultCurrency: "USD"},
		Lifecycle: config.NewStaticLifecycleConfigHolder(config.DefaultLifecycleConfig()),
	})
	subRepo := subscriptionrepository.Provide()

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   fake,
		Repo:    repository.Provide(),
		SubRepo: subRepo,
		PlanSvc: planSvc,
	})

	return &usageFixture{db: db, svc: svc, planSvc: planSvc, subRepo: subRepo, node: node, clock: fake}
}

func int64Ptr(v int64) *int64 { return &v }

func (f *usageFixture) subscribe(t *testing.T, accountID snowflake.ID, req plandomain.CreateRequest) *plandomain.Plan {
	t.Helper()

	plan, err := f.planSvc.Create(context.Background(), req)
	require.NoError(t, err)

	now := f.clock.Now()
	err = f.subRepo.Insert(context.Background(), f.db, &subscriptiondomain.Subscription{
		ID:        f.node.Generate(),
		AccountID: accountID,
		PlanID:    plan.ID,
		Status:    subscriptiondomain.SubscriptionStatusActive,
		StartDate: clock.Date(now),
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	return plan
}

func (f *usageFixture) addSites(t *testing.T, accountID snowflake.ID, active, deleted int) {
	t.Helper()

	now := f.clock.Now()
	for i := 0; i < active+deleted; i++ {
		var deletedAt *time.Time
		if i >= active {
			deletedAt = &now
		}
		err := f.db.Exec(
			`INSERT INTO sites (id, account_id, name, status, created_at, updated_at, deleted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.node.Generate(), accountID, "site", "active", now, now, deletedAt,
		).Error
		require.NoError(t, err)
	}
}

func TestCheckSiteLimit(t *testing.T) {
	f := setupUsageService(t)
	ctx := context.Background()
	accountID := f.node.Generate()

	f.subscribe(t, accountID, plandomain.CreateRequest{
		Code: "free", Name: "Free", Type: plandomain.PlanTypeFree, SiteLimit: int64Ptr(2),
	})
	f.addSites(t, accountID, 1, 3)

	check, err := f.svc.CheckSiteLimit(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, int64(1), check.Used)
	require.NotNil(t, check.Remaining)
	assert.Equal(t, int64(1), *check.Remaining)

	f.addSites(t, accountID, 1, 0)

	check, err = f.svc.CheckSiteLimit(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, domain.ReasonLimitReached, check.Reason)
	assert.Equal(t, int64(0), *check.Remaining)
}

func TestCheckLimitUnlimitedPlan(t *testing.T) {
	f := setupUsageService(t)
	ctx := context.Background()
	accountID := f.node.Generate()

	f.subscribe(t, accountID, plandomain.CreateRequest{
		Code: "agency", Name: "Agency", Type: plandomain.PlanTypeYearly, Price: decimal.NewFromInt(900),
	})
	f.addSites(t, accountID, 50, 0)

	check, err := f.svc.CheckSiteLimit(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.True(t, check.Unlimited)
	assert.Nil(t, check.Limit)
	assert.Nil(t, check.Remaining)
	assert.Equal(t, int64(50), check.Used)
}

func TestCheckLimitWithoutSubscriptionDenies(t *testing.T) {
	f := setupUsageService(t)
	ctx := context.Background()

	check, err := f.svc.CheckAICallLimit(ctx, f.node.Generate())
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, domain.ReasonNoActiveSubscription, check.Reason)
}

func TestAICallLimitAndReset(t *testing.T) {
	f := setupUsageService(t)
	ctx := context.Background()
	accountID := f.node.Generate()

	f.subscribe(t, accountID, plandomain.CreateRequest{
		Code: "pro", Name: "Pro", Type: plandomain.PlanTypeMonthly, Price: decimal.NewFromInt(20), AICallLimit: int64Ptr(2),
	})

	for want := int64(1); want <= 2; want++ {
		count, err := f.svc.IncrementAIUsage(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	check, err := f.svc.CheckAICallLimit(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, int64(2), check.Used)

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.svc.ResetAIUsage(ctx, nil, accountID, f.clock.Now()))

	check, err = f.svc.CheckAICallLimit(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, int64(0), check.Used)
	testutil.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM ai_usage WHERE account_id = ?`, accountID)
}

func TestInvalidAccount(t *testing.T) {
	f := setupUsageService(t)
	ctx := context.Background()

	if _, err := f.svc.CheckSiteLimit(ctx, 0); !errors.Is(err, domain.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
	if _, err := f.svc.IncrementAIUsage(ctx, 0); !errors.Is(err, domain.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestLapsedSubscriptionFallsToFreeLimits(t *testing.T) {
	f := setupUsageService(t)
	ctx := context.Background()
	accountID := f.node.Generate()

	f.subscribe(t, accountID, plandomain.CreateRequest{
		Code: "pro", Name: "Pro", Type: plandomain.PlanTypeMonthly, Price: decimal.NewFromInt(20), SiteLimit: int64Ptr(10),
	})
	f.addSites(t, accountID, 2, 0)
	yesterday := clock.Today(f.clock).AddDate(0, 0, -1)
	require.NoError(t, f.db.Exec(`UPDATE subscriptions SET end_date = ?, auto_renew = ? WHERE account_id = ?`, yesterday, false, accountID).Error)

	// no free plan to fall back to: fail closed
	check, err := f.svc.CheckSiteLimit(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, domain.ReasonNoActiveSubscription, check.Reason)

	_, err = f.planSvc.Create(ctx, plandomain.CreateRequest{Code: "free", Name: "Free", Type: plandomain.PlanTypeFree, SiteLimit: int64Ptr(1)})
	require.NoError(t, err)

	check, err = f.svc.CheckSiteLimit(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	require.NotNil(t, check.Limit)
	assert.Equal(t, int64(1), *check.Limit)

	// a due row that auto renews keeps its plan until the sweep rolls it
	require.NoError(t, f.db.Exec(`UPDATE subscriptions SET auto_renew = ? WHERE account_id = ?`, true, accountID).Error)
	check, err = f.svc.CheckSiteLimit(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	require.NotNil(t, check.Limit)
	assert.Equal(t, int64(10), *check.Limit)
}
