package seed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/config"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	planrepo "github.com/smallbiznis/sitebill/internal/plan/repository"
	planservice "github.com/smallbiznis/sitebill/internal/plan/service"
	"github.com/smallbiznis/sitebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPlanService(t *testing.T) (plandomain.Service, func(int64)) {
	t.Helper()

	db := testutil.NewDB(t)
	svc := planservice.NewService(planservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     testutil.NewNode(t),
		Clock:     clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:      planrepo.Provide(),
		Cfg:       config.Config{DefaultCurrency: "USD"},
		Lifecycle: config.NewStaticLifecycleConfigHolder(config.DefaultLifecycleConfig()),
	})
	return svc, func(want int64) {
		testutil.AssertCount(t, db, want, `SELECT COUNT(*) FROM plans`)
	}
}

func TestEnsurePlanCatalogSeedsOnce(t *testing.T) {
	plans, count := newPlanService(t)
	ctx := context.Background()

	created, err := EnsurePlanCatalog(ctx, plans, "eur")
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	count(3)

	free, err := plans.GetFreePlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "EUR", free.Currency)
	assert.True(t, free.Price.IsZero())

	created, err = EnsurePlanCatalog(ctx, plans, "eur")
	require.NoError(t, err)
	assert.Zero(t, created)
	count(3)
}

func TestEnsurePlanCatalogKeepsExistingCodes(t *testing.T) {
	plans, count := newPlanService(t)
	ctx := context.Background()

	_, err := plans.Create(ctx, plandomain.CreateRequest{
		Code:     "monthly",
		Name:     "Legacy monthly",
		Type:     plandomain.PlanTypeMonthly,
		Price:    decimal.NewFromInt(9),
		Currency: "USD",
	})
	require.NoError(t, err)

	created, err := EnsurePlanCatalog(ctx, plans, "USD")
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	count(3)
}
