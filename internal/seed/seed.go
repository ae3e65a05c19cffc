// Package seed installs the starter plan catalog on empty databases.
package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
)

func limit(v int64) *int64 { return &v }

// DefaultCatalog is the free/monthly/yearly ladder installed on first boot.
func DefaultCatalog(currency string) []plandomain.CreateRequest {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	return []plandomain.CreateRequest{
		{
			Code:        "free",
			Name:        "Free",
			Type:        plandomain.PlanTypeFree,
			Price:       decimal.Zero,
			Currency:    currency,
			SiteLimit:   limit(1),
			AICallLimit: limit(50),
		},
		{
			Code:        "monthly",
			Name:        "Monthly",
			Type:        plandomain.PlanTypeMonthly,
			Price:       decimal.NewFromInt(15),
			Currency:    currency,
			SiteLimit:   limit(10),
			AICallLimit: limit(2000),
		},
		{
			Code:     "yearly",
			Name:     "Yearly",
			Type:     plandomain.PlanTypeYearly,
			Price:    decimal.NewFromInt(150),
			Currency: currency,
		},
	}
}

// EnsurePlanCatalog creates the default catalog unless a free plan already
// exists. Plans whose code is taken are left alone. It returns how many plans
// were created.
func EnsurePlanCatalog(ctx context.Context, plans plandomain.Service, currency string) (int, error) {
	if plans == nil {
		return 0, errors.New("seed plan service is required")
	}

	_, err := plans.GetFreePlan(ctx)
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, plandomain.ErrFreePlanNotConfigured) {
		return 0, err
	}

	created := 0
	for _, req := range DefaultCatalog(currency) {
		if _, err := plans.Create(ctx, req); err != nil {
			if errors.Is(err, plandomain.ErrPlanCodeTaken) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}
