package domain

import (
	"time"

	auditdomain "github.com/smallbiznis/sitebill/internal/audit/domain"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
)

// PeriodEnd returns the end date of a period starting at start. Free plans
// are open ended. Month and year arithmetic follows time.AddDate, so a
// period starting Jan 31 ends Mar 3 (Mar 2 in leap years).
func PeriodEnd(planType plandomain.PlanType, start time.Time) *time.Time {
	var end time.Time
	switch planType {
	case plandomain.PlanTypeMonthly:
		end = start.AddDate(0, 1, 0)
	case plandomain.PlanTypeYearly:
		end = start.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &end
}

// Classify names the transition from current to next. Only price is
// compared; leaving a free plan starts a fresh subscription.
func Classify(current *plandomain.Plan, next plandomain.Plan) auditdomain.Action {
	if current == nil || current.IsFree() {
		return auditdomain.ActionCreated
	}
	switch next.Price.Cmp(current.Price) {
	case 1:
		return auditdomain.ActionUpgraded
	case -1:
		return auditdomain.ActionDowngraded
	default:
		return auditdomain.ActionCreated
	}
}
