package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
)

const (
	defaultPlanTTL  = 5 * time.Minute
	defaultMaxPlans = 256
	freePlanKey     = snowflake.ID(0)
)

// PlanCache stores plan lookups for the limits hot path. Entries are
// invalidated on plan deactivation.
type PlanCache interface {
	GetPlan(id snowflake.ID) (plandomain.Plan, bool)
	SetPlan(plan plandomain.Plan)
	GetFreePlan() (plandomain.Plan, bool)
	SetFreePlan(plan plandomain.Plan)
	Invalidate(id snowflake.ID)
}

type planCache struct {
	plans Cache[snowflake.ID, plandomain.Plan]
	ttl   func() time.Duration
}

// NewPlanCache returns a bounded in-memory plan cache. ttl is consulted on
// every write so hot-reloaded policy applies without a restart.
func NewPlanCache(ttl func() time.Duration, opts ...Option) PlanCache {
	if ttl == nil {
		ttl = func() time.Duration { return defaultPlanTTL }
	}
	opts = append([]Option{WithMaxEntries(defaultMaxPlans)}, opts...)
	return &planCache{
		plans: NewTTLCache[snowflake.ID, plandomain.Plan](opts...),
		ttl:   ttl,
	}
}

func (c *planCache) GetPlan(id snowflake.ID) (plandomain.Plan, bool) {
	if id == freePlanKey {
		return plandomain.Plan{}, false
	}
	return c.plans.Get(id)
}

func (c *planCache) SetPlan(plan plandomain.Plan) {
	if plan.ID == 0 {
		return
	}
	c.plans.Set(plan.ID, plan, c.ttl())
}

func (c *planCache) GetFreePlan() (plandomain.Plan, bool) {
	return c.plans.Get(freePlanKey)
}

func (c *planCache) SetFreePlan(plan plandomain.Plan) {
	if plan.ID == 0 || !plan.IsFree() {
		return
	}
	c.plans.Set(freePlanKey, plan, c.ttl())
}

func (c *planCache) Invalidate(id snowflake.ID) {
	c.plans.Delete(id)
	if free, ok := c.plans.Get(freePlanKey); ok && free.ID == id {
		c.plans.Delete(freePlanKey)
	}
}
