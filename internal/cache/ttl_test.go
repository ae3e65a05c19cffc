package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
)

type manualNow struct {
	mu sync.Mutex
	t  time.Time
}

func (m *manualNow) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *manualNow) advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

func TestTTLCacheExpires(t *testing.T) {
	clock := &manualNow{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCache[string, int](WithNow(clock.now))

	c.Set("a", 1, time.Minute)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	clock.advance(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped, len=%d", c.Len())
	}
}

func TestTTLCacheEvictsOldestOnOverflow(t *testing.T) {
	c := NewTTLCache[string, int](WithMaxEntries(2))

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("a", 10, 0)
	c.Set("c", 3, 0)

	if c.Len() != 2 {
		t.Fatalf("expected bounded size 2, got %d", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected oldest insert b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Fatalf("expected refreshed a to survive, got %v %v", v, ok)
	}
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int, int](WithMaxEntries(64))
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Set(w*1000+i, i, time.Minute)
				c.Get(w*1000 + i/2)
			}
		}(w)
	}
	wg.Wait()
	if c.Len() > 64 {
		t.Fatalf("cache exceeded bound: %d", c.Len())
	}
}

func TestPlanCacheInvalidateDropsFreeAlias(t *testing.T) {
	c := NewPlanCache(nil)
	free := plandomain.Plan{ID: snowflake.ID(7), Code: "free", Type: plandomain.PlanTypeFree, IsActive: true}

	c.SetPlan(free)
	c.SetFreePlan(free)
	c.Invalidate(free.ID)

	if _, ok := c.GetPlan(free.ID); ok {
		t.Fatalf("expected plan entry invalidated")
	}
	if _, ok := c.GetFreePlan(); ok {
		t.Fatalf("expected free alias invalidated")
	}
}

func TestPlanCacheIgnoresPaidPlanAsFree(t *testing.T) {
	c := NewPlanCache(func() time.Duration { return time.Minute })
	c.SetFreePlan(plandomain.Plan{ID: snowflake.ID(9), Type: plandomain.PlanTypeMonthly})

	if _, ok := c.GetFreePlan(); ok {
		t.Fatalf("expected paid plan to be rejected as free alias")
	}
}
