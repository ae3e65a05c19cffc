package authorization

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:authz_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestService(t *testing.T, admins ...string) Service {
	t.Helper()

	enforcer, err := newEnforcer(setupTestDB(t), admins)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeAdminActor(t *testing.T) {
	svc := newTestService(t, "user:ops")
	ctx := context.Background()

	for _, tc := range []struct{ object, action string }{
		{ObjectSubscription, ActionSubscriptionAssign},
		{ObjectPlan, ActionPlanManage},
		{ObjectAuditLog, ActionAuditLogView},
	} {
		if err := svc.Authorize(ctx, "user:ops", tc.object, tc.action); err != nil {
			t.Fatalf("expected %s/%s allowed, got %v", tc.object, tc.action, err)
		}
	}
}

func TestAuthorizeDeniesRegularAccount(t *testing.T) {
	svc := newTestService(t, "user:ops")

	err := svc.Authorize(context.Background(), "account:42", ObjectSubscription, ActionSubscriptionAssign)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthorizeSystemCannotManagePlans(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Authorize(ctx, ActorSystem, ObjectSubscription, ActionSubscriptionAssign); err != nil {
		t.Fatalf("expected system assign allowed, got %v", err)
	}
	if err := svc.Authorize(ctx, ActorSystem, ObjectPlan, ActionPlanManage); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.Authorize(ctx, " ", ObjectPlan, ActionPlanManage); !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("expected invalid actor, got %v", err)
	}
	if err := svc.Authorize(ctx, "user:1", "", ActionPlanManage); !errors.Is(err, ErrInvalidObject) {
		t.Fatalf("expected invalid object, got %v", err)
	}
	if err := svc.Authorize(ctx, "user:1", ObjectPlan, ""); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected invalid action, got %v", err)
	}
}

func TestGrantRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.GrantRole(ctx, "user:new", "admin"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected invalid role, got %v", err)
	}
	if err := svc.GrantRole(ctx, "user:new", RoleAdmin); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	if err := svc.Authorize(ctx, "user:new", ObjectPlan, ActionPlanManage); err != nil {
		t.Fatalf("expected allowed after grant, got %v", err)
	}
}
