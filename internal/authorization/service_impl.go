package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/sitebill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSubscription = "subscription"
	ObjectPlan         = "plan"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionSubscriptionAssign = "subscription.assign"
	ActionPlanManage         = "plan.manage"
	ActionAuditLogView       = "audit_log.view"
)

const (
	RoleAdmin  = "role:admin"
	RoleSystem = "role:system"

	ActorSystem = "system"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

type EnforcerParams struct {
	fx.In

	DB  *gorm.DB
	Cfg config.Config
}

// NewEnforcer loads policies from casbin_rule and groups every configured
// admin actor into role:admin.
func NewEnforcer(p EnforcerParams) (*casbin.SyncedEnforcer, error) {
	return newEnforcer(p.DB, p.Cfg.AdminActors)
}

func newEnforcer(db *gorm.DB, adminActors []string) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	for _, actor := range adminActors {
		actor = strings.TrimSpace(actor)
		if actor == "" {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(actor, RoleAdmin); err != nil {
			return nil, err
		}
	}
	if _, err := enforcer.AddGroupingPolicy(ActorSystem, RoleSystem); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) GrantRole(ctx context.Context, actor string, role string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	role = strings.TrimSpace(role)
	if !strings.HasPrefix(role, "role:") {
		return ErrInvalidRole
	}
	if _, err := s.enforcer.AddGroupingPolicy(actor, role); err != nil {
		return err
	}
	s.log.Info("role granted", zap.String("actor", actor), zap.String("role", role))
	return nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleAdmin, ObjectSubscription, ActionSubscriptionAssign},
		{RoleAdmin, ObjectPlan, ActionPlanManage},
		{RoleAdmin, ObjectAuditLog, ActionAuditLogView},

		// Automated processes assign the free tier on cancellation and expiry.
		{RoleSystem, ObjectSubscription, ActionSubscriptionAssign},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
