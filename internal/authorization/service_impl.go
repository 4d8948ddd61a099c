package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	orgdomain "github.com/smallbiznis/agentmarket/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectUsage        = "usage"
	ObjectRun          = "run"
	ObjectBilling      = "billing"
	ObjectAgent        = "agent"
	ObjectMember       = "member"
	ObjectInvite       = "invite"
	ObjectAPIKey       = "api_key"
	ObjectOrganization = "organization"
)

const (
	ActionView    = "view"
	ActionExecute = "execute"
	ActionManage  = "manage"
	ActionCreate  = "create"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	// Authorize returns ErrForbidden unless role may perform action on object.
	Authorize(ctx context.Context, role, object, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer persists policies in casbin_rule and seeds the role hierarchy
// owner > admin > member on every start.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return newEnforcer(adapter)
}

// NewMemoryEnforcer keeps policies in memory only.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	return newEnforcer(nil)
}

func newEnforcer(adapter *gormadapter.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	var enforcer *casbin.SyncedEnforcer
	if adapter != nil {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(adapter != nil)
	enforcer.EnableAutoBuildRoleLinks(true)
	if adapter != nil {
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	if err := seedPolicies(enforcer); err != nil {
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

func (s *ServiceImpl) Authorize(ctx context.Context, role, object, action string) error {
	normalized, err := orgdomain.ParseRole(role)
	if err != nil {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subjectFor(normalized), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("role", normalized),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func subjectFor(role string) string {
	return fmt.Sprintf("role:%s", strings.ToLower(role))
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	groupings := [][]string{
		{"role:owner", "role:admin"},
		{"role:admin", "role:member"},
	}
	for _, rule := range groupings {
		if _, err := enforcer.AddGroupingPolicy(rule); err != nil {
			return err
		}
	}

	policies := [][]string{
		// Members read usage and run agents.
		{"role:member", ObjectUsage, ActionView},
		{"role:member", ObjectRun, ActionExecute},
		{"role:member", ObjectRun, ActionView},
		{"role:member", ObjectAgent, ActionView},
		{"role:member", ObjectMember, ActionView},
		{"role:member", ObjectOrganization, ActionView},

		{"role:admin", ObjectBilling, ActionManage},
		{"role:admin", ObjectAgent, ActionManage},
		{"role:admin", ObjectInvite, ActionCreate},
		{"role:admin", ObjectAPIKey, ActionManage},
		{"role:admin", ObjectOrganization, ActionManage},

		{"role:owner", ObjectMember, ActionManage},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
