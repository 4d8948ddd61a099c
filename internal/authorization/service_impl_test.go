package authorization

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestAuthorizeRoleHierarchy(t *testing.T) {
	enforcer, err := NewMemoryEnforcer()
	require.NoError(t, err)
	svc := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
	ctx := context.Background()

	cases := []struct {
		role    string
		object  string
		action  string
		allowed bool
	}{
		{"MEMBER", ObjectUsage, ActionView, true},
		{"MEMBER", ObjectRun, ActionExecute, true},
		{"MEMBER", ObjectBilling, ActionManage, false},
		{"MEMBER", ObjectAPIKey, ActionManage, false},
		{"ADMIN", ObjectUsage, ActionView, true},
		{"ADMIN", ObjectBilling, ActionManage, true},
		{"ADMIN", ObjectInvite, ActionCreate, true},
		{"ADMIN", ObjectMember, ActionManage, false},
		{"OWNER", ObjectMember, ActionManage, true},
		{"owner", ObjectRun, ActionExecute, true},
		{"OWNER", "invoice", ActionView, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s/%s", tc.role, tc.object, tc.action), func(t *testing.T) {
			err := svc.Authorize(ctx, tc.role, tc.object, tc.action)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestAuthorizeRejectsMalformedInput(t *testing.T) {
	enforcer, err := NewMemoryEnforcer()
	require.NoError(t, err)
	svc := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, "SUPERUSER", ObjectUsage, ActionView), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(ctx, "ADMIN", " ", ActionView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, "ADMIN", ObjectUsage, ""), ErrInvalidAction)
}

func TestPersistentEnforcerSeedsOnce(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_, err = NewEnforcer(db)
	require.NoError(t, err)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	var rules int64
	require.NoError(t, db.Table("casbin_rule").Count(&rules).Error)
	assert.Equal(t, int64(14), rules)

	ok, err := enforcer.Enforce("role:owner", ObjectBilling, ActionManage)
	require.NoError(t, err)
	assert.True(t, ok)
}
