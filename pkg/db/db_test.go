package db

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	puresqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestDialectAddsSQLiteBusyTimeout(t *testing.T) {
	dialector, err := Dialect(Config{Type: TypePureSQLite, Path: "agentmarket.db"})
	require.NoError(t, err)
	pure, ok := dialector.(*puresqlite.Dialector)
	require.True(t, ok)
	assert.Equal(t, "agentmarket.db?_pragma=busy_timeout(5000)", pure.DSN)

	dialector, err = Dialect(Config{Type: TypePureSQLite, Path: "file:test?mode=memory&cache=shared"})
	require.NoError(t, err)
	assert.Equal(t, "file:test?mode=memory&cache=shared&_pragma=busy_timeout(5000)", dialector.(*puresqlite.Dialector).DSN)
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	require.Error(t, err)
}

func TestOpenSerializesSQLiteConnections(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	conn, err := Open(Params{
		Lifecycle: lc,
		Config: Config{
			Type:        TypePureSQLite,
			Name:        "agentmarket",
			Path:        filepath.Join(t.TempDir(), "serialized.db"),
			MaxOpenConn: 50,
		},
		Log: zap.NewNop(),
	})
	require.NoError(t, err)
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	assert.True(t, IsSQLite(conn))
	assert.False(t, IsPostgres(conn))
}

func TestIsLockContention(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{err: fmt.Errorf("reserve: %w", errors.New("database table is locked")), want: true},
		{err: errors.New("Error 1213 (40001): Deadlock found when trying to get lock"), want: true},
		{err: errors.New("Error 1205 (HY000): Lock wait timeout exceeded"), want: true},
		{err: errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), want: true},
		{err: errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), want: true},
		{err: gorm.ErrRecordNotFound, want: false},
		{err: errors.New("UNIQUE constraint failed: usage_periods.id"), want: false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsLockContention(tc.err), "%v", tc.err)
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: organizations.slug")))
	assert.False(t, IsDuplicateKeyErr(errors.New("database is locked")))
}
