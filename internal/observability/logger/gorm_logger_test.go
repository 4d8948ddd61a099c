package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("update usage_periods set credits_used = credits_used + 5"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH recent AS (SELECT 1) SELECT * FROM recent"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestLogModeReturnsCopy(t *testing.T) {
	base := NewGormLogger(DefaultGormLoggerConfig())
	silent := base.LogMode(gormlogger.Silent).(*GormLogger)

	assert.Equal(t, gormlogger.Warn, base.cfg.Level)
	assert.Equal(t, gormlogger.Silent, silent.cfg.Level)
}
