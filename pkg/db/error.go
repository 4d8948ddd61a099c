package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	// PostgreSQL 23505
	case strings.Contains(msg, "duplicate key value violates unique constraint"):
		return true
	// MySQL 1062
	case strings.Contains(msg, "Error 1062"):
		return true
	// SQLite 2067
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true
	}
	return false
}

// IsLockContention reports errors raised when a concurrent transaction holds
// the lock a statement needed. Retrying the whole transaction is safe.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	switch {
	// SQLite 5 / 6
	case strings.Contains(msg, "SQLITE_BUSY"),
		strings.Contains(msg, "SQLITE_LOCKED"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return true
	// MySQL 1213 deadlock, 1205 lock wait timeout
	case strings.Contains(msg, "Error 1213"),
		strings.Contains(msg, "Error 1205"):
		return true
	// PostgreSQL 40001 serialization_failure, 40P01 deadlock_detected
	case strings.Contains(msg, "SQLSTATE 40001"),
		strings.Contains(msg, "SQLSTATE 40P01"):
		return true
	}
	return false
}
