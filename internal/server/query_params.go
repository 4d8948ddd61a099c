package server

import (
	"errors"
	"strconv"
	"strings"
)

var errInvalidLimit = errors.New("invalid_limit")

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseLimit returns fallback for an empty value and clamps to max.
func parseLimit(value string, fallback, max int) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return 0, errInvalidLimit
	}
	if parsed > max {
		return max, nil
	}
	return parsed, nil
}
