package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/runs"),
		attribute.String("user.email", "a@example.com"),
		attribute.String("run.input", "secret plan"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorStripsWrappedDetail(t *testing.T) {
	err := fmt.Errorf("insert run: %w", errors.New("value too long for input \"hello\""))
	assert.EqualError(t, SafeError(err), "insert run")
	assert.Nil(t, SafeError(nil))
}
