package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBucketReply(t *testing.T) {
	res, err := parseBucketReply([]any{int64(1), "3.5", int64(1700000000000)}, 2, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 10, res.Limit)
	assert.Equal(t, 3, res.Remaining)
	assert.Zero(t, res.RetryAfter)

	res, err = parseBucketReply([]any{int64(0), "0.25", int64(1700000000000)}, 0.5, 10)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2*time.Second, res.RetryAfter)

	_, err = parseBucketReply([]any{int64(1)}, 1, 1)
	require.ErrorIs(t, err, ErrInvalidResponse)

	_, err = parseBucketReply([]any{"yes", "1", int64(0)}, 1, 1)
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, bucketTTL(5, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestDisabledLimiterAdmitsEverything(t *testing.T) {
	var limiter *RunLimiter
	ctx := context.Background()

	res, err := limiter.AllowOrg(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := limiter.TryLockAgent(ctx, "org-1", "agent-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	require.NoError(t, limiter.ReleaseAgent(ctx, "org-1", "agent-1", token))
}

func TestNewRunLimiterRejectsNonPositiveRate(t *testing.T) {
	_, err := newRunLimiter(nil, config.RateLimitConfig{RunOrgRate: 0, RunOrgBurst: 5})
	require.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "agentmarket:runs:org:org-1", RunOrgKey(" org-1 "))
	assert.Equal(t, "agentmarket:runs:lock:org-1:agent-9", RunLockKey("org-1", "agent-9"))
}

func TestTokenBucketAgainstRedis(t *testing.T) {
	addr := os.Getenv("RATE_LIMIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RATE_LIMIT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	limiter, err := newRunLimiter(client, config.RateLimitConfig{RunOrgRate: 0.01, RunOrgBurst: 3, RunLockTTLSecs: 5})
	require.NoError(t, err)

	orgID := uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, RunOrgKey(orgID)) })
	for i := 0; i < 3; i++ {
		res, err := limiter.AllowOrg(ctx, orgID)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i)
	}
	res, err := limiter.AllowOrg(ctx, orgID)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	token, ok, err := limiter.TryLockAgent(ctx, orgID, "agent")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = limiter.TryLockAgent(ctx, orgID, "agent")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, limiter.ReleaseAgent(ctx, orgID, "agent", token))
	_, ok, err = limiter.TryLockAgent(ctx, orgID, "agent")
	require.NoError(t, err)
	assert.True(t, ok)
	client.Del(ctx, RunLockKey(orgID, "agent"))
}
