package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/agentmarket/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyRunOrg  = "agentmarket:runs:org:%s"
	keyRunLock = "agentmarket:runs:lock:%s:%s"
)

// RunLimiter throttles agent runs per organization. A nil or disabled limiter
// admits everything.
type RunLimiter struct {
	enabled bool

	client  redis.UniversalClient
	bucket  *TokenBucket
	locker  *Locker
	rate    float64
	burst   int
	lockTTL time.Duration
}

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

func NewRunLimiter(p Params) (*RunLimiter, error) {
	limitCfg := p.Cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	limiter, err := newRunLimiter(client, limitCfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	log := p.Log.Named("ratelimit")
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				// Requests fail closed with 503 until redis is reachable.
				log.Warn("rate limit redis unreachable", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("run rate limiting enabled",
		zap.Float64("rate", limitCfg.RunOrgRate),
		zap.Int("burst", limitCfg.RunOrgBurst),
	)
	return limiter, nil
}

func newRunLimiter(client redis.UniversalClient, cfg config.RateLimitConfig) (*RunLimiter, error) {
	if cfg.RunOrgRate <= 0 || cfg.RunOrgBurst <= 0 {
		return nil, errors.New("run org rate limit must be positive")
	}
	lockTTL := time.Duration(cfg.RunLockTTLSecs) * time.Second
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &RunLimiter{
		enabled: true,
		client:  client,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    cfg.RunOrgRate,
		burst:   cfg.RunOrgBurst,
		lockTTL: lockTTL,
	}, nil
}

func (l *RunLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *RunLimiter) AllowOrg(ctx context.Context, orgID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, RunOrgKey(orgID), l.rate, l.burst)
}

// TryLockAgent serializes runs of one agent within an organization.
func (l *RunLimiter) TryLockAgent(ctx context.Context, orgID, agentID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, RunLockKey(orgID, agentID), l.lockTTL)
}

func (l *RunLimiter) ReleaseAgent(ctx context.Context, orgID, agentID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, RunLockKey(orgID, agentID), token)
}

func RunOrgKey(orgID string) string {
	return fmt.Sprintf(keyRunOrg, strings.TrimSpace(orgID))
}

func RunLockKey(orgID, agentID string) string {
	return fmt.Sprintf(keyRunLock, strings.TrimSpace(orgID), strings.TrimSpace(agentID))
}
