package usagemetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/agentmarket/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("usage.metrics",
	fx.Provide(NewRegistry),
	fx.Provide(NewRecorder),
	fx.Provide(NewPusher),
	fx.Invoke(startPushWorker),
)

// NewRegistry holds the metering series. Runtime and process collectors stay on
// the default registry, which /metrics serves alongside it.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func startPushWorker(lc fx.Lifecycle, cfg config.Config, registry *prometheus.Registry, recorder *Recorder, pusher Pusher, db *gorm.DB, logger *zap.Logger) {
	if pusher == nil {
		return
	}
	logger = logger.Named("usage.metrics")
	interval := cfg.Metrics.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics push worker", zap.Duration("interval", interval))
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				for {
					updateOrganizationCount(ctx, recorder, db)
					pushCtx, pushCancel := context.WithTimeout(ctx, defaultPushTimeout)
					if err := pusher.Push(pushCtx, registry); err != nil {
						logger.Warn("metrics push failed", zap.Error(err))
					}
					pushCancel()

					select {
					case <-ticker.C:
					case <-ctx.Done():
						logger.Info("stopping metrics push worker")
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func updateOrganizationCount(ctx context.Context, recorder *Recorder, db *gorm.DB) {
	if recorder == nil || db == nil {
		return
	}
	var count int64
	if err := db.WithContext(ctx).Table("organizations").Count(&count).Error; err != nil {
		return
	}
	recorder.SetOrganizations(count)
}
