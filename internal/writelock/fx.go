package writelock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/purchaseledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("writelock",
	fx.Provide(provideLocker),
)

func provideLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Locker, error) {
	if !cfg.WriteLockEnabled || cfg.RedisAddr == "" {
		return Noop{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	log.Info("cross-replica write lock enabled", zap.String("redis_addr", cfg.RedisAddr))
	return NewRedisLocker(client, log, Options{TTL: cfg.WriteLockTTL})
}
