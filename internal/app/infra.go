package app

import (
	"context"
	"database/sql"

	"github.com/kelvinguchu/t3clone-sub002/internal/config"
	"github.com/kelvinguchu/t3clone-sub002/internal/kv"
	"github.com/kelvinguchu/t3clone-sub002/internal/logger"
	"github.com/kelvinguchu/t3clone-sub002/internal/redis"
	"github.com/kelvinguchu/t3clone-sub002/internal/store"

	_ "github.com/lib/pq"
)

type Infra struct {
	Store *store.Postgres
	KV    kv.Store
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	sqlDB, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := store.RunKeystoneMigration(ctx, sqlDB); err != nil {
		return nil, err
	}

	logger.Info("database ready", nil)

	redisClient, err := redis.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}

	kvStore, err := kv.NewStore(kv.StoreTypeRedis, kv.WithRedisClient(redisClient.Client))
	if err != nil {
		return nil, err
	}

	logger.Info("redis ready", nil)

	return &Infra{
		Store: store.NewPostgres(sqlDB),
		KV:    kvStore,
	}, nil
}
