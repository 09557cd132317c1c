package utils

import (
	"context"
	"fmt"

	"negotiation-engine/internal/config"
	"negotiation-engine/pkg/logger"

	"github.com/go-redis/redis/v8"
)

func InitializeRedis(ctx context.Context, cfg *config.Config, log logger.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)
	return rdb, nil
}
