// Package app opens the backends selected by configuration. Both services
// share it so they agree on storage and push channel wiring.
package app

import (
	"context"
	"errors"
	"fmt"

	"negotiation-engine/internal/config"
	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/domain/repositories"
	"negotiation-engine/internal/infrastructure/lock"
	"negotiation-engine/internal/infrastructure/memory"
	"negotiation-engine/internal/infrastructure/mongo"
	"negotiation-engine/internal/infrastructure/mysql"
	natsbus "negotiation-engine/internal/infrastructure/nats"
	redisinfra "negotiation-engine/internal/infrastructure/redis"
	"negotiation-engine/pkg/logger"
	"negotiation-engine/pkg/utils"

	"github.com/go-redis/redis/v8"
)

type Backends struct {
	Chains     repositories.ChainRepository
	Listings   repositories.ListingStore
	Publisher  domain.EventPublisher
	Subscriber domain.EventSubscriber
	Locker     domain.ChainLocker
	Redis      *redis.Client

	closers []func() error
	log     logger.Logger
}

// Open connects every backend the configuration names. On error anything
// already opened is closed again.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) (*Backends, error) {
	b := &Backends{log: log}
	if err := b.open(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) open(ctx context.Context, cfg *config.Config) error {
	// Redis backs the listing cache, the distributed lock and the redis
	// transport. A fully in-memory setup does without it.
	if cfg.Store.Driver != "memory" || cfg.Push.Transport == "redis" || cfg.Lock.Distributed {
		rdb, err := utils.InitializeRedis(ctx, cfg, b.log)
		if err != nil {
			return err
		}
		b.Redis = rdb
		b.closers = append(b.closers, rdb.Close)
	}

	if err := b.openStore(ctx, cfg); err != nil {
		return err
	}
	if err := b.openPush(cfg); err != nil {
		return err
	}

	keyed := lock.NewKeyedMutex()
	if cfg.Lock.Distributed {
		b.Locker = lock.Layered{keyed, lock.NewRedisChainLock(b.Redis, cfg.Push.Prefix, cfg.Lock.TTL, cfg.Lock.RetryEvery, b.log)}
	} else {
		b.Locker = keyed
	}
	return nil
}

func (b *Backends) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case "memory":
		b.Chains = memory.NewChainRepository()
		b.Listings = memory.NewListingStore()
		return nil
	case "mysql":
		db, err := utils.InitializeMysql(ctx, cfg, b.log)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, db.Close)
		if cfg.MySQL.EnsureSchema {
			if err := mysql.EnsureSchema(ctx, db); err != nil {
				return err
			}
		}
		b.Chains = mysql.NewMySQLChainRepository(db)
	case "mongo":
		client, err := utils.InitializeMongo(ctx, cfg, b.log)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error {
			return client.Disconnect(context.Background())
		})
		repo := mongo.NewMongoChainRepository(client, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return err
		}
		b.Chains = repo
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	b.Listings = redisinfra.NewListingCache(b.Redis, cfg.Push.Prefix)
	return nil
}

func (b *Backends) openPush(cfg *config.Config) error {
	switch cfg.Push.Transport {
	case "memory":
		bus := memory.NewBus()
		b.Publisher, b.Subscriber = bus, bus
	case "redis":
		b.Publisher = redisinfra.NewEventPublisher(b.Redis, cfg.Push.Prefix)
		b.Subscriber = redisinfra.NewEventSubscriber(b.Redis, cfg.Push.Prefix, b.log)
	case "nats":
		conn, err := natsbus.Connect(cfg.NATS.URL, b.log)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error {
			return conn.Drain()
		})
		bus := natsbus.NewEventBus(conn, cfg.Push.Prefix, b.log)
		b.Publisher, b.Subscriber = bus, bus
	default:
		return fmt.Errorf("unknown push transport %q", cfg.Push.Transport)
	}
	return nil
}

// Close releases backends in reverse order of opening.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
