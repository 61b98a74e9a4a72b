package pool

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/acton-service/acton-service/config"
	"github.com/acton-service/acton-service/infrastructure/logging"
	"github.com/acton-service/acton-service/kv"
	"github.com/acton-service/acton-service/pkg/pgnotify"
	"github.com/acton-service/acton-service/sharedstate"
)

// NewDatabasePool builds a Pool whose handle is a *sql.DB (lib/pq driver),
// with a "SELECT 1" health check.
func NewDatabasePool(cfg config.PoolConfig, slot *sharedstate.Slot[any], logger *logging.Logger) *Pool {
	connector := func(ctx context.Context, url string) (any, error) {
		db, err := sql.Open("postgres", url)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return db, nil
	}
	closer := func(h any) error { return h.(*sql.DB).Close() }
	health := func(ctx context.Context, h any) error {
		_, err := h.(*sql.DB).ExecContext(ctx, "SELECT 1")
		return err
	}
	return New("database", cfg, slot, connector, closer, health, logger)
}

// NewCachePool builds a Pool whose handle is a *kv.RedisStore, with a PING
// health check.
func NewCachePool(cfg config.PoolConfig, slot *sharedstate.Slot[any], logger *logging.Logger) *Pool {
	connector := func(ctx context.Context, url string) (any, error) {
		store, err := kv.NewRedisStore(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		return store, nil
	}
	closer := func(h any) error { return h.(*kv.RedisStore).Close() }
	health := func(ctx context.Context, h any) error {
		_, _, err := h.(*kv.RedisStore).Get(ctx, "__healthcheck__")
		return err
	}
	return New("cache", cfg, slot, connector, closer, health, logger)
}

// NewBrokerPool builds a Pool whose handle is a *pgnotify.Bus, the
// Postgres LISTEN/NOTIFY message broker.
func NewBrokerPool(cfg config.PoolConfig, slot *sharedstate.Slot[any], logger *logging.Logger) *Pool {
	connector := func(ctx context.Context, url string) (any, error) {
		bus, err := pgnotify.New(url)
		if err != nil {
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		return bus, nil
	}
	closer := func(h any) error { return h.(*pgnotify.Bus).Close() }
	health := func(ctx context.Context, h any) error {
		return h.(*pgnotify.Bus).Ping()
	}
	return New("broker", cfg, slot, connector, closer, health, logger)
}
