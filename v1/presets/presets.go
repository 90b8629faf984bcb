// Package presets builds the store backend and the event feeds described
// by a configuration.
package presets

import (
	"errors"
	"fmt"
	"log/slog"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-tasklock/v1/config"
	"github.com/mirkobrombin/go-tasklock/v1/feed"
	"github.com/mirkobrombin/go-tasklock/v1/store"
)

// Closer releases what a preset opened.
type Closer func() error

func noop() error { return nil }

// NewStore opens the backend selected by cfg.Backend.
func NewStore(cfg config.StoreConfig) (store.Store, Closer, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewInMemoryStore(), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var opts []store.Option
		if cfg.Timeout > 0 {
			opts = append(opts, store.WithTimeout(cfg.Timeout))
		}
		return store.NewRedisStore(client, cfg.Redis.Prefix, opts...), client.Close, nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.SQLite.Path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		// sqlite allows one writer; a single connection keeps transactions
		// from failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		opts := []store.GormOption{}
		if cfg.SQLite.Table != "" {
			opts = append(opts, store.WithGormTableName(cfg.SQLite.Table))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, store.WithGormTimeout(cfg.Timeout))
		}
		s, err := store.NewGormStore(db, opts...)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return s, sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// NewFeeds connects every sink enabled in cfg, each behind a circuit
// breaker and a queue. The returned sinks must be Run by the caller.
func NewFeeds(cfg config.FeedConfig, log *slog.Logger) ([]*feed.Async, Closer, error) {
	var (
		sinks   []*feed.Async
		closers []Closer
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	wrap := func(name string, s feed.Sink) *feed.Async {
		cb := feed.NewCircuitBreaker(s, cfg.Breaker.Threshold, cfg.Breaker.Timeout)
		return feed.NewAsync(name, cb, cfg.Queue, log)
	}

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name("tasklock"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		ns := feed.NewNATSSink(conn, cfg.NATS.Subject)
		closers = append(closers, ns.Close)
		sinks = append(sinks, wrap("nats", ns))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := feed.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, nil)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("connect kafka: %w", err)
		}
		closers = append(closers, ks.Close)
		sinks = append(sinks, wrap("kafka", ks))
	}
	return sinks, closeAll, nil
}
