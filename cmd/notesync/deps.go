package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/notesync/internal/feed"
	"github.com/xaenox/notesync/internal/storage"
	"github.com/xaenox/notesync/pkg/config"
	"go.uber.org/zap"
)

// backend is the gateway and change feed a command runs against.
type backend struct {
	store   storage.NoteStore
	source  feed.Source
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{}

	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage", zap.String("transport", cfg.Feed.Transport))
		if cfg.Feed.Transport == config.TransportRedis {
			client, err := feed.NewRedisClient(cfg.Redis.URL)
			if err != nil {
				return nil, err
			}
			b.closers = append(b.closers, client.Close)
			mem := storage.NewMemoryStorage(feed.NewRelay(client, logger))
			b.store = mem
			b.source = feed.NewRedisSource(client, mem.FindOne, logger)
			return b, nil
		}

		hub := feed.NewHub(cfg.Feed.Buffer, logger)
		b.store = storage.NewMemoryStorage(hub)
		b.source = hub
		return b, nil
	}

	logger.Info("Using PostgreSQL storage",
		zap.String("host", cfg.Database.Host),
		zap.String("transport", cfg.Feed.Transport))
	pg, err := storage.NewPostgresStorage(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, err
	}
	b.store = pg
	b.closers = append(b.closers, pg.Close)

	switch cfg.Feed.Transport {
	case config.TransportRedis:
		client, err := feed.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.source = feed.NewRedisSource(client, pg.FindOne, logger)
	case config.TransportPostgres:
		b.source = feed.NewPostgresSource(cfg.Database.DSN(),
			cfg.Feed.MinReconnect, cfg.Feed.MaxReconnect, pg.FindOne, logger)
	default:
		_ = b.Close()
		return nil, fmt.Errorf("feed transport %q needs in-memory storage", cfg.Feed.Transport)
	}
	return b, nil
}
