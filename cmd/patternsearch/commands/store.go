package commands

import (
	"context"
	"fmt"

	"github.com/vjranagit/patternsearch/internal/config"
	"github.com/vjranagit/patternsearch/pkg/storage"
	"github.com/vjranagit/patternsearch/pkg/storage/influx"
	"github.com/vjranagit/patternsearch/pkg/types"
)

// walEnabled reports whether writes should go through the WAL
func (a *app) walEnabled() bool {
	s := a.cfg.Storage
	return s.Backend == config.BackendBadger && s.EnableWAL && !s.InMemory
}

// openStore opens the configured backend. A badger store first replays
// whatever the WAL of a previous run left behind.
func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	if a.cfg.Storage.Backend == config.BackendInflux {
		store, err := influx.NewStore(a.cfg.ToInfluxConfig())
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, err
		}
		a.logger.Info("connected to InfluxDB", "url", a.cfg.Influx.URL, "bucket", a.cfg.Influx.Bucket)
		return store, nil
	}

	store, err := storage.NewStorage(a.cfg.ToStorageConfig())
	if err != nil {
		return nil, err
	}

	if a.walEnabled() {
		n, err := storage.ReplayWAL(a.cfg.Storage.Path, func(req *types.WriteRequest) error {
			return store.Write(ctx, req)
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
		if n > 0 {
			a.logger.Info("WAL replayed", "entries", n)
		}
	}

	if a.cfg.Cache.Enabled {
		return storage.NewCachedStore(store, a.cfg.Cache.Capacity, a.cfg.Cache.TTL), nil
	}
	return store, nil
}
