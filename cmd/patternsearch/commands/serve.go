package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjranagit/patternsearch/pkg/api"
	"github.com/vjranagit/patternsearch/pkg/search"
	"github.com/vjranagit/patternsearch/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().String("listen", "", "listen address")
	bindFlags(a.v, cmd.Flags(), map[string]string{"server.listen_addr": "listen"})
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("starting patternsearch",
		"listen_addr", a.cfg.Server.ListenAddr,
		"backend", a.cfg.Storage.Backend,
		"path", a.cfg.Storage.Path,
		"wal", a.walEnabled(),
		"cache", a.cfg.Cache.Enabled)

	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	opts := []api.Option{
		api.WithLogger(a.logger),
		api.WithTimeout(a.cfg.Server.Timeout),
		api.WithSearchDefaults(a.cfg.Search.Resolution, a.cfg.Search.ResultSize),
	}

	if a.walEnabled() {
		wal, err := storage.NewWAL(a.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open WAL: %w", err)
		}
		batch := storage.NewBatchWriter(store, wal, a.cfg.Server.BatchSize, a.cfg.Server.BatchInterval)
		defer func() {
			if err := batch.Close(); err != nil {
				a.logger.Error("final batch flush failed", "error", err)
			}
			wal.Close()
		}()
		opts = append(opts, api.WithWriter(batch))
	}

	searchOpts := a.cfg.ToSearchOptions(a.logger)
	searchOpts.Sink = search.LogSink{Logger: a.logger}
	searcher := search.NewSearcher(store, searchOpts)

	server := api.NewServer(a.cfg.Server.ListenAddr, store, searcher, opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if cached, ok := store.(*storage.CachedStore); ok {
		_, hits, misses := cached.CacheStats()
		a.logger.Info("range cache", "hits", hits, "misses", misses, "hit_rate", cached.CacheHitRate())
	}

	a.logger.Info("server stopped")
	return nil
}
