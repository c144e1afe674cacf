package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loganszeto/respkv/internal/config"
	"github.com/loganszeto/respkv/internal/engine"
	"github.com/loganszeto/respkv/internal/persistence"
	"github.com/loganszeto/respkv/internal/server"
	"github.com/loganszeto/respkv/internal/stats"
	"github.com/loganszeto/respkv/internal/store"
	"github.com/loganszeto/respkv/internal/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:   "kv-server",
		Short: "Serve an in-memory key-value store over RESP",
		Long: `Serve an in-memory key-value store over RESP with an append-only log for crash recovery.
Every flag can also be set through the environment as RESPKV_<FLAG> (e.g. RESPKV_DATA_DIR=/var/lib/respkv).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	d := config.Default()
	flags := cmd.Flags()
	flags.String(config.KeyAddr, d.Addr, "address to listen on for RESP clients")
	flags.String(config.KeyDataDir, d.DataDir, "directory holding the append-only log")
	flags.String(config.KeyAOFName, d.AOFName, "file name of the append-only log inside data-dir")
	flags.Bool(config.KeyFsync, d.Fsync, "fsync the log after every write")
	flags.Bool(config.KeyLogDeletes, d.LogDeletes, "write DEL records to the log so deletions survive a restart")
	flags.String(config.KeyLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	flags.String(config.KeyMetricsAddr, d.MetricsAddr, "address for the HTTP /metrics endpoint (empty disables it)")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger := config.NewLogger(cfg.LogLevel, os.Stderr)
	fmt.Fprint(os.Stderr, cfg.String())

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	aof, err := persistence.Open(cfg.AOFPath(), persistence.Options{Fsync: cfg.Fsync})
	if err != nil {
		logger.Warn("aof unavailable, writes will not be durable until it recovers", "path", cfg.AOFPath(), "err", err)
	}
	defer func() {
		if err := aof.Close(); err != nil {
			logger.Warn("close aof", "err", err)
		}
	}()

	clock := util.RealClock{}
	st := store.NewMemTable()
	replayed, err := persistence.Replay(cfg.AOFPath(), st, clock.NowMs())
	if err != nil {
		logger.Warn("replay aborted, starting with a partial keyspace", "err", err)
	}
	logger.Info("replay finished",
		"applied", replayed.Applied,
		"expired", replayed.Expired,
		"malformed", replayed.Malformed,
		"deleted", replayed.Deleted,
		"keys", st.Len(),
	)

	metrics := stats.New()
	eng := engine.New(st, aof,
		engine.WithClock(clock),
		engine.WithStats(metrics),
		engine.WithLogger(logger),
		engine.WithLogDeletes(cfg.LogDeletes),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(cfg.Addr, eng, logger).ListenAndServe(ctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return server.ServeMetrics(ctx, cfg.MetricsAddr, metrics, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
