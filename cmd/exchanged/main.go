// Command exchanged runs the matching engine's TCP frontend.
package main

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matchbook/matchbook/internal/config"
	"github.com/matchbook/matchbook/internal/engine"
	"github.com/matchbook/matchbook/internal/frontend"
	"github.com/matchbook/matchbook/internal/journal"
	"github.com/matchbook/matchbook/internal/recovery"
	"github.com/matchbook/matchbook/internal/snapshot"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	journalPath := strings.TrimPrefix(cfg.Journal.URI, "file://")
	jnl, err := journal.Open(journalPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", journalPath).Msg("failed to open journal")
	}
	defer jnl.Close()

	discipline := engine.ModifyLenient
	if cfg.Matching.ModifyDiscipline == "strict" {
		discipline = engine.ModifyStrict
	}

	eng := engine.New(
		jnl,
		engine.WithModifyDiscipline(discipline),
		engine.WithSnapshotting(cfg.Snapshot.Dir, cfg.SnapshotInterval()),
	)

	if err := recovery.Recover(eng, cfg.Snapshot.Dir, journalPath); err != nil {
		log.Fatal().Err(err).Msg("recovery failed, refusing to start with a partial book")
	}

	t, ctx := tomb.WithContext(ctx)

	t.Go(func() error {
		return recovery.RunSnapshotTicker(t, ctx, eng, cfg.Snapshot.Dir, cfg.SnapshotInterval(), cfg.Snapshot.KeepGenerations)
	})

	srv := frontend.New(cfg.Server.Address, cfg.Server.Port, eng, cfg.Server.Workers)
	t.Go(func() error {
		return srv.Run(ctx)
	})

	log.Info().
		Str("address", cfg.Server.Address).
		Int("port", cfg.Server.Port).
		Str("journal", journalPath).
		Str("snapshotDir", cfg.Snapshot.Dir).
		Msg("matchbook engine started")

	<-ctx.Done()
	srv.Shutdown()
	t.Kill(nil)

	select {
	case <-t.Dead():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("shutdown timed out waiting for background tasks")
	}

	if snap := snapshotOnExit(eng); snap != nil {
		log.Info().Msg("final snapshot taken on exit")
	}
}

func snapshotOnExit(eng *engine.Engine) *snapshot.Snapshot {
	snap := snapshot.Capture(eng, eng.HighWaterSequence())
	if _, err := snapshot.Write(eng.SnapshotDir(), snap); err != nil {
		log.Error().Err(err).Msg("failed to write final snapshot")
		return nil
	}
	return snap
}
