package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/ai"
	"github.com/seanblong/contractlens/internal/backend"
	"github.com/seanblong/contractlens/internal/config"
	"github.com/seanblong/contractlens/internal/session"
	"github.com/spf13/pflag"
)

// sweeper runs one pass over every store, wipes whatever belongs to a
// session that no longer exists and exits. Meant for cron.
func main() {
	fs := pflag.NewFlagSet("contractlens-sweeper", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	clientConfig, err := backend.ClientConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}
	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}

	st, err := backend.OpenStores(ctx, cfg, c.Dim())
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	wiped, sweepErr := session.NewSweeper(st.SessionManager(cfg)).Sweep(ctx)
	purged, purgeErr := st.Purge(ctx)
	zlog.Info().Int("sessions_wiped", len(wiped)).Int("kv_rows_purged", purged).Msg("sweeper finished")

	if sweepErr != nil || purgeErr != nil {
		zlog.Error().AnErr("sweep", sweepErr).AnErr("purge", purgeErr).Msg("sweeper finished with errors")
		st.Close()
		os.Exit(1)
	}
}
