package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/ai"
	"github.com/seanblong/contractlens/internal/analysis"
	"github.com/seanblong/contractlens/internal/auth"
	"github.com/seanblong/contractlens/internal/backend"
	"github.com/seanblong/contractlens/internal/config"
	"github.com/seanblong/contractlens/internal/rulebook"
	"github.com/seanblong/contractlens/internal/session"
	"github.com/spf13/pflag"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("contractlens-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		stdlog.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Dur("session_ttl", cfg.Session.TTL).Msg("starting contractlens api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientConfig, err := backend.ClientConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid provider")
	}
	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create AI client")
	}

	// Use the AI client's dimension for database migration
	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	rb, err := rulebook.Load(cfg.RulebookPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load rulebook")
	}

	st, err := backend.OpenStores(ctx, cfg, dim)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer st.Close()

	secret, err := backend.TokenSecret(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("token secret")
	}
	issuer, err := auth.NewIssuer(secret)
	if err != nil {
		logger.Fatal().Err(err).Msg("token issuer")
	}

	mgr := st.SessionManager(cfg)
	svc := backend.NewService(cfg, c, mgr, rb)

	if cfg.Session.SweepInterval > 0 {
		go session.NewSweeper(mgr).Run(ctx, cfg.Session.SweepInterval)
		go purgeLoop(ctx, st, svc, cfg.Session.SweepInterval)
	}

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(newRouter(svc, issuer)),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// purgeLoop drops expired KV rows that the store keeps until asked, and the
// locks of sessions that ended without an explicit wipe.
func purgeLoop(ctx context.Context, st *backend.Stores, svc *analysis.Service, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := st.Purge(ctx); err != nil {
				log.Warn().Err(err).Msg("kv purge failed")
			} else if n > 0 {
				log.Debug().Int("rows", n).Msg("expired kv rows purged")
			}
			if n, err := svc.Prune(ctx); err != nil {
				log.Warn().Err(err).Msg("session lock prune failed")
			} else if n > 0 {
				log.Debug().Int("locks", n).Msg("stale session locks dropped")
			}
		}
	}
}
