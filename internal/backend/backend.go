// Package backend opens the storage and inference backends selected by
// configuration and assembles the analysis service on top of them.
package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/ai"
	"github.com/seanblong/contractlens/internal/analysis"
	"github.com/seanblong/contractlens/internal/blindspot"
	"github.com/seanblong/contractlens/internal/config"
	"github.com/seanblong/contractlens/internal/indexer"
	"github.com/seanblong/contractlens/internal/kv"
	"github.com/seanblong/contractlens/internal/rag"
	"github.com/seanblong/contractlens/internal/redline"
	"github.com/seanblong/contractlens/internal/risk"
	"github.com/seanblong/contractlens/internal/rulebook"
	"github.com/seanblong/contractlens/internal/segment"
	"github.com/seanblong/contractlens/internal/session"
	"github.com/seanblong/contractlens/internal/store"
)

// purger is implemented by stores that keep expired rows until told to
// remove them.
type purger interface {
	Purge(ctx context.Context) (int, error)
}

// Stores holds the per-session storage of a running process.
type Stores struct {
	Index store.Index
	KV    kv.Store
	Files session.FileArea

	closers []func()
}

// OpenStores connects the index and KV backends named in cfg. dim sizes the
// pgvector column.
func OpenStores(ctx context.Context, cfg config.Specification, dim int) (*Stores, error) {
	st := &Stores{Files: session.FileArea{Root: cfg.UploadDir}}

	var pg *store.PGIndex
	switch cfg.IndexBackend {
	case "postgres":
		idx, err := store.NewPGIndex(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect index: %w", err)
		}
		st.closers = append(st.closers, idx.Close)
		if err := idx.Migrate(ctx, dim); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate index: %w", err)
		}
		pg, st.Index = idx, idx
	case "memory":
		st.Index = store.NewMemoryIndex()
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.IndexBackend)
	}

	switch cfg.KVBackend {
	case "postgres":
		var s *kv.PGStore
		if pg != nil {
			s = kv.NewPGStoreFromPool(pg.Pool())
		} else {
			var err error
			if s, err = kv.NewPGStore(ctx, cfg.Database); err != nil {
				st.Close()
				return nil, fmt.Errorf("connect kv: %w", err)
			}
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			st.Close()
			return nil, fmt.Errorf("migrate kv: %w", err)
		}
		st.KV = s
	case "sqlite":
		s, err := kv.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open kv: %w", err)
		}
		st.KV = s
	case "memory":
		st.KV = kv.NewMemoryStore()
	default:
		st.Close()
		return nil, fmt.Errorf("unsupported kv backend: %s", cfg.KVBackend)
	}
	// the kv store may share the index pool, so it closes first
	st.closers = append([]func(){func() { _ = st.KV.Close() }}, st.closers...)

	log.Info().Str("index", cfg.IndexBackend).Str("kv", cfg.KVBackend).Str("upload_dir", cfg.UploadDir).Msg("stores opened")
	return st, nil
}

// Purge removes expired KV rows when the store keeps them around.
func (s *Stores) Purge(ctx context.Context) (int, error) {
	if p, ok := s.KV.(purger); ok {
		return p.Purge(ctx)
	}
	return 0, nil
}

func (s *Stores) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

// SessionManager builds the lifecycle manager over the stores.
func (s *Stores) SessionManager(cfg config.Specification) *session.Manager {
	return session.NewManager(s.KV, session.NewWiper(s.Index, s.KV, s.Files), cfg.Session.TTL)
}

// ClientConfig translates the provider settings into an ai.ClientConfig.
func ClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	cc := &ai.ClientConfig{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		EmbedModel:    cfg.EmbedModel,
		GenerateModel: cfg.GenerateModel,
		Dim:           cfg.Dim,
		ProjectID:     cfg.ProjectID,
		Location:      cfg.Location,
		PassagePrefix: cfg.PassagePrefix,
		QueryPrefix:   cfg.QueryPrefix,
		Timeout:       cfg.Pipeline.LLMTimeout,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai", "openrouter":
		cc.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		cc.Provider = ai.ProviderVertexAI
	case "stub":
		cc.Provider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return cc, nil
}

// NewService wires the analysis pipeline: indexer, query engine, blindspot
// detector, risk scorer and comparator share one client and one generator.
func NewService(cfg config.Specification, client ai.Client, mgr *session.Manager, rb *rulebook.Rulebook) *analysis.Service {
	gen := ai.NewGenerator(client, ai.GeneratorConfig{
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		AttemptTimeout:    cfg.Pipeline.LLMTimeout,
		RequestsPerSecond: cfg.Pipeline.RequestsPerSecond,
	})
	idx := mgr.Wiper.Index

	ix := indexer.New(idx, client, segment.Config{
		MaxSize: cfg.Pipeline.ChunkSize,
		Overlap: cfg.Pipeline.ChunkOverlap,
	})
	engine := rag.NewEngine(client, idx, gen, cfg.Pipeline.TopK)
	detector := blindspot.NewDetector(engine, rb, cfg.Pipeline.BlindspotWorkers)
	scorer := risk.NewScorer(engine, detector, rb)
	cmp := redline.NewComparator(gen, cfg.Pipeline.MaxDiffHunks)

	return analysis.NewService(mgr, ix, engine, scorer, cmp, rb)
}

// TokenSecret returns the configured secret, or a random one when none is
// set. Tokens signed with a random secret do not survive a restart.
func TokenSecret(cfg config.Specification) (string, error) {
	if cfg.Session.TokenSecret != "" {
		return cfg.Session.TokenSecret, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.New("generate token secret: " + err.Error())
	}
	log.Warn().Msg("no token secret configured; session tokens will not survive a restart")
	return hex.EncodeToString(b), nil
}
