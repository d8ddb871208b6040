package indexer

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/ai"
	"github.com/seanblong/contractlens/internal/errs"
	"github.com/seanblong/contractlens/internal/segment"
	"github.com/seanblong/contractlens/internal/store"
	"github.com/seanblong/contractlens/pkg/models"
	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 32

// Indexer turns a session's document text into embedded passages in the
// session's Retrieval Index.
type Indexer struct {
	Index    store.Index
	Embedder ai.Embedder
	Segment  segment.Config
	// BatchSize is the number of passages per embedding request.
	BatchSize int
	Workers   int
}

// Result describes one ingestion.
type Result struct {
	Chunks int `json:"chunk_count"`
	// Replaced is the number of passages dropped from a previous ingestion.
	Replaced int `json:"replaced"`
}

// New creates a new Indexer instance.
func New(idx store.Index, emb ai.Embedder, cfg segment.Config) *Indexer {
	return &Indexer{
		Index:     idx,
		Embedder:  emb,
		Segment:   cfg,
		BatchSize: defaultBatchSize,
		Workers:   workerCount(),
	}
}

func workerCount() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8 // Cap at 8 to avoid overwhelming the embedding API
	}
	return n
}

// Ingest segments text, embeds every passage and replaces the session's
// collection with the result. Text that yields no passages is a validation
// error.
func (ix *Indexer) Ingest(ctx context.Context, sessionID, text string) (Result, error) {
	var res Result
	if sessionID == "" {
		return res, fmt.Errorf("%w: session id is required", errs.ErrValidation)
	}
	chunks := segment.Segment(text, ix.Segment)
	if len(chunks) == 0 {
		return res, fmt.Errorf("%w: document has no text", errs.ErrValidation)
	}

	items, err := ix.embed(ctx, chunks)
	if err != nil {
		return res, err
	}

	replaced, err := ix.Index.Drop(ctx, sessionID)
	if err != nil {
		return res, fmt.Errorf("drop previous passages: %w", err)
	}
	if err := ix.Index.Upsert(ctx, sessionID, items); err != nil {
		return res, fmt.Errorf("upsert passages: %w", err)
	}

	res = Result{Chunks: len(items), Replaced: replaced}
	log.Info().Str("session_id", models.ShortID(sessionID)).
		Int("chunks", res.Chunks).
		Int("replaced", res.Replaced).
		Msg("document indexed")
	return res, nil
}

// embed fans batches out to a bounded set of workers. Each batch writes into
// its own slots so the output keeps chunk order.
func (ix *Indexer) embed(ctx context.Context, chunks []models.Chunk) ([]models.IndexItem, error) {
	size := ix.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}
	workers := ix.Workers
	if workers <= 0 {
		workers = workerCount()
	}

	items := make([]models.IndexItem, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	log.Debug().Int("workers", workers).Int("chunks", len(chunks)).Msg("embedding passages")
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, ch := range chunks[start:end] {
				texts = append(texts, ch.Text)
			}
			vecs, err := ix.Embedder.EmbedPassages(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed passages %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("%w: got %d vectors for %d passages", errs.ErrUpstreamUnavailable, len(vecs), len(texts))
			}
			for i, v := range vecs {
				items[start+i] = models.IndexItem{Chunk: chunks[start+i], Vector: v}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
