// Package rag answers questions about a session's document by grounding an
// inference call in passages retrieved from the session's index.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/ai"
	"github.com/seanblong/contractlens/internal/errs"
	"github.com/seanblong/contractlens/internal/store"
	"github.com/seanblong/contractlens/pkg/models"
)

const (
	DefaultTopK = 6

	// NotCovered is the answer the model is told to give when the
	// retrieved context does not hold the answer.
	NotCovered = "This is not covered in the uploaded contract."

	emptyContextInstruction = "\n\nNo contract excerpts were retrieved for this question. " +
		"If the answer is not in the context, say '" + NotCovered + "'"
)

// Generator is the inference side of the engine. *ai.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, structured bool) (string, error)
}

var _ Generator = (*ai.Generator)(nil)

type Engine struct {
	Embedder  ai.Embedder
	Index     store.Index
	Generator Generator
	TopK      int
}

// NewEngine creates a query engine with the provided embedder, index and generator
func NewEngine(emb ai.Embedder, idx store.Index, gen Generator, topK int) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{
		Embedder:  emb,
		Index:     idx,
		Generator: gen,
		TopK:      topK,
	}
}

// Request is one grounded question against a session.
type Request struct {
	SessionID string
	Question  string
	// System holds the caller's instructions for the model.
	System string
	// TopK overrides the engine default when positive.
	TopK       int
	Structured bool
}

// Query embeds the question, retrieves the nearest passages of the session
// and asks the model to answer from them. An empty index is not an error:
// the model is told the answer is not covered.
func (e *Engine) Query(ctx context.Context, req Request) (string, error) {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return "", fmt.Errorf("%w: question is required", errs.ErrValidation)
	}
	k := req.TopK
	if k <= 0 {
		k = e.TopK
	}

	vec, err := e.Embedder.EmbedQuery(ctx, q)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	chunks, err := e.Index.Query(ctx, req.SessionID, vec, k)
	if err != nil {
		return "", fmt.Errorf("retrieve passages: %w", err)
	}

	system := req.System
	if len(chunks) == 0 {
		system += emptyContextInstruction
	}

	out, err := e.Generator.Generate(ctx, BuildPrompt(chunks, q), system, req.Structured)
	if err != nil {
		return "", err
	}
	log.Info().Str("session_id", models.ShortID(req.SessionID)).
		Int("chunks_retrieved", len(chunks)).
		Int("response_len", len(out)).
		Msg("rag query")
	return out, nil
}

// Generate is the retrieval-free path for prompts that carry their own text.
func (e *Engine) Generate(ctx context.Context, prompt, system string, structured bool) (string, error) {
	return e.Generator.Generate(ctx, prompt, system, structured)
}

// BuildPrompt lays out numbered excerpts followed by the question.
func BuildPrompt(chunks []models.RetrievedChunk, question string) string {
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[%d]", i+1)
		if c.Chunk.ClauseLabel != "" {
			fmt.Fprintf(&sb, " (Clause %s)", c.Chunk.ClauseLabel)
		}
		if c.Chunk.Page > 0 {
			fmt.Fprintf(&sb, " [Page %d]", c.Chunk.Page)
		}
		sb.WriteString(": ")
		sb.WriteString(c.Chunk.Text)
		parts = append(parts, sb.String())
	}
	return "Context from the contract:\n" + strings.Join(parts, "\n\n") + "\n\n---\n\nQuestion:\n" + question
}
