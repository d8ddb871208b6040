// Package store holds the per-session Retrieval Index.
package store

import (
	"context"
	"strings"

	"github.com/seanblong/contractlens/pkg/models"
)

// Index is a similarity index partitioned into one collection per session.
// Implementations are safe for concurrent use.
type Index interface {
	Upsert(ctx context.Context, sessionID string, items []models.IndexItem) error
	// Query returns up to k items ordered by ascending cosine distance. An
	// empty or unknown collection yields an empty slice.
	Query(ctx context.Context, sessionID string, vec []float32, k int) ([]models.RetrievedChunk, error)
	// Drop removes the session's collection and reports how many items it held.
	Drop(ctx context.Context, sessionID string) (int, error)
	// Sessions lists the session ids that currently own a collection.
	Sessions(ctx context.Context) ([]string, error)
	Count(ctx context.Context, sessionID string) (int, error)
}

const maxCollectionName = 48

// CollectionName derives the collection for a session id.
func CollectionName(sessionID string) string {
	name := "session_" + strings.ReplaceAll(sessionID, "-", "_")
	if len(name) > maxCollectionName {
		name = name[:maxCollectionName]
	}
	return name
}
