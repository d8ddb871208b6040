package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/kv"
	"github.com/seanblong/contractlens/internal/store"
	"github.com/seanblong/contractlens/pkg/models"
)

// Wiper destroys everything a session owns. It is the only deletion path:
// explicit invalidation, lazy expiry and the sweeper all end here.
type Wiper struct {
	Index store.Index
	KV    kv.Store
	Files FileArea
	now   func() time.Time
}

func NewWiper(idx store.Index, keys kv.Store, files FileArea) *Wiper {
	return &Wiper{Index: idx, KV: keys, Files: files, now: time.Now}
}

// Wipe drops the session's index collection, shreds its file area and
// deletes its keys. Every step runs even if an earlier one fails. Wiping an
// unknown or already wiped session reports zero counts.
func (w *Wiper) Wipe(ctx context.Context, sessionID string) (models.WipeReport, error) {
	rep := models.WipeReport{SessionID: sessionID}
	var errs []error

	n, err := w.Index.Drop(ctx, sessionID)
	if err != nil {
		errs = append(errs, fmt.Errorf("drop index: %w", err))
	}
	rep.ChunksDeleted = n
	rep.IndexDropped = n > 0

	files, err := w.Files.Shred(sessionID)
	if err != nil {
		errs = append(errs, err)
	}
	rep.FilesDeleted = files

	keys := []string{recordKey(sessionID)}
	if pattern, ok := dependentPattern(sessionID); ok {
		dep, err := w.KV.Keys(ctx, pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("list keys: %w", err))
		}
		keys = append(keys, dep...)
	}
	deleted, err := w.KV.Delete(ctx, keys...)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete keys: %w", err))
	}
	rep.KeysDeleted = deleted
	rep.WipedAt = w.now().UTC()

	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Str("session_id", models.ShortID(sessionID)).Msg("session wipe incomplete")
		return rep, err
	}
	log.Info().Str("session_id", models.ShortID(sessionID)).
		Int("chunks_deleted", rep.ChunksDeleted).
		Int("files_deleted", rep.FilesDeleted).
		Int("keys_deleted", rep.KeysDeleted).
		Msg("session wiped")
	return rep, nil
}
