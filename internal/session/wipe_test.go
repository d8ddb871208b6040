package session

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/seanblong/contractlens/internal/kv"
	"github.com/seanblong/contractlens/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingIndex wraps a real index and fails Drop.
type failingIndex struct {
	store.Index
	dropErr error
}

func (f failingIndex) Drop(ctx context.Context, sessionID string) (int, error) {
	return 0, f.dropErr
}

func TestWipe_ContinuesAfterIndexFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.mgr.Create(ctx)
	require.NoError(t, err)
	f.populate(t, s.ID)

	boom := errors.New("connection reset")
	w := NewWiper(failingIndex{Index: f.idx, dropErr: boom}, f.kv, f.files)

	rep, err := w.Wipe(ctx, s.ID)
	require.ErrorIs(t, err, boom)
	assert.False(t, rep.IndexDropped)
	assert.Equal(t, 1, rep.FilesDeleted, "files are shredded even when the index drop fails")
	assert.Equal(t, 1, rep.KeysDeleted)

	_, statErr := os.Stat(f.files.Dir(s.ID))
	assert.True(t, os.IsNotExist(statErr))
	_, getErr := f.kv.Get(ctx, recordKey(s.ID))
	assert.ErrorIs(t, getErr, kv.ErrNotFound)
}

func TestWipe_GlobCharactersDoNotMatchOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.mgr.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.mgr.SetDocumentType(ctx, s, "rental"))

	rep, err := f.mgr.Wiper.Wipe(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.KeysDeleted)

	dt, err := f.mgr.DocumentType(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "rental", dt)
}

func TestWipe_IndexOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.NewString()
	f.populate(t, id)

	rep, err := f.mgr.Wiper.Wipe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.ChunksDeleted)
	assert.True(t, rep.IndexDropped)
	assert.Equal(t, 1, rep.FilesDeleted)
	assert.Equal(t, 0, rep.KeysDeleted)
	assert.False(t, rep.WipedAt.IsZero())

	ids, _ := f.idx.Sessions(ctx)
	assert.Empty(t, ids)
}
