package progress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "movie.hu.srt"))
}

func TestLoadMissingFileIsNil(t *testing.T) {
	rec, err := newTestStore(t).Load("hash", "fp")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	rec := NewRecord("hash", "fp")
	rec.Completed[0] = "Első mondat."
	rec.Completed[2] = "Harmadik mondat."
	rec.Failed = []int{1}
	require.NoError(t, store.Save(rec))

	loaded, err := store.Load("hash", "fp")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StateInProgress, loaded.State)
	assert.Equal(t, "Első mondat.", loaded.Completed[0])
	assert.Equal(t, "Harmadik mondat.", loaded.Completed[2])
	assert.Equal(t, []int{1}, loaded.Failed)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestLoadCorruptFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

	_, err := store.Load("hash", "fp")
	require.Error(t, err)
	var ce *CorruptionError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadSourceHashMismatch(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(NewRecord("old-hash", "fp")))

	_, err := store.Load("new-hash", "fp")
	require.Error(t, err)
	var me *MismatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "source file", me.Field)
}

func TestLoadFingerprintMismatch(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(NewRecord("hash", "old-fp")))

	_, err := store.Load("hash", "new-fp")
	require.Error(t, err)
	var me *MismatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "configuration", me.Field)
}

func TestLoadSchemaVersionMismatch(t *testing.T) {
	store := newTestStore(t)
	rec := NewRecord("hash", "fp")
	rec.Version = SchemaVersion + 1
	require.NoError(t, store.Save(rec))

	_, err := store.Load("hash", "fp")
	require.Error(t, err)
	var me *MismatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "schema version", me.Field)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(NewRecord("hash", "fp")))

	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(NewRecord("hash", "fp")))
	require.NoError(t, store.Delete())

	rec, err := store.Load("hash", "fp")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete())
}
