package storage_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GophAuth/internal/storage"
)

func TestFileStore_SaveLoad(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s, err := storage.NewFileStoreFs(fs, "/data")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Load(ctx, storage.KeyVault)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Save(ctx, storage.KeyVault, []byte("v1")))
	require.NoError(t, s.Save(ctx, storage.KeyVault, []byte("v2")))

	got, err := s.Load(ctx, storage.KeyVault)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "vault.dat", entries[0].Name())
}

func TestFileStore_OSFilesystem(t *testing.T) {
	t.Parallel()

	s, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), storage.KeySettings, []byte(`{"a":1}`)))
	got, err := s.Load(context.Background(), storage.KeySettings)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)
}

func TestFileStore_FailedSaveKeepsPreviousValue(t *testing.T) {
	t.Parallel()

	base := afero.NewMemMapFs()
	s, err := storage.NewFileStoreFs(base, "/data")
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), storage.KeyLock, []byte("old")))

	ro, err := storage.NewFileStoreFs(afero.NewReadOnlyFs(base), "/data")
	require.NoError(t, err)
	assert.Error(t, ro.Save(context.Background(), storage.KeyLock, []byte("new")))

	got, err := ro.Load(context.Background(), storage.KeyLock)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func TestFileStore_InvalidKey(t *testing.T) {
	t.Parallel()

	s, err := storage.NewFileStoreFs(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)

	for _, key := range []string{"", "../etc", "Vault", "a/b"} {
		assert.ErrorIs(t, s.Save(context.Background(), key, nil), storage.ErrInvalidKey, key)
		_, err := s.Load(context.Background(), key)
		assert.ErrorIs(t, err, storage.ErrInvalidKey, key)
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	t.Parallel()

	s, err := storage.NewFileStoreFs(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, storage.KeyVault, []byte("x")), context.Canceled)
}
