package fsio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicReplacesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"v":1}`), 0o600))
	require.NoError(t, WriteAtomic(path, []byte(`{"v":2}`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestWriteAtomicPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteAtomic(path, []byte("x"), 0o600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestReadRetryMissingFile(t *testing.T) {
	_, err := ReadRetry(filepath.Join(t.TempDir(), "absent.json"), 3)
	assert.True(t, os.IsNotExist(err))
}

func TestReadRetrySucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ok.json")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	data, err := ReadRetry(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}
