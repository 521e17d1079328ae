// Package local_test tests the local filesystem report store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CWD273/cwiptvm3/internal/archive/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "reports")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "write probe is removed")
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	ctx := context.Background()
	uri, err := store.PutObject(ctx, "reports/2026/01/02/c1.json", "application/json", strings.NewReader(`{"ok":true}`))
	require.NoError(t, err)
	want := filepath.Join(dir, "reports", "2026", "01", "02", "c1.json")
	assert.Equal(t, "file://"+want, uri)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	_, err = store.PutObject(ctx, "../escape.json", "application/json", strings.NewReader("{}"))
	assert.ErrorContains(t, err, "path traversal")

	_, err = store.PutObject(ctx, " ", "application/json", strings.NewReader("{}"))
	assert.Error(t, err)
}
