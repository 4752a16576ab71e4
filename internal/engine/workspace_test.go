package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentWorkspace(t *testing.T) {
	t.Parallel()

	t.Run("no terraform dir", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "default", CurrentWorkspace(t.TempDir()))
	})

	t.Run("selected workspace", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ".terraform"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".terraform", "environment"), []byte("staging\n"), 0o644))

		assert.Equal(t, "staging", CurrentWorkspace(dir))
	})

	t.Run("blank file means default", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ".terraform"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".terraform", "environment"), []byte("  \n"), 0o644))

		assert.Equal(t, "default", CurrentWorkspace(dir))
	})
}
