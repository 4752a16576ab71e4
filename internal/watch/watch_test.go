package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// waitForChange receives one change or fails the test after a generous
// timeout; inotify delivery plus the debounce window can take a while on a
// loaded machine.
func waitForChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case c, ok := <-w.Events():
		require.True(t, ok, "events channel closed early")
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestWatcher_ModifyTfFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "main.tf")
	require.NoError(t, os.WriteFile(path, []byte(`resource "null_resource" "a" {}`), 0o644))

	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`resource "null_resource" "b" {}`), 0o644))

	c := waitForChange(t, w)
	assert.Equal(t, path, c.Path)
	assert.Equal(t, OpModify, c.Op)
}

func TestWatcher_CreateTfvarsFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "prod.tfvars")
	require.NoError(t, os.WriteFile(path, []byte(`region = "eu-west-1"`), 0o644))

	c := waitForChange(t, w)
	assert.Equal(t, path, c.Path)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case c := <-w.Events():
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	sub := filepath.Join(dir, "modules", "network")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	// Give the watcher a moment to pick up the new directories.
	time.Sleep(300 * time.Millisecond)

	path := filepath.Join(sub, "vpc.tf")
	require.NoError(t, os.WriteFile(path, []byte(`variable "cidr" {}`), 0o644))

	c := waitForChange(t, w)
	assert.Equal(t, path, c.Path)
}

func TestWatcher_ExcludesInternalDirs(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	for _, name := range []string{".terraform", ".tfdeck", ".git"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
	}

	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	// Files inside excluded directories should be invisible even with a
	// matching suffix.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".terraform", "cached.tf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tfdeck", "state.tfvars"), []byte("x"), 0o644))

	select {
	case c := <-w.Events():
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_DebounceCoalescesRapidWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "main.tf")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	w, err := New(dir, 300*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	// Rapid save burst: all writes land inside one settle window.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	first := waitForChange(t, w)
	assert.Equal(t, path, first.Path)

	// No second notification for the same burst.
	select {
	case c := <-w.Events():
		t.Fatalf("burst produced a second change: %+v", c)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatcher_CloseClosesEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := New(t.TempDir(), 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, w.Close())

	_, ok := <-w.Events()
	assert.False(t, ok)

	// Idempotent
	assert.NoError(t, w.Close())
}

func TestWatcher_MissingRoot(t *testing.T) {
	defer goleak.VerifyNone(t)

	// A missing root is tolerated: the watcher starts with nothing to
	// watch rather than failing the dashboard.
	w, err := New(filepath.Join(t.TempDir(), "nope"), 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
