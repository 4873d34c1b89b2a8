package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llmgate/internal/config"
	"github.com/relaymux/llmgate/internal/credential"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestWatcher_ReloadsConfigOnWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("port: 8317\n"), 0o644))

	var got *config.Config
	w, err := New(configPath, "", nil, func(cfg *config.Config, snap *credential.Snapshot) {
		got = cfg
	})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(configPath, []byte("port: 9000\n"), 0o644))

	waitFor(t, 2*time.Second, func() bool { return got != nil })
	assert.Equal(t, 9000, got.Port)
}

func TestWatcher_IgnoresRewriteWithIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("port: 8317\n"), 0o644))

	var calls int
	w, err := New(configPath, "", nil, func(cfg *config.Config, snap *credential.Snapshot) {
		calls++
	})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(configPath, []byte("port: 8317\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(configPath, []byte("port: 8317\n"), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.LessOrEqual(t, calls, 1, "an unchanged hash must not trigger a second reload")
}

func TestWatcher_ReloadsCredentialsOnWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	credPath := filepath.Join(dir, "credentials.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("port: 8317\n"), 0o644))
	require.NoError(t, os.WriteFile(credPath, []byte(""), 0o644))

	store := credential.NewTOMLStore(credPath)
	require.NoError(t, store.AddCredential(context.Background(), credential.KindKey, &credential.Credential{ID: "k1", Kind: credential.KindKey, APIKey: "sk-test"}))

	var got *credential.Snapshot
	w, err := New(configPath, credPath, store, func(cfg *config.Config, snap *credential.Snapshot) {
		if snap != nil {
			got = snap
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, store.AddCredential(context.Background(), credential.KindKey, &credential.Credential{ID: "k2", Kind: credential.KindKey, APIKey: "sk-test-2"}))

	waitFor(t, 2*time.Second, func() bool { return got != nil })
	assert.Len(t, got.Keys, 2)
}

func TestHashFile_StableForIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	h1, data1, err := hashFile(path)
	require.NoError(t, err)
	h2, data2, err := hashFile(path)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, data1, data2)
}
