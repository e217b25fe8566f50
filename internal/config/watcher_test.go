package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autocom.yaml")
	cfg := DefaultConfig()
	cfg.Version = "v1"
	require.NoError(t, cfg.Save(path))

	reloads := make(chan *Config, 8)
	w, err := NewWatcher(path, func(c *Config) { reloads <- c })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	cfg.Version = "v2"
	require.NoError(t, cfg.Save(path))

	select {
	case got := <-reloads:
		require.Equal(t, "v2", got.Version)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestWatcherBurstReloadsLastSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autocom.yaml")
	cfg := DefaultConfig()
	cfg.Version = "v1"
	require.NoError(t, cfg.Save(path))

	reloads := make(chan *Config, 8)
	w, err := NewWatcher(path, func(c *Config) { reloads <- c })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// Rapid saves inside one debounce window; the reload that follows
	// must reflect the final save.
	cfg.Version = "v2"
	require.NoError(t, cfg.Save(path))
	cfg.Version = "v3"
	require.NoError(t, cfg.Save(path))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-reloads:
			if got.Version == "v3" {
				return
			}
		case <-deadline:
			t.Fatal("last save of the burst was never reloaded")
		}
	}
}
