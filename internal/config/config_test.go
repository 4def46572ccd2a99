// internal/config/config_test.go
package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/SiteHarvester/internal/output"
)

func TestLoadFromBytes_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("sites_file: sites.yaml\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Engine.Retry.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Engine.Retry.BackoffMin)
	assert.Equal(t, 20, cfg.Engine.Budget.Buffer)
	assert.Equal(t, 5000, cfg.Engine.Budget.Ceiling)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.AntiDetect.Enabled)
	assert.True(t, cfg.AntiDetect.Fingerprint)
	assert.Equal(t, SessionStoreFile, cfg.Session.Store)
	assert.Equal(t, 30*time.Second, cfg.Session.CheckTimeout)
	assert.Equal(t, 100, cfg.Dedup.BatchSize)
	assert.Equal(t, output.FormatJSON, cfg.Output.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, cfg.Storage.Root, cfg.Engine.StorageRoot)
}

func TestLoadFromBytes_ExpandsEnvironment(t *testing.T) {
	t.Setenv("HARVESTER_TEST_REDIS", "redis.local:6379")

	data := `
session:
  store: redis
  redis:
    address: ${HARVESTER_TEST_REDIS}
    password: ${HARVESTER_TEST_UNSET:-secret}
dedup:
  endpoint: https://catalog.example/api/exists
  batch_size: 50
engine:
  retry:
    max_retries: 5
    backoff_min: 1s
    backoff_max: 2s
`
	cfg, err := LoadFromBytes([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "redis.local:6379", cfg.Session.Redis.Address)
	assert.Equal(t, "secret", cfg.Session.Redis.Password)
	assert.Equal(t, 50, cfg.Dedup.BatchSize)
	assert.Equal(t, 5, cfg.Engine.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Engine.Retry.BackoffMin)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.PollInterval)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{"empty", "", ""},
		{"bad yaml", "server: [", ""},
		{"unknown store", "session:\n  store: memcached\n", "session.store"},
		{"redis without address", "session:\n  store: redis\n", "session.redis.address"},
		{"bad format", "output:\n  format: pdf\n", "output.format"},
		{"bad level", "logging:\n  level: chatty\n", "logging.level"},
		{"bad dedup endpoint", "dedup:\n  endpoint: ftp://x\n", "dedup.endpoint"},
		{"empty proxy pool", "proxy:\n  enabled: true\n", "proxy"},
		{"bad proxy type", "proxy:\n  providers:\n    - host: p.local\n      port: 21\n      type: ftp\n", "unsupported proxy type"},
		{"inverted backoff", "engine:\n  retry:\n    backoff_min: 5s\n    backoff_max: 1s\n", "engine.retry.backoff_max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data))
			require.Error(t, err)
			if tt.field != "" {
				assert.Contains(t, err.Error(), tt.field)
			}
		})
	}
}

func TestValidateWithDetails_Warnings(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateWithDetails()
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
}

func TestLoadFromFile_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites_file: sites.yaml\nstorage:\n  root: data\n"), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sites.yaml"), cfg.SitesFile)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.Root)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Engine.StorageRoot)
	assert.Equal(t, filepath.Join(dir, "sessions"), cfg.Session.Dir)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = LoadFromFile("")
	assert.Error(t, err)
}

func TestSaveToWriter_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Server.Address = "127.0.0.1:9000"

	var buf bytes.Buffer
	require.NoError(t, SaveToWriter(cfg, &buf))

	loaded, err := LoadFromReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", loaded.Server.Address)
	assert.Equal(t, cfg.Engine, loaded.Engine)
	assert.Equal(t, cfg.AntiDetect.Languages, loaded.AntiDetect.Languages)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites: []\n"), 0644))

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(p string) error {
		assert.Equal(t, path, p)
		if reloads.Add(1) > 1 {
			return errors.New("broken file")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	results := make(chan error, 4)
	w.OnReload(func(err error) { results <- err })

	require.NoError(t, os.WriteFile(path, []byte("sites: []\n# edited\n"), 0644))
	select {
	case err := <-results:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	require.NoError(t, os.WriteFile(path, []byte("sites: [\n"), 0644))
	select {
	case err := <-results:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after second write")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites: []\n"), 0644))

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(string) error {
		reloads.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644))
	time.Sleep(400 * time.Millisecond)
	require.NoError(t, w.Close())
	assert.Zero(t, reloads.Load())
}

func TestLoadFromFile_SampleConfig(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join("..", "..", "configs", "harvester.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, SessionStoreFile, cfg.Session.Store)
	assert.False(t, cfg.Proxy.Enabled)
	assert.Len(t, cfg.Proxy.Providers, 1)
	assert.Equal(t, filepath.Join("..", "..", "configs", "sites.yaml"), cfg.SitesFile)
	assert.Equal(t, filepath.Join("..", "..", "storage"), cfg.Storage.Root)
}
