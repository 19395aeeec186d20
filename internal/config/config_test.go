package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  api_key: secret\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, 0.55, cfg.Matching.Tolerance)
	assert.Equal(t, BackendMemory, cfg.Storage.Images)
	assert.Equal(t, BackendMemory, cfg.Storage.Embeddings)
	assert.Equal(t, VisionLocal, cfg.Vision.Mode)
	assert.Equal(t, "faces.extract", cfg.NATS.ExtractSubject)
	assert.Equal(t, 30*time.Second, cfg.NATS.ExtractTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
storage:
  images: minio
  embeddings: postgres
  restore_on_start: true
matching:
  tolerance: 0.6
  max_results: 25
nats:
  enabled: true
  url: nats://localhost:4222
  extract_timeout: 5s
vision:
  mode: remote
`))
	require.NoError(t, err)

	assert.Equal(t, BackendMinIO, cfg.Storage.Images)
	assert.Equal(t, BackendPostgres, cfg.Storage.Embeddings)
	assert.True(t, cfg.Storage.RestoreOnStart)
	assert.Equal(t, 0.6, cfg.Matching.Tolerance)
	assert.Equal(t, 25, cfg.Matching.MaxResults)
	assert.Equal(t, 5*time.Second, cfg.NATS.ExtractTimeout)
	assert.Equal(t, VisionRemote, cfg.Vision.Mode)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EF_SERVER_PORT", "9090")
	t.Setenv("EF_MATCH_TOLERANCE", "0.4")
	t.Setenv("EF_NATS_URL", "nats://queue:4222")
	t.Setenv("EF_VISION_MODE", "remote")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.4, cfg.Matching.Tolerance)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://queue:4222", cfg.NATS.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown image backend", "storage:\n  images: s3\n"},
		{"unknown embedding backend", "storage:\n  embeddings: redis\n"},
		{"remote vision without nats", "vision:\n  mode: remote\n"},
		{"unknown vision mode", "vision:\n  mode: gpu\n"},
		{"negative tolerance", "matching:\n  tolerance: -1\n"},
		{"malformed yaml", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "faces", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/faces?sslmode=disable", d.DSN())
}
