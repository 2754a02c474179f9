package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "gatepass", cfg.Auth.JWTIssuer)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "gatepass", cfg.Images.Bucket)
	assert.Equal(t, 120, cfg.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: production
http_port: "9000"
face:
  service_url: http://faces:8000
  skip: true
images:
  bucket: photos
queue:
  backend: memory
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "http://faces:8000", cfg.Face.ServiceURL)
	assert.True(t, cfg.Face.Skip)
	assert.Equal(t, "photos", cfg.Images.Bucket)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	// Untouched fields still get defaults.
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: \"9000\"\n"), 0o644))

	t.Setenv("HTTP_PORT", "7777")
	t.Setenv("FACE_SKIP", "true")
	t.Setenv("RATE_LIMIT_PER_MIN", "5")
	t.Setenv("ACCESS_TTL", "1h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.HTTPPort)
	assert.True(t, cfg.Face.Skip)
	assert.Equal(t, 5, cfg.RateLimit)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
