package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pilab-dev/biolock/config"
	"github.com/pilab-dev/biolock/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from an empty directory so no stray biolock.yaml is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)

	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, storage.BackendBBolt, cfg.StorageBackend)
	assert.Equal(t, "biolock.db", cfg.BBoltPath)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "biolock", cfg.RedisPrefix)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "biolock", cfg.MongoDBName)
	assert.Equal(t, config.RegistryMemory, cfg.RegistryBackend)
	assert.Equal(t, "biometric_sample_encryption_key", cfg.KeyName)
	assert.Equal(t, "biometric_prefs", cfg.BlobNamespace)
	assert.Equal(t, "ciphertext_wrapper", cfg.BlobKey)
	assert.Empty(t, cfg.DeviceSecret)
	assert.Equal(t, "0000", cfg.DevicePIN)

	secret, err := cfg.DeviceSecretBytes()
	require.NoError(t, err)
	assert.Nil(t, secret)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	chdirTemp(t)

	t.Setenv("BIOLOCK_LOG_LEVEL", "debug")
	t.Setenv("BIOLOCK_LOG_PRETTY", "false")
	t.Setenv("BIOLOCK_HTTP_ADDR", "0.0.0.0:9090")
	t.Setenv("BIOLOCK_STORAGE_BACKEND", "redis")
	t.Setenv("BIOLOCK_REDIS_ADDR", "redis.example.com:6380")
	t.Setenv("BIOLOCK_REGISTRY_BACKEND", "redis")
	t.Setenv("BIOLOCK_DEVICE_PIN", "4321")
	t.Setenv("BIOLOCK_TRACING_ENABLED", "true")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, "0.0.0.0:9090", cfg.HTTPAddr)
	assert.Equal(t, storage.BackendRedis, cfg.StorageBackend)
	assert.Equal(t, "redis.example.com:6380", cfg.RedisAddr)
	assert.Equal(t, config.RegistryRedis, cfg.RegistryBackend)
	assert.Equal(t, "4321", cfg.DevicePIN)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoadConfig_File(t *testing.T) {
	dir := chdirTemp(t)

	content := []byte(`
storage_backend: memory
key_name: custom_key
blob_namespace: prefs
blob_key: wrapped
device_secret: "` + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff" + `"
`)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	// The environment still wins over the file.
	t.Setenv("BIOLOCK_BLOB_KEY", "from_env")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, storage.BackendMemory, cfg.StorageBackend)
	assert.Equal(t, "custom_key", cfg.KeyName)
	assert.Equal(t, "prefs", cfg.BlobNamespace)
	assert.Equal(t, "from_env", cfg.BlobKey)

	secret, err := cfg.DeviceSecretBytes()
	require.NoError(t, err)
	assert.Len(t, secret, 32)
}

func TestLoadConfig_SearchPath(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "biolock.yaml"), []byte("log_level: warn\n"), 0o600))

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	chdirTemp(t)

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "storage backend", env: map[string]string{"BIOLOCK_STORAGE_BACKEND": "postgres"}},
		{name: "registry backend", env: map[string]string{"BIOLOCK_REGISTRY_BACKEND": "mongo"}},
		{name: "device secret", env: map[string]string{"BIOLOCK_DEVICE_SECRET": "not-hex"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.LoadConfig("")
			assert.Error(t, err)
		})
	}
}
