package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pilab-dev/biolock/storage"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. BIOLOCK_STORAGE_BACKEND.
const EnvPrefix = "BIOLOCK"

// RegistryBackend names a token registry implementation.
type RegistryBackend string

const (
	RegistryMemory RegistryBackend = "memory"
	RegistryRedis  RegistryBackend = "redis"
)

// Config holds the configuration of the biolock CLI and demo server.
type Config struct {
	LogLevel       string `mapstructure:"log_level"`
	LogPretty      bool   `mapstructure:"log_pretty"`
	HTTPAddr       string `mapstructure:"http_addr"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`

	StorageBackend storage.Backend `mapstructure:"storage_backend"`
	BBoltPath      string          `mapstructure:"bbolt_path"`
	RedisAddr      string          `mapstructure:"redis_addr"`
	RedisPrefix    string          `mapstructure:"redis_prefix"`
	MongoURI       string          `mapstructure:"mongo_uri"`
	MongoDBName    string          `mapstructure:"mongo_db_name"`

	RegistryBackend RegistryBackend `mapstructure:"registry_backend"`

	KeyName       string `mapstructure:"key_name"`
	BlobNamespace string `mapstructure:"blob_namespace"`
	BlobKey       string `mapstructure:"blob_key"`

	// DeviceSecret is hex encoded. When empty a random secret is generated on first
	// use and kept in the configured storage.
	DeviceSecret string `mapstructure:"device_secret"`
	DevicePIN    string `mapstructure:"device_pin"`
}

var keys = []string{
	"log_level", "log_pretty", "http_addr", "tracing_enabled",
	"storage_backend", "bbolt_path", "redis_addr", "redis_prefix", "mongo_uri", "mongo_db_name",
	"registry_backend", "key_name", "blob_namespace", "blob_key", "device_secret", "device_pin",
}

// LoadConfig reads the configuration from path (or biolock.yaml in the usual search
// paths when path is empty), environment variables and defaults, in increasing order
// of precedence: defaults, file, environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("biolock")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.biolock")
		v.AddConfigPath("/etc/biolock/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Unmarshal only sees env values for keys viper knows about.
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", true)
	v.SetDefault("http_addr", "127.0.0.1:8080")
	v.SetDefault("tracing_enabled", false)

	v.SetDefault("storage_backend", string(storage.BackendBBolt))
	v.SetDefault("bbolt_path", "biolock.db")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "biolock")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_db_name", "biolock")

	v.SetDefault("registry_backend", string(RegistryMemory))

	v.SetDefault("key_name", "biometric_sample_encryption_key")
	v.SetDefault("blob_namespace", "biometric_prefs")
	v.SetDefault("blob_key", "ciphertext_wrapper")

	v.SetDefault("device_secret", "")
	v.SetDefault("device_pin", "0000")
}

// Validate checks the values that cannot be caught by decoding.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case storage.BackendBBolt, storage.BackendRedis, storage.BackendMongo, storage.BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.RegistryBackend {
	case RegistryMemory, RegistryRedis:
	default:
		return fmt.Errorf("unknown registry backend %q", c.RegistryBackend)
	}

	if c.KeyName == "" {
		return errors.New("key_name must not be empty")
	}
	if c.BlobNamespace == "" || c.BlobKey == "" {
		return errors.New("blob_namespace and blob_key must not be empty")
	}
	if c.DevicePIN == "" {
		return errors.New("device_pin must not be empty")
	}

	if c.DeviceSecret != "" {
		if _, err := c.DeviceSecretBytes(); err != nil {
			return err
		}
	}

	return nil
}

// DeviceSecretBytes decodes DeviceSecret. It returns nil for an empty secret.
func (c *Config) DeviceSecretBytes() ([]byte, error) {
	if c.DeviceSecret == "" {
		return nil, nil
	}

	secret, err := hex.DecodeString(c.DeviceSecret)
	if err != nil {
		return nil, fmt.Errorf("device_secret must be hex encoded: %w", err)
	}

	return secret, nil
}
