// Package server wires configuration into a running login machine and its HTTP surface.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/config"
	"github.com/pilab-dev/biolock/domain"
	"github.com/pilab-dev/biolock/login"
	"github.com/pilab-dev/biolock/registry"
	"github.com/pilab-dev/biolock/storage"
	"github.com/pilab-dev/biolock/tokenstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	deviceNamespace = "device"
	deviceSecretKey = "secret"
)

// App holds every component built from a Config.
type App struct {
	Config   *config.Config
	Storage  storage.Storage
	Registry domain.TokenRegistry
	Keystore *capability.SoftwareKeystore
	Store    *tokenstore.Store
	Backend  login.Backend
	Machine  *login.Machine

	redis *redis.Client
}

// New builds the storage, registry, keystore and machine described by cfg.
// prompter answers every capability prompt.
func New(ctx context.Context, cfg *config.Config, prompter capability.Prompter, opts ...login.Option) (*App, error) {
	app := &App{Config: cfg}

	var err error
	app.Storage, err = app.openStorage(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Registry, err = app.openRegistry()
	if err != nil {
		app.Close()
		return nil, err
	}

	secret, err := deviceSecret(ctx, cfg, app.Storage, rand.Reader)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Keystore, err = capability.NewSoftwareKeystore(secret, app.Storage, prompter)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Store = tokenstore.New(app.Storage)
	app.Backend = login.NewFakeBackend()

	opts = append([]login.Option{
		login.WithKeyName(cfg.KeyName),
		login.WithDestination(domain.Destination{Namespace: cfg.BlobNamespace, Key: cfg.BlobKey}),
	}, opts...)
	app.Machine = login.New(app.Registry, app.Backend, app.Store, app.Keystore, opts...)

	log.Debug().
		Str("storage", string(cfg.StorageBackend)).
		Str("registry", string(cfg.RegistryBackend)).
		Msg("server: app initialized")

	return app, nil
}

// Close releases the storage and redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Storage != nil {
		errs = append(errs, a.Storage.Close())
	}
	if a.redis != nil {
		// The redis storage backend shares this client and has closed it already.
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *App) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
	}
	return a.redis
}

func (a *App) openStorage(ctx context.Context) (storage.Storage, error) {
	cfg := a.Config

	switch cfg.StorageBackend {
	case storage.BackendBBolt:
		s, err := storage.NewBBolt(cfg.BBoltPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case storage.BackendRedis:
		client := a.redisClient()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return storage.NewRedis(client, cfg.RedisPrefix), nil
	case storage.BackendMongo:
		s, err := storage.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		return s, nil
	case storage.BackendMemory:
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func (a *App) openRegistry() (domain.TokenRegistry, error) {
	switch a.Config.RegistryBackend {
	case config.RegistryMemory:
		return registry.NewMemory(), nil
	case config.RegistryRedis:
		return registry.NewRedis(a.redisClient(), a.Config.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", a.Config.RegistryBackend)
	}
}

// deviceSecret returns the configured secret, or the one kept in s. A missing
// secret is generated from random and stored.
//
// A stored secret sits next to the encrypted token, so anyone holding a durable
// store can derive the keys without a prompt. Only a configured secret keeps the
// two apart.
func deviceSecret(ctx context.Context, cfg *config.Config, s storage.Storage, random io.Reader) ([]byte, error) {
	secret, err := cfg.DeviceSecretBytes()
	if err != nil {
		return nil, err
	}
	if secret != nil {
		return secret, nil
	}

	if cfg.StorageBackend != storage.BackendMemory {
		log.Warn().Str("storage", string(cfg.StorageBackend)).
			Msg("server: device secret is kept in the same storage as the encrypted token, set device_secret to keep it out")
	}

	secret, found, err := s.Get(ctx, deviceNamespace, deviceSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load device secret: %w", err)
	}
	if found {
		return secret, nil
	}

	secret = make([]byte, capability.MinSecretSize)
	if _, err := io.ReadFull(random, secret); err != nil {
		return nil, fmt.Errorf("failed to generate device secret: %w", err)
	}
	if err := s.Put(ctx, deviceNamespace, deviceSecretKey, secret); err != nil {
		return nil, fmt.Errorf("failed to store device secret: %w", err)
	}
	log.Info().Msg("server: generated a new device secret")

	return secret, nil
}
