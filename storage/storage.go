// Package storage is the durable key-value surface the session store writes
// through to, so a session survives a restart.
package storage

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/storage/file"
	"github.com/jrsteele09/go-auth-session/storage/memory"
	"github.com/jrsteele09/go-auth-session/storage/redisstore"
	"github.com/jrsteele09/go-auth-session/storage/sealed"
	"github.com/jrsteele09/go-auth-session/storage/sqlite"
)

// Storage is synchronous from the caller's point of view. Get returns an
// error matching errors.ErrNotFound when the key is absent.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

var (
	_ Storage = (*memory.Store)(nil)
	_ Storage = (*file.Store)(nil)
	_ Storage = (*sqlite.Store)(nil)
	_ Storage = (*redisstore.Store)(nil)
	_ Storage = (*sealed.Store)(nil)
)

const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindRedis  = "redis"
)

// Open builds the backend named by the configuration, sealing it when a
// seal key is configured.
func Open(cfg config.StorageConfig) (Storage, error) {
	var backend Storage
	switch cfg.GetStorageKind() {
	case KindMemory:
		backend = memory.New()
	case KindFile:
		s, err := file.New(cfg.GetStoragePath())
		if err != nil {
			return nil, fmt.Errorf("[storage Open] %w", err)
		}
		backend = s
	case KindSQLite:
		s, err := sqlite.Open(cfg.GetStoragePath())
		if err != nil {
			return nil, fmt.Errorf("[storage Open] %w", err)
		}
		backend = s
	case KindRedis:
		s, err := redisstore.Dial(redisstore.Options{
			Addr:      cfg.GetRedisAddr(),
			Password:  cfg.GetRedisPassword(),
			DB:        cfg.GetRedisDB(),
			KeyPrefix: cfg.GetRedisKeyPrefix(),
			Timeout:   cfg.GetStorageTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("[storage Open] %w", err)
		}
		backend = s
	default:
		return nil, fmt.Errorf("[storage Open] unknown storage kind %q", cfg.GetStorageKind())
	}

	sealKey := cfg.GetStorageSealKey()
	if sealKey == "" {
		return backend, nil
	}

	key, err := hex.DecodeString(sealKey)
	if err != nil {
		Close(backend)
		return nil, fmt.Errorf("[storage Open] seal key is not hex: %w", err)
	}
	s, err := sealed.New(backend, key)
	if err != nil {
		Close(backend)
		return nil, fmt.Errorf("[storage Open] %w", err)
	}
	return s, nil
}

// Close releases the backend if it holds resources.
func Close(s Storage) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
