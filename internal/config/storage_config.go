package config

import "time"

type StorageConfig interface {
	GetStorageKind() string
	GetStoragePath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
	GetStorageTimeout() time.Duration
	GetStorageSealKey() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetStorageKind is one of memory, file, sqlite or redis
func (Storage) GetStorageKind() string {
	return GetEnv("STORAGE_KIND", "file")
}

func (Storage) GetStoragePath() string {
	return GetEnv("STORAGE_PATH", "./data")
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return getInt("REDIS_DB", 0)
}

func (Storage) GetRedisKeyPrefix() string {
	return GetEnv("REDIS_KEY_PREFIX", "session:")
}

func (Storage) GetStorageTimeout() time.Duration {
	return getDuration("STORAGE_TIMEOUT", 2*time.Second)
}

// GetStorageSealKey is a hex encoded 32 byte key. When set, persisted
// values are encrypted at rest.
func (Storage) GetStorageSealKey() string {
	return GetEnv("STORAGE_SEAL_KEY", "")
}
