package redisstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr      string
	Password  string
	DB        int
	UseTLS    bool
	KeyPrefix string
	Timeout   time.Duration
}

// Store keeps values in redis under an optional key prefix. Every call is
// bounded by Timeout.
type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Store{client: client, prefix: prefix, timeout: timeout}
}

// Dial connects and pings the server.
func Dial(opts Options) (*Store, error) {
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.UseTLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	s := New(redis.NewClient(ro), opts.KeyPrefix, opts.Timeout)
	ctx, cancel := s.context()
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return s, nil
}

func (s *Store) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Get(key string) (string, error) {
	ctx, cancel := s.context()
	defer cancel()

	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", errors.Wrapf(errors.ErrNotFound, "key %q", key)
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (s *Store) Set(key, value string) error {
	ctx, cancel := s.context()
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Remove(key string) error {
	ctx, cancel := s.context()
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
