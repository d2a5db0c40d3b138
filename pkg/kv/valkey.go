package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// ValkeyConfig points the store at a Valkey (or Redis) server.
type ValkeyConfig struct {
	Addr        string // host:port
	Password    string
	DB          int
	Prefix      string        // prepended to every key, e.g. "jobman:idem:"
	DialTimeout time.Duration // 0 means 5s
}

// ValkeyStore is a Store shared between scheduler replicas. TTLs are
// enforced by the server.
type ValkeyStore struct {
	rdb    *redis.Client
	prefix string
}

// NewValkeyStore connects and pings the server, failing fast on a bad address.
func NewValkeyStore(ctx context.Context, cfg ValkeyConfig) (*ValkeyStore, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging valkey at %s: %w", cfg.Addr, err)
	}

	return &ValkeyStore{rdb: rdb, prefix: cfg.Prefix}, nil
}

func (s *ValkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *ValkeyStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// SetNX issues SET key value NX [PX ttl]. A nil reply means the key was
// already held.
func (s *ValkeyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	err := s.rdb.SetArgs(ctx, s.prefix+key, value, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *ValkeyStore) Close() error {
	return s.rdb.Close()
}

var _ Store = (*ValkeyStore)(nil)
