package notary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces record keys in a shared Redis.
const DefaultRedisPrefix = "notary:acct:"

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a Store that keeps each record under prefix+base58(address).
func NewRedisStore(client *redis.Client, prefix string) Store {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &redisStore{client: client, prefix: prefix}
}

// OpenRedisStore connects to url and verifies the connection.
func OpenRedisStore(ctx context.Context, url, prefix string) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

func (s *redisStore) key(addr Address) string { return s.prefix + addr.String() }

func (s *redisStore) Load(ctx context.Context, addr Address) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Create uses SETNX so two creators cannot both allocate the address.
func (s *redisStore) Create(ctx context.Context, addr Address, data []byte) error {
	if len(data) != RecordSize {
		return ErrSizeMismatch
	}
	ok, err := s.client.SetNX(ctx, s.key(addr), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordExists
	}
	return nil
}

// Update checks the stored size under WATCH and replaces the value with SET XX.
func (s *redisStore) Update(ctx context.Context, addr Address, data []byte) error {
	key := s.key(addr)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		size, err := tx.StrLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if size == 0 {
			return ErrRecordNotFound
		}
		if size != int64(len(data)) {
			return ErrSizeMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetXX(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("concurrent update of %s: %w", addr, err)
	}
	return err
}

// List scans the key prefix.
func (s *redisStore) List(ctx context.Context) ([]Address, error) {
	var out []Address
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		raw, err := base58.Decode(strings.TrimPrefix(iter.Val(), s.prefix))
		if err != nil || len(raw) != IdentitySize {
			continue
		}
		out = append(out, Address(raw))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sortAddresses(out)
	return out, nil
}

func (s *redisStore) Close() error { return s.client.Close() }
