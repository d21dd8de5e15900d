// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/uplink/internal/log"
)

const (
	redisKeyPrefix = "uplink:archive:"
	redisIndexKey  = "uplink:archive-index"
)

// RedisStore implements Store on a shared Redis. Each record is a JSON
// string; a sorted set scored by acknowledgement time orders List.
type RedisStore struct {
	client *redis.Client
}

// OpenRedisStore connects and pings the server.
func OpenRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("archive: redis backend needs an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("archive: redis connection failed: %w", err)
	}

	logger := log.WithComponent("archive")
	logger.Info().
		Str("addr", addr).
		Int("db", db).
		Msg("connected to redis archive")
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	if err := validID(rec.SessionID); err != nil {
		return err
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisKeyPrefix+rec.SessionID, buf, 0)
		p.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(rec.AckedAt.UnixMilli()), Member: rec.SessionID})
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var out Record
	if err := json.Unmarshal(val, &out); err != nil {
		return Record{}, fmt.Errorf("archive: decode %s: %w", id, err)
	}
	return out, nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKeyPrefix + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("archive: decode %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}
