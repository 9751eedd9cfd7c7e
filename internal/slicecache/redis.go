package slicecache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ctslice:"

// RedisStore keeps slice records in Redis. Each session has a set of its
// stored indexes so the whole session can be dropped at once.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects and pings the server
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return client, nil
}

func sliceKey(sessionID string, index int) string {
	return redisKeyPrefix + "slice:" + sessionID + ":" + strconv.Itoa(index)
}

func indexKey(sessionID string) string {
	return redisKeyPrefix + "session:" + sessionID
}

// Get returns one slice record
func (s *RedisStore) Get(ctx context.Context, sessionID string, index int) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, sliceKey(sessionID, index)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read slice %s/%d: %w", sessionID, index, err)
	}
	return data, true, nil
}

// Put replaces one slice record
func (s *RedisStore) Put(ctx context.Context, sessionID string, index int, payload []byte) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sliceKey(sessionID, index), payload, 0)
		p.SAdd(ctx, indexKey(sessionID), index)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write slice %s/%d: %w", sessionID, index, err)
	}
	return nil
}

// Delete removes one slice record
func (s *RedisStore) Delete(ctx context.Context, sessionID string, index int) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sliceKey(sessionID, index))
		p.SRem(ctx, indexKey(sessionID), index)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete slice %s/%d: %w", sessionID, index, err)
	}
	return nil
}

// DeleteSession removes every slice record of a session
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	members, err := s.client.SMembers(ctx, indexKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list slices of %s: %w", sessionID, err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		idx, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		keys = append(keys, sliceKey(sessionID, idx))
	}
	keys = append(keys, indexKey(sessionID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete slices of %s: %w", sessionID, err)
	}
	return nil
}

// Indexes lists the stored slice indexes of a session in ascending order
func (s *RedisStore) Indexes(ctx context.Context, sessionID string) ([]int, error) {
	members, err := s.client.SMembers(ctx, indexKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list slices of %s: %w", sessionID, err)
	}
	out := make([]int, 0, len(members))
	for _, m := range members {
		if idx, err := strconv.Atoi(m); err == nil {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out, nil
}

// Sessions lists the ids of every session with stored slices
func (s *RedisStore) Sessions(ctx context.Context) ([]string, error) {
	prefix := indexKey("")
	var ids []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stored sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
