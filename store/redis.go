package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// saveIfVersionScript compares the stored version and writes atomically.
// KEYS[1] record hash, KEYS[2] kind index set.
// ARGV[1] expected version, ARGV[2] payload, ARGV[3] ttl ms, ARGV[4] id.
var saveIfVersionScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
local expected = tonumber(ARGV[1])
if (not current and expected ~= 0) or (current and tonumber(current) ~= expected) then
	return -1
end
local nextVersion = expected + 1
redis.call('HSET', KEYS[1], 'version', nextVersion, 'data', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
redis.call('SADD', KEYS[2], ARGV[4])
return nextVersion
`)

// RedisStateStore persists state records as redis hashes. Compare-and-set
// runs server side in a Lua script.
type RedisStateStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// NewRedisStateStore builds a store using the provided client and TTL.
// A zero TTL keeps records forever.
func NewRedisStateStore(client redis.UniversalClient, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, ttl: ttl, keyPrefix: "fsm_state:"}
}

// WithKeyPrefix returns the store using prefix for every key.
func (s *RedisStateStore) WithKeyPrefix(prefix string) *RedisStateStore {
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		s.keyPrefix = prefix
	}
	return s
}

// Load reads the record hash for kind/id.
func (s *RedisStateStore) Load(ctx context.Context, kind, id string) (*StateRecord, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	return s.loadByKey(ctx, s.recordKey(kind, id))
}

// SaveIfVersion performs an atomic optimistic-lock update.
func (s *RedisStateStore) SaveIfVersion(ctx context.Context, rec *StateRecord, expectedVersion int) (int, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("redis store not configured")
	}
	rec, err := normalize(rec)
	if err != nil {
		return 0, err
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}
	rec.Version = expectedVersion + 1
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}

	keys := []string{s.recordKey(rec.Kind, rec.ID), s.indexKey(rec.Kind)}
	version, err := saveIfVersionScript.Run(ctx, s.client, keys,
		expectedVersion,
		string(payload),
		s.ttl.Milliseconds(),
		rec.ID,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis save %s: %w", keys[0], err)
	}
	if version < 0 {
		return 0, ErrVersionConflict
	}
	return version, nil
}

// List returns records of kind sorted by id. Expired ids are pruned lazily.
func (s *RedisStateStore) List(ctx context.Context, kind, state string) ([]*StateRecord, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	index := s.indexKey(kind)
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	state = normalizeName(state)

	var out []*StateRecord
	for _, id := range ids {
		rec, err := s.loadByKey(ctx, s.recordKey(kind, id))
		if err != nil {
			return nil, err
		}
		if rec == nil {
			s.client.SRem(ctx, index, id)
			continue
		}
		if state != "" && rec.State != state {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStateStore) loadByKey(ctx context.Context, key string) (*StateRecord, error) {
	value, err := s.client.HGet(ctx, key, "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec StateRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStateStore) recordKey(kind, id string) string {
	return s.keyPrefix + recordKey(kind, id)
}

func (s *RedisStateStore) indexKey(kind string) string {
	return s.keyPrefix + normalizeName(kind) + ":_index"
}
