package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/raakeshmj/licensegate/internal/repository"
	"github.com/redis/go-redis/v9"
)

// casScript performs a version-guarded write atomically
// KEYS[1] = document hash key
// ARGV[1] = new document bytes
// ARGV[2] = expected version ("" when the document must not exist yet)
// Returns: [written (1/0), current_version]
const casScript = `
local key = KEYS[1]
local current = redis.call("HGET", key, "version")
if not current then
	current = ""
end

if current ~= ARGV[2] then
	return {0, current}
end

local seq = redis.call("HINCRBY", key, "seq", 1)
local version = tostring(seq)
redis.call("HSET", key, "data", ARGV[1], "version", version)

return {1, version}
`

// Store keeps each document in a redis hash {data, version, seq}.
type Store struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) hashKey(key string) string {
	return s.prefix + key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, repository.Version, error) {
	vals, err := s.client.HMGet(ctx, s.hashKey(key), "data", "version").Result()
	if err != nil {
		return nil, "", err
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, "", repository.ErrNotFound
	}
	version, _ := vals[1].(string)
	return []byte(data), repository.Version(version), nil
}

func (s *Store) PutIfVersion(ctx context.Context, key string, data []byte, version repository.Version) (repository.Version, error) {
	result, err := s.client.Eval(ctx, casScript, []string{s.hashKey(key)}, data, string(version)).Result()
	if err != nil {
		return "", err
	}

	res, ok := result.([]interface{})
	if !ok || len(res) != 2 {
		return "", fmt.Errorf("unexpected script result %v", result)
	}
	written, _ := res[0].(int64)
	current, _ := res[1].(string)
	if written != 1 {
		return "", repository.ErrVersionConflict
	}
	return repository.Version(current), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Join(errors.New("redis unavailable"), err)
	}
	return nil
}

var _ repository.BlobStore = (*Store)(nil)
var _ repository.Pinger = (*Store)(nil)
