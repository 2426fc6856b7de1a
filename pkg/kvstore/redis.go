package kvstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"
)

// Both scripts keep the value and the usage counter consistent in one step.
var (
	redisInsert = rueidis.NewLuaScript(`
local old = redis.call('GET', KEYS[1])
redis.call('SET', KEYS[1], ARGV[1])
if old then
  redis.call('INCRBY', KEYS[2], string.len(ARGV[1]) - string.len(old))
  return 1
end
redis.call('INCRBY', KEYS[2], tonumber(ARGV[2]) + string.len(ARGV[1]))
return 0
`)
	redisRemove = rueidis.NewLuaScript(`
local old = redis.call('GET', KEYS[1])
if not old then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('DECRBY', KEYS[2], tonumber(ARGV[1]) + string.len(old))
return 1
`)
)

// Redis is a Backend on a Redis server.
type Redis struct {
	client   rueidis.Client
	prefix   string
	overhead uint64
}

var _ Backend = (*Redis)(nil)

func OpenRedis(addr string, db int, prefix string) (*Redis, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
		SelectDB:    db,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedis(client, prefix), nil
}

// NewRedis wraps an existing client. The Backend owns the client afterwards.
func NewRedis(client rueidis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "neardns"
	}
	return &Redis{client: client, prefix: prefix, overhead: EntryOverhead}
}

func (r *Redis) key(ns, key string) string {
	return r.prefix + ":" + ns + ":" + key
}

func (r *Redis) usageKey() string {
	return r.prefix + ":usage"
}

// fixed is the part of an entry's bill that does not depend on the value.
func (r *Redis) fixed(ns, key string) string {
	return strconv.FormatUint(EntrySize(ns, key, "", r.overhead), 10)
}

func (r *Redis) Get(ctx context.Context, ns, key string) (string, bool, error) {
	v, err := r.client.Do(ctx, r.client.B().Get().Key(r.key(ns, key)).Build()).ToString()
	if rueidis.IsRedisNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Insert(ctx context.Context, ns, key, value string) (bool, error) {
	n, err := redisInsert.Exec(ctx, r.client,
		[]string{r.key(ns, key), r.usageKey()},
		[]string{value, r.fixed(ns, key)},
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("insert: %w", err)
	}
	return n == 1, nil
}

func (r *Redis) Remove(ctx context.Context, ns, key string) (bool, error) {
	n, err := redisRemove.Exec(ctx, r.client,
		[]string{r.key(ns, key), r.usageKey()},
		[]string{r.fixed(ns, key)},
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("remove: %w", err)
	}
	return n == 1, nil
}

func (r *Redis) Usage(ctx context.Context) (uint64, error) {
	n, err := r.client.Do(ctx, r.client.B().Get().Key(r.usageKey()).Build()).AsInt64()
	if rueidis.IsRedisNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("usage counter is negative: %d", n)
	}
	return uint64(n), nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

func (r *Redis) Close() error {
	r.client.Close()
	return nil
}
