package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/entrhq/memoryd/pkg/types"
)

// compare-and-delete used to release leases held by this instance only.
var delIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures the Redis client.
type Options struct {
	// URL is a redis:// or rediss:// connection string.
	URL string
	// PoolSize bounds the number of connections. Callers block when it is exhausted.
	PoolSize int
	// PoolTimeout bounds how long a caller waits for a free connection.
	PoolTimeout time.Duration
}

// Redis implements Client on go-redis.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to the store described by opts.
func NewRedis(opts Options) (*Redis, error) {
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, types.StoreError("connect", fmt.Errorf("invalid redis url: %w", err))
	}
	// FT.* replies are decoded as flat arrays.
	ro.Protocol = 2
	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	if opts.PoolTimeout > 0 {
		ro.PoolTimeout = opts.PoolTimeout
	}
	return NewRedisFromClient(redis.NewClient(ro)), nil
}

// NewRedisFromClient wraps an existing go-redis client.
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return types.StoreError(op, err)
}

func (r *Redis) Push(ctx context.Context, key string, values ...string) (int64, error) {
	n, err := r.rdb.LPush(ctx, key, toArgs(values)...).Result()
	return n, wrap("lpush", err)
}

func (r *Redis) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.rdb.LRange(ctx, key, start, stop).Result()
	return vals, wrap("lrange", err)
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get", err)
	}
	return v, true, nil
}

func (r *Redis) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("mget", err)
	}
	return toStrings(vals), nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return wrap("set", r.rdb.Set(ctx, key, value, 0).Err())
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return wrap("del", r.rdb.Del(ctx, keys...).Err())
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]any) error {
	return wrap("hset", r.rdb.HSet(ctx, key, fields).Err())
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrap("zadd", r.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (r *Redis) ZRem(ctx context.Context, key string, member string) error {
	return wrap("zrem", r.rdb.ZRem(ctx, key, member).Err())
}

func (r *Redis) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.rdb.ZRange(ctx, key, start, stop).Result()
	return vals, wrap("zrange", err)
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap("setnx", err)
}

func (r *Redis) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	n, err := delIfEqual.Run(ctx, r.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, wrap("del-if-equal", err)
	}
	return n > 0, nil
}

func (r *Redis) Do(ctx context.Context, args ...any) (any, error) {
	v, err := r.rdb.Do(ctx, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		name := "do"
		if len(args) > 0 {
			name = fmt.Sprint(args[0])
		}
		return nil, wrap(name, err)
	}
	return v, nil
}

func (r *Redis) Atomic(ctx context.Context, fn func(b Batch)) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(&redisBatch{ctx: ctx, pipe: pipe})
		return nil
	})
	// A missing GET inside the transaction is not a failure.
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return wrap("multi", err)
}

func (r *Redis) Ping(ctx context.Context) error {
	return wrap("ping", r.rdb.Ping(ctx).Err())
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

type redisBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (b *redisBatch) Push(key string, values ...string) *IntReply {
	return &IntReply{cmd: b.pipe.LPush(b.ctx, key, toArgs(values)...)}
}

func (b *redisBatch) Range(key string, start, stop int64) *ListReply {
	return &ListReply{cmd: b.pipe.LRange(b.ctx, key, start, stop)}
}

func (b *redisBatch) Get(key string) *StringReply {
	return &StringReply{cmd: b.pipe.Get(b.ctx, key)}
}

func (b *redisBatch) MGet(keys ...string) *ValuesReply {
	return &ValuesReply{cmd: b.pipe.MGet(b.ctx, keys...)}
}

func (b *redisBatch) Trim(key string, start, stop int64) {
	b.pipe.LTrim(b.ctx, key, start, stop)
}

func (b *redisBatch) Set(key, value string) {
	b.pipe.Set(b.ctx, key, value, 0)
}

func (b *redisBatch) IncrBy(key string, n int64) {
	b.pipe.IncrBy(b.ctx, key, n)
}

func (b *redisBatch) Del(keys ...string) {
	b.pipe.Del(b.ctx, keys...)
}

func (b *redisBatch) HSet(key string, fields map[string]any) {
	b.pipe.HSet(b.ctx, key, fields)
}

func (b *redisBatch) ZAdd(key string, score float64, member string) {
	b.pipe.ZAdd(b.ctx, key, redis.Z{Score: score, Member: member})
}

func (b *redisBatch) ZRem(key string, member string) {
	b.pipe.ZRem(b.ctx, key, member)
}

// IntReply is an integer reply from a batch.
type IntReply struct{ cmd *redis.IntCmd }

func (r *IntReply) Val() int64 { return r.cmd.Val() }

// ListReply is a list reply from a batch.
type ListReply struct{ cmd *redis.StringSliceCmd }

func (r *ListReply) Val() []string { return r.cmd.Val() }

// StringReply is a bulk string reply from a batch.
type StringReply struct{ cmd *redis.StringCmd }

// Val returns ok=false when the key was absent.
func (r *StringReply) Val() (string, bool) {
	if errors.Is(r.cmd.Err(), redis.Nil) {
		return "", false
	}
	return r.cmd.Val(), r.cmd.Err() == nil
}

// ValuesReply is an MGET reply from a batch.
type ValuesReply struct{ cmd *redis.SliceCmd }

// Val returns nil entries for absent keys.
func (r *ValuesReply) Val() []*string { return toStrings(r.cmd.Val()) }

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func toStrings(vals []any) []*string {
	out := make([]*string, len(vals))
	for i, v := range vals {
		switch s := v.(type) {
		case string:
			out[i] = &s
		case []byte:
			str := string(s)
			out[i] = &str
		}
	}
	return out
}
