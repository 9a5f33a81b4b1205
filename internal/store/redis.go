package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

const redisKeyPrefix = "orders:"

// matches compares the version stored inside a JSON document with the
// expected one. 0 accepts anything, -1 requires the document to be absent.
const redisVersionCheck = `
local function matches(doc, want)
	if want == -1 then
		return not doc
	end
	if want == 0 then
		return true
	end
	if not doc then
		return false
	end
	return tonumber(cjson.decode(doc)['version']) == want
end
`

var putScript = redis.NewScript(redisVersionCheck + `
if not matches(redis.call('HGET', KEYS[1], ARGV[1]), tonumber(ARGV[2])) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

var deleteScript = redis.NewScript(redisVersionCheck + `
if not matches(redis.call('HGET', KEYS[1], ARGV[1]), tonumber(ARGV[2])) then
	return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)

var moveScript = redis.NewScript(redisVersionCheck + `
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
	return 0
end
if not matches(redis.call('HGET', KEYS[1], ARGV[1]), tonumber(ARGV[2])) then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)

var swapSessionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
	cur = ''
end
if cur ~= ARGV[2] then
	return 0
end
if ARGV[3] == '' then
	redis.call('HDEL', KEYS[1], ARGV[1])
else
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
end
return 1
`)

// RedisBackend keeps one hash per area: field = reference, value = JSON
// record. Conditional writes run as Lua scripts so the version check and
// the write are atomic on the server. Finalized sessions live in a third
// hash, field = session id, value = reference.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend returns a backend using keys "<prefix>temp", "<prefix>final"
// and "<prefix>sessions". An empty prefix defaults to "orders:".
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(area orders.Area) string {
	return r.prefix + string(area)
}

func (r *RedisBackend) sessionsKey() string {
	return r.prefix + "sessions"
}

func expectedVersion(cond Precondition) int64 {
	if cond.Absent {
		return -1
	}
	return cond.Version
}

func runCAS(ctx context.Context, script *redis.Script, c *redis.Client, op, ref string, keys []string, args ...interface{}) error {
	ok, err := script.Run(ctx, c, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, ref, err)
	}
	if ok != 1 {
		return fmt.Errorf("%s %s: %w", op, ref, orders.ErrConflict)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, area orders.Area, ref string) (*orders.Record, error) {
	raw, err := r.client.HGet(ctx, r.key(area), ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hget %s: %w", ref, err)
	}
	var rec orders.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return &rec, nil
}

func (r *RedisBackend) Put(ctx context.Context, rec *orders.Record, cond Precondition) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Reference, err)
	}
	return runCAS(ctx, putScript, r.client, "put", rec.Reference,
		[]string{r.key(rec.Area)}, rec.Reference, expectedVersion(cond), raw)
}

func (r *RedisBackend) List(ctx context.Context, area orders.Area) ([]*orders.Record, error) {
	all, err := r.client.HGetAll(ctx, r.key(area)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", area, err)
	}
	out := make([]*orders.Record, 0, len(all))
	for ref, raw := range all {
		var rec orders.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ref, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (r *RedisBackend) Delete(ctx context.Context, area orders.Area, ref string, cond Precondition) error {
	return runCAS(ctx, deleteScript, r.client, "delete", ref,
		[]string{r.key(area)}, ref, expectedVersion(cond))
}

// Move writes the new copy and removes the old one in a single script.
func (r *RedisBackend) Move(ctx context.Context, rec *orders.Record, from orders.Area, cond Precondition) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Reference, err)
	}
	return runCAS(ctx, moveScript, r.client, "move", rec.Reference,
		[]string{r.key(from), r.key(rec.Area)}, rec.Reference, expectedVersion(cond), raw)
}

func (r *RedisBackend) SessionOrder(ctx context.Context, session string) (string, error) {
	ref, err := r.client.HGet(ctx, r.sessionsKey(), session).Result()
	if errors.Is(err, redis.Nil) {
		return "", orders.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget session %s: %w", session, err)
	}
	return ref, nil
}

func (r *RedisBackend) SwapSessionOrder(ctx context.Context, session, prev, ref string) error {
	return runCAS(ctx, swapSessionScript, r.client, "swap session", session,
		[]string{r.sessionsKey()}, session, prev, ref)
}
