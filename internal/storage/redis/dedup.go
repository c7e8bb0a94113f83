package redis

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
)

const defaultMaxIDs = 10000

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects and pings the server.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// reserveScript adds the unknown ids to the destination's sorted set, scored
// by a per-destination counter so the oldest can be evicted past the cap.
//
// KEYS: ids zset, sequence counter, destinations set
// ARGV: max ids, destination, ids...
var reserveScript = goredis.NewScript(`
local fresh = {}
for i = 3, #ARGV do
  local id = ARGV[i]
  if redis.call('ZSCORE', KEYS[1], id) == false then
    local seq = redis.call('INCR', KEYS[2])
    redis.call('ZADD', KEYS[1], seq, id)
    table.insert(fresh, id)
  end
end
if #fresh > 0 then
  redis.call('SADD', KEYS[3], ARGV[2])
  local max = tonumber(ARGV[1])
  local n = redis.call('ZCARD', KEYS[1])
  if n > max then
    redis.call('ZREMRANGEBYRANK', KEYS[1], 0, n - max - 1)
  end
end
return fresh
`)

// DedupStore keeps delivered article ids per destination in Redis sorted
// sets. Reserve runs as a single script so concurrent relays never hand out
// the same id twice.
type DedupStore struct {
	client *goredis.Client
	prefix string
	maxIDs int
}

func NewDedupStore(client *goredis.Client, keyPrefix string, maxIDs int) *DedupStore {
	if maxIDs <= 0 {
		maxIDs = defaultMaxIDs
	}
	return &DedupStore{client: client, prefix: keyPrefix, maxIDs: maxIDs}
}

func (s *DedupStore) idsKey(destination string) string {
	return s.prefix + "dedup:" + destination
}

func (s *DedupStore) seqKey(destination string) string {
	return s.prefix + "dedup_seq:" + destination
}

func (s *DedupStore) destinationsKey() string {
	return s.prefix + "dedup_destinations"
}

func (s *DedupStore) Reserve(ctx context.Context, destination string, ids []string) ([]string, error) {
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, s.maxIDs, destination)
	for _, id := range ids {
		if id != "" {
			args = append(args, id)
		}
	}
	if len(args) == 2 {
		return nil, nil
	}

	keys := []string{s.idsKey(destination), s.seqKey(destination), s.destinationsKey()}
	res, err := reserveScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("reserve ids: %w", err)
	}

	fresh := make([]string, 0, len(res))
	for _, v := range res {
		id, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("reserve ids: unexpected reply %T", v)
		}
		fresh = append(fresh, id)
	}
	return fresh, nil
}

// IDs returns the ids remembered for destination, oldest first.
func (s *DedupStore) IDs(ctx context.Context, destination string) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.idsKey(destination), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	return ids, nil
}

func (s *DedupStore) Retain(ctx context.Context, keep []string) (int, error) {
	known, err := s.client.SMembers(ctx, s.destinationsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list destinations: %w", err)
	}

	wanted := make(map[string]struct{}, len(keep))
	for _, d := range keep {
		wanted[d] = struct{}{}
	}

	var orphans []string
	for _, d := range known {
		if _, ok := wanted[d]; !ok {
			orphans = append(orphans, d)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, d := range orphans {
			pipe.Del(ctx, s.idsKey(d), s.seqKey(d))
			pipe.SRem(ctx, s.destinationsKey(), d)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete orphaned destinations: %w", err)
	}
	return len(orphans), nil
}
