package reading

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by RedisStore
type RedisClient interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisOptions configures the connection made by NewRedisClient
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps one sorted set per device, scored by the reading
// timestamp in microseconds. Each member starts with the full nanosecond
// timestamp and an append sequence, both fixed width, so members sharing a
// score order by exact time and then by append order.
type RedisStore struct {
	client RedisClient
	prefix string
}

const (
	memberTimeWidth = 20
	memberSeqWidth  = 20
	memberHeaderLen = memberTimeWidth + 1 + memberSeqWidth + 1
)

func NewRedisStore(client RedisClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

// key escapes both ids so ':' only ever separates client from device
func (s *RedisStore) key(clientID, deviceID string) string {
	return s.prefix + url.QueryEscape(clientID) + ":" + url.QueryEscape(deviceID)
}

// seqKey cannot collide with a device key: '#' is escaped in ids
func (s *RedisStore) seqKey() string {
	return s.prefix + "#seq"
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// sortableNanos maps the signed nanosecond time onto a fixed-width decimal
// that sorts lexicographically in time order
func sortableNanos(t time.Time) string {
	return fmt.Sprintf("%0*d", memberTimeWidth, uint64(t.UnixNano())^(1<<63))
}

func encodeMember(r Reading, seq int64) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode reading: %w", err)
	}
	return fmt.Sprintf("%s:%0*d:%s", sortableNanos(r.Timestamp), memberSeqWidth, seq, body), nil
}

func (s *RedisStore) add(ctx context.Context, key string, r Reading) error {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate reading sequence: %w", err)
	}
	member, err := encodeMember(r, seq)
	if err != nil {
		return err
	}
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score(r.Timestamp), Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}
	return nil
}

// Append rejects a reading whose exact timestamp is already stored for the
// device. The check and the add are separate commands.
func (s *RedisStore) Append(ctx context.Context, clientID string, r Reading) error {
	key := s.key(clientID, r.DeviceID)
	at := strconv.FormatInt(r.Timestamp.UnixMicro(), 10)

	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: at, Max: at}).Result()
	if err != nil {
		return fmt.Errorf("failed to check reading timestamp: %w", err)
	}
	exact := sortableNanos(r.Timestamp)
	for _, m := range members {
		if strings.HasPrefix(m, exact+":") {
			return ErrDuplicateTimestamp
		}
	}
	return s.add(ctx, key, r)
}

func (s *RedisStore) AppendInternal(ctx context.Context, clientID string, r Reading) error {
	return s.add(ctx, s.key(clientID, r.DeviceID), r)
}

func (s *RedisStore) GetLatest(ctx context.Context, clientID, deviceID string) (Reading, bool, error) {
	members, err := s.client.ZRevRange(ctx, s.key(clientID, deviceID), 0, 0).Result()
	if err != nil {
		return Reading{}, false, fmt.Errorf("failed to read latest reading: %w", err)
	}
	if len(members) == 0 {
		return Reading{}, false, nil
	}
	r, err := decodeMember(members[0])
	if err != nil {
		return Reading{}, false, err
	}
	return r, true, nil
}

func (s *RedisStore) History(ctx context.Context, clientID, deviceID string) ([]Reading, error) {
	return s.history(ctx, s.key(clientID, deviceID))
}

func (s *RedisStore) history(ctx context.Context, key string) ([]Reading, error) {
	members, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	out := make([]Reading, 0, len(members))
	for _, m := range members {
		r, err := decodeMember(m)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) All(ctx context.Context, clientID string) ([]Reading, error) {
	match := escapeGlob(s.prefix+url.QueryEscape(clientID)+":") + "*"

	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan device keys: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	out := []Reading{}
	for _, key := range keys {
		rs, err := s.history(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, clientID, deviceID string) error {
	n, err := s.client.Del(ctx, s.key(clientID, deviceID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete readings: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeMember(m string) (Reading, error) {
	if len(m) < memberHeaderLen {
		return Reading{}, fmt.Errorf("failed to decode stored reading: short member")
	}
	var r Reading
	if err := json.Unmarshal([]byte(m[memberHeaderLen:]), &r); err != nil {
		return Reading{}, fmt.Errorf("failed to decode stored reading: %w", err)
	}
	return r, nil
}

// escapeGlob quotes the SCAN MATCH metacharacters in s
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
