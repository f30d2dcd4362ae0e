package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`

const deleteSessionScript = `
local deleted = redis.call("DEL", KEYS[1])
if redis.call("GET", KEYS[2]) == ARGV[1] then
  redis.call("DEL", KEYS[2])
end
return deleted
`

var (
	createSessionLua = redis.NewScript(createSessionScript)
	deleteSessionLua = redis.NewScript(deleteSessionScript)
)

// RedisSessionRegistry keeps one key per account and one per token, both
// expiring with the session. The account key is the uniqueness guard.
// Every script declares the keys it touches, but the account and token keys
// hash to different slots, so a single-node (or sentinel) server is
// required; Redis Cluster is not supported.
type RedisSessionRegistry struct {
	rdb     redis.UniversalClient
	prefix  string
	nowFunc func() time.Time
}

type redisSession struct {
	ID        string    `json:"id"`
	AccountID int64     `json:"account_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewRedisSessionRegistry(rdb redis.UniversalClient, prefix string) (*RedisSessionRegistry, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = "authgate"
	}
	return &RedisSessionRegistry{rdb: rdb, prefix: prefix, nowFunc: time.Now}, nil
}

func (r *RedisSessionRegistry) accountKey(id int64) string {
	return r.prefix + ":sess:acct:" + strconv.FormatInt(id, 10)
}

func (r *RedisSessionRegistry) tokenPrefix() string {
	return r.prefix + ":sess:tok:"
}

func (r *RedisSessionRegistry) Create(ctx context.Context, s Session) error {
	ttl := s.ExpiresAt.Sub(r.nowFunc())
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	blob, err := json.Marshal(redisSession{
		ID:        s.ID,
		AccountID: s.AccountID,
		Role:      s.Role,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	keys := []string{r.accountKey(s.AccountID), r.tokenPrefix() + s.TokenHash}
	created, err := createSessionLua.Run(ctx, r.rdb, keys, s.TokenHash, blob, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if created == 0 {
		return ErrSessionAlreadyActive
	}
	return nil
}

func (r *RedisSessionRegistry) Get(ctx context.Context, tokenHash string) (Session, error) {
	blob, err := r.rdb.Get(ctx, r.tokenPrefix()+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	var rs redisSession
	if err := json.Unmarshal(blob, &rs); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if !r.nowFunc().Before(rs.ExpiresAt) {
		_ = r.Delete(ctx, tokenHash)
		return Session{}, ErrSessionNotFound
	}
	return Session{
		ID:        rs.ID,
		TokenHash: tokenHash,
		AccountID: rs.AccountID,
		Role:      rs.Role,
		CreatedAt: rs.CreatedAt,
		ExpiresAt: rs.ExpiresAt,
	}, nil
}

func (r *RedisSessionRegistry) Delete(ctx context.Context, tokenHash string) error {
	blob, err := r.rdb.Get(ctx, r.tokenPrefix()+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}
	var rs redisSession
	if err := json.Unmarshal(blob, &rs); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}

	keys := []string{r.tokenPrefix() + tokenHash, r.accountKey(rs.AccountID)}
	deleted, err := deleteSessionLua.Run(ctx, r.rdb, keys, tokenHash).Int()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if deleted == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisSessionRegistry) DeleteByAccount(ctx context.Context, accountID int64) error {
	acctKey := r.accountKey(accountID)
	tokenHash, err := r.rdb.Get(ctx, acctKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("get account session: %w", err)
	}

	keys := []string{r.tokenPrefix() + tokenHash, acctKey}
	if err := deleteSessionLua.Run(ctx, r.rdb, keys, tokenHash).Err(); err != nil {
		return fmt.Errorf("delete account session: %w", err)
	}
	return nil
}
