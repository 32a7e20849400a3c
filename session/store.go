package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound is returned when no record exists for a session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked is returned when the target session was revoked.
	// Revocation is terminal; the record stays revoked until expiry.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionExpired is returned when the refresh chain's absolute
	// lifetime has elapsed.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshHashMismatch is returned when a presented refresh digest does
	// not match the stored one. The session has already been revoked by the
	// time callers see this error.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	// ErrSessionCorrupt is returned when a stored record fails decoding.
	ErrSessionCorrupt = errors.New("session record corrupt")
	// ErrRedisUnavailable wraps transport-level Redis failures. Callers should
	// treat it as retryable, not as an authentication failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusMismatch int64 = 3
	rotateStatusRotated  int64 = 4
	rotateStatusCorrupt  int64 = 5
)

// rotateScript is the atomic check-and-swap at the core of refresh rotation.
// It runs inside Redis so that two concurrent rotations presenting the same
// valid digest resolve to exactly one winner. A digest mismatch revokes the
// session in the same script execution (reuse defense).
const rotateScript = `
local key = KEYS[1]
local count_key = KEYS[2]
local provided = ARGV[1]
local next_hash = ARGV[2]
local now = tonumber(ARGV[3])

if redis.call("EXISTS", key) == 0 then
  return {0}
end
if redis.call("HGET", key, "revoked") == "1" then
  return {1}
end
local expires = tonumber(redis.call("HGET", key, "expires_at") or "0")
if expires <= now then
  return {2}
end
local current = redis.call("HGET", key, "refresh_sha")
if not current then
  return {5}
end
if current ~= provided then
  redis.call("HSET", key, "revoked", "1")
  local c = tonumber(redis.call("GET", count_key) or "0")
  if c > 0 then
    redis.call("DECR", count_key)
  end
  return {3}
end
redis.call("HSET", key, "refresh_sha", next_hash)
redis.call("HSET", key, "rotated_at", ARGV[3])
return {4,
  redis.call("HGET", key, "user_id"),
  redis.call("HGET", key, "role"),
  redis.call("HGET", key, "device"),
  redis.call("HGET", key, "issued_at"),
  redis.call("HGET", key, "expires_at")}
`

var rotateLua = redis.NewScript(rotateScript)

const revokeScript = `
local key = KEYS[1]
local count_key = KEYS[2]
if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "revoked") == "1" then
  return 1
end
redis.call("HSET", key, "revoked", "1")
local c = tonumber(redis.call("GET", count_key) or "0")
if c > 0 then
  redis.call("DECR", count_key)
end
return 2
`

var revokeLua = redis.NewScript(revokeScript)

// Store is the Redis-backed session registry.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a registry using the given Redis client. prefix namespaces
// every key this store touches.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ac"
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + ":sess:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":user:" + userID
}

func (s *Store) indexKey() string {
	return s.prefix + ":index"
}

func (s *Store) countKey() string {
	return s.prefix + ":active"
}

// Create persists a new session record. The key TTL equals the refresh
// chain's absolute lifetime, so expired records self-collect without a
// cleanup job.
func (s *Store) Create(ctx context.Context, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}

	key := s.sessionKey(sess.SessionID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, sess.fields())
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		pipe.SAdd(ctx, s.indexKey(), sess.SessionID)
		pipe.Incr(ctx, s.countKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session record by ID without touching its rotation state.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	m, err := s.redis.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return sessionFromMap(sessionID, m)
}

// Rotate atomically swaps the stored refresh digest: if providedDigest matches
// the current one, nextDigest replaces it and the refreshed session is
// returned. A mismatch means an already-rotated token was replayed; the
// session is revoked inside the same script and ErrRefreshHashMismatch is
// returned. Exactly one of any number of concurrent Rotate calls presenting
// the same valid digest can succeed.
func (s *Store) Rotate(ctx context.Context, sessionID, providedDigest, nextDigest string, now time.Time) (*Session, error) {
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID), s.countKey()},
		providedDigest, nextDigest, strconv.FormatInt(now.Unix(), 10),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, ErrSessionCorrupt
	}
	status, ok := reply[0].(int64)
	if !ok {
		return nil, ErrSessionCorrupt
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrSessionNotFound
	case rotateStatusRevoked:
		return nil, ErrSessionRevoked
	case rotateStatusExpired:
		return nil, ErrSessionExpired
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusCorrupt:
		return nil, ErrSessionCorrupt
	case rotateStatusRotated:
		if len(reply) != 6 {
			return nil, ErrSessionCorrupt
		}
		return sessionFromMap(sessionID, map[string]string{
			fieldUserID:    luaString(reply[1]),
			fieldRole:      luaString(reply[2]),
			fieldDevice:    luaString(reply[3]),
			fieldDigest:    nextDigest,
			fieldIssuedAt:  luaString(reply[4]),
			fieldRotatedAt: strconv.FormatInt(now.Unix(), 10),
			fieldExpiresAt: luaString(reply[5]),
			fieldRevoked:   "0",
		})
	default:
		return nil, ErrSessionCorrupt
	}
}

// Revoke marks a session revoked. Idempotent and commutative: revoking a
// missing or already-revoked session is a no-op success. The returned bool
// reports whether this call performed the transition.
func (s *Store) Revoke(ctx context.Context, sessionID string) (bool, error) {
	res, err := revokeLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID), s.countKey()},
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 2, nil
}

// RevokeAllForUser revokes every session of one user (administrative
// force-logout). Returns the number of sessions transitioned by this call.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, sessionID := range sessionIDs {
		transitioned, err := s.Revoke(ctx, sessionID)
		if err != nil {
			return revoked, err
		}
		if transitioned {
			revoked++
		}
	}
	return revoked, nil
}

// ListByUser returns the user's active sessions: not revoked and not past
// their absolute expiry. Stale index entries for keys Redis already collected
// are pruned opportunistically.
func (s *Store) ListByUser(ctx context.Context, userID string, now time.Time) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.collectActive(ctx, s.userKey(userID), ids, now)
}

// ListAll returns every active session system-wide, for the admin sessions
// view.
func (s *Store) ListAll(ctx context.Context, now time.Time) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.collectActive(ctx, s.indexKey(), ids, now)
}

func (s *Store) collectActive(ctx context.Context, setKey string, ids []string, now time.Time) ([]*Session, error) {
	sessions := make([]*Session, 0, len(ids))
	var stale []interface{}

	for _, sessionID := range ids {
		m, err := s.redis.HGetAll(ctx, s.sessionKey(sessionID)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(m) == 0 {
			stale = append(stale, sessionID)
			continue
		}
		sess, err := sessionFromMap(sessionID, m)
		if err != nil {
			stale = append(stale, sessionID)
			continue
		}
		if !sess.Active(now) {
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return sessions, nil
}

// ActiveCount reports the tracked number of live (created minus revoked)
// sessions. Sessions that lapse by TTL without an explicit revoke are not
// subtracted until their keys disappear; the counter is an operational gauge,
// not a billing source.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	count, err := s.redis.Get(ctx, s.countKey()).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

func luaString(v interface{}) string {
	s, _ := v.(string)
	return s
}
