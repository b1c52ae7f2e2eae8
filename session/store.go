package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every transport-level store failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	touchStatusMissing int64 = 0
	touchStatusTouched int64 = 1
)

const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "expires_at", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`

var touchLua = redis.NewScript(touchScript)

const bindScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid or uid == "" then
  return 1
end
redis.call("HSET", KEYS[1], "sid", ARGV[1])
redis.call("HSETNX", KEYS[1], ARGV[2], ARGV[3])
return 2
`

var bindLua = redis.NewScript(bindScript)

const deleteScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
local existed = redis.call("DEL", KEYS[1])
if uid and uid ~= "" then
  redis.call("SREM", ARGV[2] .. uid, ARGV[1])
end
return existed
`

var deleteLua = redis.NewScript(deleteScript)

// Store is a Redis-backed session store. It holds no per-session state of its own, so any
// number of processes may share one Redis deployment.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithClock sets the time source Load compares expires_at against. The engine passes its own
// clock so record expiry and rolling refresh agree on the current time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a session [Store] backed by the given Redis client. prefix sets the Redis
// key namespace.
func NewStore(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	s := &Store{
		redis:  client,
		prefix: prefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKeyPrefix() string {
	return s.prefix + "u:"
}

func (s *Store) userKey(userUUID string) string {
	return s.userKeyPrefix() + userUUID
}

// Create writes a new record and its TTL in one MULTI block. Authenticated records are also
// added to the per-user index. The index carries no TTL: a rolling session can outlive any
// fixed window, so stale ids are removed by Delete and pruned by DeleteAllForUser instead.
//
//	Performance: 1 round-trip (MULTI DEL HSET PEXPIRE [SADD] EXEC).
func (s *Store) Create(ctx context.Context, sess *Session, ttl time.Duration) error {
	fields, err := encodeFields(sess)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}

	key := s.key(sess.SessionID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields...)
		pipe.PExpire(ctx, key, ttl)
		if sess.UserUUID != "" {
			pipe.SAdd(ctx, s.userKey(sess.UserUUID), sess.SessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Load reads a record. The result is tagged: OutcomeFound with Session set, OutcomeNotFound
// for absent or expired records, OutcomeUnavailable with Err set for anything else.
//
//	Performance: 1 Redis HGETALL.
func (s *Store) Load(ctx context.Context, sessionID string) Lookup {
	if sessionID == "" {
		return Lookup{Outcome: OutcomeNotFound}
	}

	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Lookup{Outcome: OutcomeNotFound}
		}
		return Lookup{Outcome: OutcomeUnavailable, Err: fmt.Errorf("%w: %v", ErrRedisUnavailable, err)}
	}
	if len(fields) == 0 {
		return Lookup{Outcome: OutcomeNotFound}
	}

	sess, err := decodeFields(sessionID, fields)
	if err != nil {
		return Lookup{Outcome: OutcomeUnavailable, Err: err}
	}
	if s.now().Unix() >= sess.ExpiresAt {
		return Lookup{Outcome: OutcomeNotFound}
	}

	return Lookup{Outcome: OutcomeFound, Session: sess}
}

// Touch moves the rolling expiry of an existing record. It writes only expires_at and the key
// TTL, so it cannot discard a concurrent connection bind. Returns false when the record no
// longer exists; a deleted record is never recreated.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Touch(ctx context.Context, sessionID string, expiresAt int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}

	status, err := touchLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		strconv.FormatInt(expiresAt, 10),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch status {
	case touchStatusTouched:
		return true, nil
	case touchStatusMissing:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown touch script status", ErrRedisUnavailable)
	}
}

// BindConnection adds connectionID to the record's connection set. The script refuses to bind
// to a missing or anonymous session. Binding the same id twice leaves the record unchanged.
//
//	Performance: 1 Lua EVALSHA.
//	Security: the user check and the write happen atomically inside Redis.
func (s *Store) BindConnection(ctx context.Context, sessionID, connectionID string, boundAt time.Time) (BindStatus, error) {
	if connectionID == "" {
		return BindNotFound, errors.New("empty connection id")
	}

	status, err := bindLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		connectionField(connectionID),
		strconv.FormatInt(boundAt.Unix(), 10),
	).Int64()
	if err != nil {
		return BindNotFound, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch BindStatus(status) {
	case BindNotFound, BindNoUser, BindBound:
		return BindStatus(status), nil
	default:
		return BindNotFound, fmt.Errorf("%w: unknown bind script status", ErrRedisUnavailable)
	}
}

// UnbindConnection removes connectionID from the record. The record itself is kept, and a
// missing record stays missing.
//
//	Performance: 1 Redis HDEL.
func (s *Store) UnbindConnection(ctx context.Context, sessionID, connectionID string) error {
	if err := s.redis.HDel(ctx, s.key(sessionID), connectionField(connectionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes a record and its user index entry. Deleting a missing record is not an error.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	existed, err := deleteLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.userKeyPrefix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// DeleteAllForUser removes every indexed session of a user and returns how many records
// existed.
//
// ATOMICITY NOTE: the index is read before the MULTI block, so a session created between the
// read and the delete survives. It is caught by the next call or by its TTL.
func (s *Store) DeleteAllForUser(ctx context.Context, userUUID string) (int, error) {
	userKey := s.userKey(userUUID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessionKeys := make([]string, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		sessionKeys = append(sessionKeys, s.key(sessionID))
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(sessionKeys) > 0 {
			deleted = pipe.Del(ctx, sessionKeys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if deleted == nil {
		return 0, nil
	}

	return int(deleted.Val()), nil
}

// ActiveSessionIDs returns the indexed session ids of a user. Entries may refer to records that
// already expired.
func (s *Store) ActiveSessionIDs(ctx context.Context, userUUID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userUUID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
