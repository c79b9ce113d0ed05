package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "idem:"
	reserveAttempts    = 3
)

// completeScript marks the caller's pending record completed and attaches the response.
// KEYS[1] = record key, ARGV[1] = token, ARGV[2] = completion JSON, ARGV[3] = ttl millis
var completeScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local record = cjson.decode(raw)
if record.token ~= ARGV[1] or record.status ~= "pending" then
  return 0
end
local done = cjson.decode(ARGV[2])
record.status = "completed"
record.responseStatus = done.responseStatus
record.responseHeaders = done.responseHeaders
record.responseBody = done.responseBody
record.updatedAt = done.updatedAt
record.expiresAt = done.expiresAt
redis.call("SET", KEYS[1], cjson.encode(record), "PX", ARGV[3])
return 1
`)

// releaseScript deletes a pending record held by the caller.
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local record = cjson.decode(raw)
if record.token == ARGV[1] and record.status == "pending" then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// RedisStore implements Store on Redis. Record expiry is delegated to key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps a connected client. prefix namespaces the keys.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + documentID(key)
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rkey := s.redisKey(key)
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		fresh, _, _ := reserve(nil, key, fingerprint, now.UTC(), ttl)
		payload, err := json.Marshal(toRedisRecord(fresh.Record))
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
		}
		created, err := s.client.SetNX(ctx, rkey, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: redis setnx: %w", err)
		}
		if created {
			return fresh, nil
		}

		raw, err := s.client.Get(ctx, rkey).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: redis get: %w", err)
		}
		var stored redisRecord
		if err := json.Unmarshal(raw, &stored); err != nil {
			return Reservation{}, fmt.Errorf("idempotency: decode record: %w", err)
		}
		existing := stored.toRecord()
		reservation, _, err := reserve(&existing, key, fingerprint, now.UTC(), ttl)
		return reservation, err
	}
	return Reservation{}, errors.New("idempotency: redis reservation contended")
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, token string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// the script copies only the response fields onto the stored record
	pending := Record{Key: key, Token: token, Status: StatusPending}
	record, err := complete(&pending, token, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(toRedisRecord(record))
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	swapped, err := completeScript.Run(ctx, s.client, []string{s.redisKey(key)}, token, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("idempotency: redis complete: %w", err)
	}
	if swapped != 1 {
		return ErrReservationLost
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.redisKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis expires keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping implements Pinger.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Token           string              `json:"token"`
	Status          string              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

func toRedisRecord(r Record) redisRecord {
	return redisRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Token:           r.Token,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r redisRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Token:           r.Token,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
