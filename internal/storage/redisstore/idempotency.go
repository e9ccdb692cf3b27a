package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-faster/errors"
	redis "github.com/redis/go-redis/v9"

	"github.com/xenking/bundle-pricing/internal/domain/order"
)

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore maps idempotency keys to placed orders.
//
// A key holds "<fingerprint>:<order id>"; the order id is empty until
// Complete. Keys expire after the store TTL.
type IdempotencyStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewIdempotencyStore creates an IdempotencyStore whose keys live for ttl.
func NewIdempotencyStore(client redis.Cmdable, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "idem:order:" + hex.EncodeToString(sum[:])
}

func encodeRecord(rec order.IdempotencyRecord) string {
	return rec.Fingerprint + ":" + rec.OrderID
}

func decodeRecord(v string) (order.IdempotencyRecord, error) {
	fp, id, ok := strings.Cut(v, ":")
	if !ok {
		return order.IdempotencyRecord{}, errors.New("malformed idempotency record")
	}
	return order.IdempotencyRecord{Fingerprint: fp, OrderID: id}, nil
}

// Claim implements order.IdempotencyStore.
func (s *IdempotencyStore) Claim(ctx context.Context, key, fingerprint string) (order.IdempotencyRecord, bool, error) {
	k := hashKey(key)
	pending := encodeRecord(order.IdempotencyRecord{Fingerprint: fingerprint})
	ok, err := s.client.SetNX(ctx, k, pending, s.ttl).Result()
	if err != nil {
		return order.IdempotencyRecord{}, false, errors.Wrap(err, "setnx")
	}
	if ok {
		return order.IdempotencyRecord{}, true, nil
	}

	v, err := s.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET; report in progress and let the
		// client retry.
		return order.IdempotencyRecord{Fingerprint: fingerprint}, false, nil
	case err != nil:
		return order.IdempotencyRecord{}, false, errors.Wrap(err, "get")
	}
	rec, err := decodeRecord(v)
	if err != nil {
		return order.IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

// Complete implements order.IdempotencyStore.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, rec order.IdempotencyRecord) error {
	return errors.Wrap(s.client.Set(ctx, hashKey(key), encodeRecord(rec), s.ttl).Err(), "set")
}

// Release implements order.IdempotencyStore.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return errors.Wrap(s.client.Del(ctx, hashKey(key)).Err(), "del")
}
