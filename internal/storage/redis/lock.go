// Package redis provides a distributed payment.Locker on top of Redis, so that
// concurrent gateway callbacks landing on different replicas serialize on the
// same gateway order id.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/feast/internal/domain/payment"
)

const keyPrefix = "feast:lock:"

// unlockScript deletes the key only while it still holds our token. A lock
// that expired and was taken by another replica is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ payment.Locker = (*Locker)(nil)

// Locker implements payment.Locker with SET NX PX.
type Locker struct {
	rdb redis.UniversalClient
}

// NewLocker returns a Locker that uses the given client.
func NewLocker(rdb redis.UniversalClient) *Locker {
	return &Locker{rdb: rdb}
}

// Lock implements payment.Locker.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "acquire lock")
	}
	if !ok {
		return nil, payment.ErrLocked
	}
	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.rdb, []string{keyPrefix + key}, token).Err(); err != nil {
			return errors.Wrap(err, "release lock")
		}
		return nil
	}, nil
}

// Open parses a redis:// URL and verifies the server answers.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}
