package checkin

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Roster is a fast-path cache of who already checked in on a given day.
// It only produces friendly early rejections; the ledger's uniqueness
// constraint stays the enforcer, so a stale or unavailable roster is
// harmless.
type Roster interface {
	CheckedIn(ctx context.Context, identityID int64, dayKey string) bool
	Mark(ctx context.Context, identityID int64, dayKey string) error
}

// RedisRoster keeps one set per day, expired after two days.
type RedisRoster struct {
	client *redis.Client
	prefix string
}

// NewRedisRoster creates a roster on the given client.
func NewRedisRoster(client *redis.Client, prefix string) *RedisRoster {
	if prefix == "" {
		prefix = "gatepass:roster"
	}
	return &RedisRoster{client: client, prefix: prefix}
}

func (r *RedisRoster) key(dayKey string) string { return r.prefix + ":" + dayKey }

// CheckedIn reports membership; errors read as "not checked in" so redis
// outages never block admissions.
func (r *RedisRoster) CheckedIn(ctx context.Context, identityID int64, dayKey string) bool {
	ok, err := r.client.SIsMember(ctx, r.key(dayKey), strconv.FormatInt(identityID, 10)).Result()
	return err == nil && ok
}

// Mark records an admission in the day's set.
func (r *RedisRoster) Mark(ctx context.Context, identityID int64, dayKey string) error {
	key := r.key(dayKey)
	if err := r.client.SAdd(ctx, key, strconv.FormatInt(identityID, 10)).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, 48*time.Hour).Err()
}
