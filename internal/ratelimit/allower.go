package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-groupbuy/internal/common"
)

// Allower decides whether an event for key fits within max per window.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// Fixed adapts a ulule limiter store to Allower using fixed windows.
type Fixed struct {
	Store limiter.Store
}

// NewMemoryFixed returns a Fixed limiter that keeps counters in process memory.
func NewMemoryFixed(prefix string) Fixed {
	return Fixed{Store: memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute})}
}

// NewRedisFixed returns a Fixed limiter sharing counters through Redis.
func NewRedisFixed(rdb *redis.Client, prefix string) (Fixed, error) {
	if rdb == nil {
		return Fixed{}, errors.New("ratelimit: redis client is required")
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return Fixed{}, err
	}
	return Fixed{Store: store}, nil
}

// Allow implements Allower.
func (f Fixed) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if f.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := limiter.New(f.Store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}

// ParseRate parses a "<limit>-<period>" rate such as "20-S" or "100-M".
func ParseRate(formatted string) (window time.Duration, max int, err error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return 0, 0, err
	}
	return rate.Period, int(rate.Limit), nil
}

// KeyByContributor keys requests by the authenticated contributor, falling
// back to the client address.
func KeyByContributor(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := common.UserID(r.Context()); ok && id != "" {
			return prefix + "c:" + id
		}
		return prefix + "ip:" + common.ClientIP(r)
	}
}
