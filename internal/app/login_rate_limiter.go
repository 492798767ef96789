package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var loginRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// LoginRateLimiter throttles login attempts per phone number using a fixed
// one-minute window in Redis. A nil limiter, or one with a non-positive
// limit, allows everything.
type LoginRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
}

// NewLoginRateLimiter creates a limiter allowing `limit` attempts per phone
// per minute.
func NewLoginRateLimiter(client redis.UniversalClient, prefix string, limit int) *LoginRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "wallet:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &LoginRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
	}
}

// Allow reports whether another login attempt for the phone is permitted
// within the current window.
func (l *LoginRateLimiter) Allow(ctx context.Context, phone string) (bool, error) {
	if l == nil || l.client == nil || l.limit <= 0 {
		return true, nil
	}
	subject := strings.TrimSpace(phone)
	if subject == "" {
		return true, nil
	}

	key := fmt.Sprintf("%s:login:%s", l.prefix, subject)
	windowMs := time.Minute.Milliseconds()
	count, err := loginRateLimitScript.Run(ctx, l.client, []string{key}, windowMs).Int64()
	if err != nil {
		return false, err
	}
	return count <= int64(l.limit), nil
}
