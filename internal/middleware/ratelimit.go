package middleware

import (
	"sync"

	"mahilo/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-user token bucket. It is advisory and
// in-process: each instance of the registry counts independently, which is
// acceptable for the abuse class it guards against.
type RateLimiter struct {
	perMinute int
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
}

// NewRateLimiter allows perMinute requests per user with a burst of the same
// size.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the user may proceed.
func (l *RateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[userID]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.buckets[userID] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// Handler rejects over-limit requests with 429. Must run after APIKeyAuth.
func (l *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return c.Next()
		}
		if !l.Allow(user.ID) {
			return models.RespondWithAppError(c, models.NewRateLimitedError())
		}
		return c.Next()
	}
}
