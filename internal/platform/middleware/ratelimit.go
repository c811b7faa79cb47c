package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// limiterStore holds one token bucket per client key.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      RateLimitConfig
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)
		s.limiters[key] = lim
	}
	return lim
}

// RateLimit returns a rate limiting middleware keyed on the client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := store.get(c.RealIP())

			if !lim.Allow() {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(lim, cfg)))
				c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			return next(c)
		}
	}
}

// retryAfterSeconds estimates how long the client should wait before the
// next token becomes available. Always at least one second.
func retryAfterSeconds(lim *rate.Limiter, cfg RateLimitConfig) int {
	if cfg.RequestsPerSecond <= 0 {
		return 1
	}
	res := lim.Reserve()
	defer res.Cancel()
	secs := int(math.Ceil(res.Delay().Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
