package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limit types
const (
	LimitMessage = "message"
	LimitUpload  = "upload"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	MessagesPerMinute int           // Max questions per session per minute
	UploadsPerHour    int           // Max document uploads per session per hour
	BurstSize         int           // Allow burst of N requests
	CleanupInterval   time.Duration // How often to clean up old entries
	MaxTracked        int           // Sessions tracked before idle entries are dropped
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SessionRateLimiter manages rate limits per session
type SessionRateLimiter struct {
	config  RateLimiterConfig
	buckets map[string]map[string]*limiterEntry
	mu      sync.Mutex
	logger  *zap.Logger
	stop    chan struct{}
	once    sync.Once
}

// NewSessionRateLimiter creates a new session-based rate limiter
func NewSessionRateLimiter(config RateLimiterConfig, logger *zap.Logger) *SessionRateLimiter {
	if config.MessagesPerMinute <= 0 {
		config.MessagesPerMinute = 20
	}
	if config.UploadsPerHour <= 0 {
		config.UploadsPerHour = 30
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 5
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	if config.MaxTracked <= 0 {
		config.MaxTracked = 1000
	}

	limiter := &SessionRateLimiter{
		config: config,
		buckets: map[string]map[string]*limiterEntry{
			LimitMessage: {},
			LimitUpload:  {},
		},
		logger: logger,
		stop:   make(chan struct{}),
	}

	// Start cleanup goroutine
	go limiter.cleanupRoutine()

	return limiter
}

// cleanupRoutine periodically removes stale entries
func (srl *SessionRateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(srl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			srl.cleanup(time.Now())
		case <-srl.stop:
			return
		}
	}
}

// cleanup drops limiters idle for a full cleanup interval once too many
// sessions are tracked.
func (srl *SessionRateLimiter) cleanup(now time.Time) {
	srl.mu.Lock()
	defer srl.mu.Unlock()

	for kind, entries := range srl.buckets {
		if len(entries) <= srl.config.MaxTracked {
			continue
		}
		before := len(entries)
		for key, e := range entries {
			if now.Sub(e.lastSeen) > srl.config.CleanupInterval {
				delete(entries, key)
			}
		}
		srl.logger.Info("Cleaned up rate limiter cache",
			zap.String("limit_type", kind),
			zap.Int("before", before),
			zap.Int("after", len(entries)))
	}
}

// Stop stops the cleanup routine
func (srl *SessionRateLimiter) Stop() {
	srl.once.Do(func() { close(srl.stop) })
}

func (srl *SessionRateLimiter) limiterFor(kind, sessionID string) *rate.Limiter {
	srl.mu.Lock()
	defer srl.mu.Unlock()

	entries := srl.buckets[kind]
	e, ok := entries[sessionID]
	if !ok {
		e = &limiterEntry{limiter: srl.newLimiter(kind)}
		entries[sessionID] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (srl *SessionRateLimiter) newLimiter(kind string) *rate.Limiter {
	if kind == LimitUpload {
		return rate.NewLimiter(rate.Limit(float64(srl.config.UploadsPerHour)/3600.0), srl.config.UploadsPerHour)
	}
	return rate.NewLimiter(rate.Limit(float64(srl.config.MessagesPerMinute)/60.0), srl.config.BurstSize)
}

// Allow checks if a request of the given kind can proceed for the session.
func (srl *SessionRateLimiter) Allow(kind, sessionID string) bool {
	return srl.limiterFor(kind, sessionID).Allow()
}

// Remaining returns the tokens left for a session and the bucket size.
func (srl *SessionRateLimiter) Remaining(kind, sessionID string) (remaining int, limit int) {
	l := srl.limiterFor(kind, sessionID)
	return max(int(l.Tokens()), 0), l.Burst()
}

// RateLimitMiddleware creates a Gin middleware for rate limiting
func RateLimitMiddleware(limiter *SessionRateLimiter, limitType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := SessionID(c)
		if sessionID == "" {
			// Session middleware should run before this
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session not initialized"})
			return
		}

		allowed := limiter.Allow(limitType, sessionID)
		remaining, limit := limiter.Remaining(limitType, sessionID)

		// Add rate limit headers
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			if logger := ContextLogger(c); logger != nil {
				logger.Warn("Rate limit exceeded",
					zap.String("session_id", sessionID),
					zap.String("limit_type", limitType),
					zap.Int("limit", limit))
			}

			c.Header("Retry-After", "60") // Suggest retry after 60 seconds
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "The Oracle needs a moment to gather her thoughts. Please slow down.",
				"limit":       limit,
				"remaining":   remaining,
				"retry_after": 60,
			})
			return
		}

		c.Next()
	}
}
