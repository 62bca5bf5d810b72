package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "portfolio-oracle/errors"
)

const SessionCookieName = "oracle_session"
const SessionHeader = "X-Session-ID"
const CookieMaxAge = 30 * 24 * 60 * 60 // 30 days

const maxSessionIDLength = 128

const (
	sessionKey = "sessionID"
	loggerKey  = "logger"
)

// SessionMiddleware resolves the opaque client session token from the
// X-Session-ID header or the session cookie, minting one when neither is
// present.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := strings.TrimSpace(c.GetHeader(SessionHeader))
		if sessionID == "" {
			if cookie, err := c.Cookie(SessionCookieName); err == nil {
				sessionID = strings.TrimSpace(cookie)
			}
		}

		if len(sessionID) > maxSessionIDLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
			return
		}

		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		c.SetCookie(SessionCookieName, sessionID, CookieMaxAge, "/", "", false, true)
		c.Header(SessionHeader, sessionID)

		c.Set(sessionKey, sessionID)
		c.Next()
	}
}

// SessionID returns the session resolved by SessionMiddleware.
func SessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}

// LoggerMiddleware stores the logger on the request context.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(loggerKey, logger)
		c.Next()
	}
}

// ContextLogger returns the logger set by LoggerMiddleware, or nil.
func ContextLogger(c *gin.Context) *zap.Logger {
	logger, _ := c.Get(loggerKey)
	zapLogger, _ := logger.(*zap.Logger)
	return zapLogger
}

// AdminMiddleware requires "Authorization: Bearer <token>". An empty
// configured token disables the admin routes entirely.
func AdminMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access is not configured"})
			return
		}
		if err := checkBearer(token, c.GetHeader("Authorization")); apperrors.IsUnauthorized(err) {
			if logger := ContextLogger(c); logger != nil {
				logger.Warn("Rejected admin request",
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
					zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// checkBearer compares the bearer credential in header against token in
// constant time.
func checkBearer(token, header string) error {
	supplied, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return apperrors.WrapError(apperrors.ErrUnauthorized, "missing bearer credential")
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(supplied)), []byte(token)) != 1 {
		return apperrors.WrapError(apperrors.ErrUnauthorized, "bearer credential mismatch")
	}
	return nil
}
