package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/logging"
	"go.uber.org/zap"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
	bearerPrefix    = "Bearer "
)

// Verifier turns a bearer token into a session
type Verifier interface {
	Verify(token string) (auth.Session, error)
}

// RequestID propagates the caller's request id or assigns a new one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog writes one structured line per request
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if sess, ok := auth.FromContext(c.Request.Context()); ok {
			fields = append(fields, zap.String("account_id", sess.AccountID.String()))
		}

		l := logging.WithRequestID(logger, requestID(c))
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Error("http request", fields...)
			return
		}
		l.Info("http request", fields...)
	}
}

// Recovery turns panics into a 500 envelope
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.WithRequestID(logger, requestID(c)).Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
		)
		fail(c, http.StatusInternalServerError, "INTERNAL", "unknown", "internal error")
	})
}

// Authenticate requires a valid bearer token and stores the session in the request context
func Authenticate(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "forbidden", "missing bearer token")
			return
		}

		sess, err := verifier.Verify(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "forbidden", "invalid token")
			return
		}

		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), sess))
		c.Next()
	}
}

// RequireAdmin rejects non-admin sessions before the handler runs
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := auth.FromContext(c.Request.Context()); !ok || !sess.IsAdmin() {
			fail(c, http.StatusForbidden, "FORBIDDEN", "forbidden", "admin role required")
			return
		}
		c.Next()
	}
}

func session(c *gin.Context) auth.Session {
	sess, _ := auth.FromContext(c.Request.Context())
	return sess
}
