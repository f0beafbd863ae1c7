// Package logging builds the structured logger and the gin middleware that attaches a
// request-scoped logger to every request.
package logging

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-Id"

	maxRequestIDLength = 128

	loggerKey    = "logger"
	requestIDKey = "request_id"
)

// New creates a JSON logger writing to stdout at the given level.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.MessageKey = "message"
	return cfg.Build(zap.AddCaller())
}

// isValidRequestID accepts printable ASCII only, so that a client cannot inject into log lines.
func isValidRequestID(id string) bool {
	if len(id) == 0 || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7E {
			return false
		}
	}
	return true
}

// Middleware assigns a request id, reusing a valid incoming one, and stores a logger carrying that
// id in the gin context. If access is true it also writes one line per completed request.
func Middleware(logger *zap.Logger, access bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if !isValidRequestID(reqID) {
			reqID = xid.New().String()
		}
		c.Header(RequestIDHeader, reqID)
		c.Set(requestIDKey, reqID)
		c.Set(loggerKey, logger.With(zap.String("request_id", reqID)))

		c.Next()

		if access {
			FromContext(c).Info("request completed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.Int("bytes", c.Writer.Size()),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}
}

// Recovery turns a panic in a handler into a logged 500 response.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		FromContext(c).Error("panic while handling request",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stack"),
		)
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// FromContext returns the request-scoped logger, or a no-op logger outside of Middleware.
func FromContext(c *gin.Context) *zap.Logger {
	if l, ok := c.Get(loggerKey); ok {
		if logger, ok := l.(*zap.Logger); ok {
			return logger
		}
	}
	return zap.NewNop()
}

// RequestID returns the id assigned by Middleware.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
