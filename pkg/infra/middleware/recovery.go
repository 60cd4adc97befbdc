// Package middleware provides the gin middlewares installed on the HTTP server.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/response"
)

// RecoveryConfig defines the config for Recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace includes stack trace in error response (for development).
	EnableStackTrace bool

	// OnPanic is called when a panic occurs.
	OnPanic func(c *gin.Context, err any, stack []byte)
}

// Recovery returns a middleware that recovers from panics.
func Recovery() gin.HandlerFunc {
	return RecoveryWithConfig(RecoveryConfig{})
}

// RecoveryWithConfig converts panics into ErrPanic JSON responses.
func RecoveryWithConfig(config RecoveryConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()

				logger.Errorw("Panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"request_id", c.GetString(response.ContextKeyRequestID),
				)
				if config.OnPanic != nil {
					config.OnPanic(c, r, stack)
				}

				msg := fmt.Sprintf("panic: %v", r)
				if config.EnableStackTrace {
					msg = fmt.Sprintf("%s\n%s", msg, stack)
				}
				response.Fail(c, errors.ErrPanic.WithMessage(msg))
			}
		}()
		c.Next()
	}
}
