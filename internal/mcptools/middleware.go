package mcptools

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned to the client when a method's token bucket
// is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// LoggingMiddleware logs every incoming request with its duration. Failed
// requests are logged at warn level.
func LoggingMiddleware(logger *zap.Logger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			start := time.Now()
			res, err := next(ctx, method, req)

			fields := []zap.Field{
				zap.String("method", method),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("request handled", fields...)
			}
			return res, err
		}
	}
}

// RateLimitMiddleware rejects requests for a method once its limiter has
// no tokens left. Methods without a limiter pass through.
func RateLimitMiddleware(limiters map[string]*rate.Limiter) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if limiter, ok := limiters[method]; ok && !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, method, req)
		}
	}
}
