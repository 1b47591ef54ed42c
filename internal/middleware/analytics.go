package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// AnalyticsMiddleware records per-endpoint usage counters in Redis for the
// diagnostics surface. Counting happens after the handler so the status
// code is known; failures are ignored, analytics never block a request.
func AnalyticsMiddleware(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if rdb == nil {
			return err
		}

		ctx := context.Background()
		day := time.Now().Format("2006-01-02")
		endpoint := c.Route().Path
		status := c.Response().StatusCode()

		keyEndpoint := fmt.Sprintf("stats:endpoint:%s:%s", day, endpoint)
		keyStatus := fmt.Sprintf("stats:status:%s:%d", day, status)

		pipe := rdb.Pipeline()
		pipe.Incr(ctx, keyEndpoint)
		pipe.Incr(ctx, keyStatus)
		pipe.Expire(ctx, keyEndpoint, 8*24*time.Hour)
		pipe.Expire(ctx, keyStatus, 8*24*time.Hour)
		_, _ = pipe.Exec(ctx)

		return err
	}
}

// EndpointStats returns today's per-endpoint counters
func EndpointStats(ctx context.Context, rdb *redis.Client, endpoints []string) map[string]int64 {
	out := make(map[string]int64, len(endpoints))
	if rdb == nil {
		return out
	}

	day := time.Now().Format("2006-01-02")
	for _, ep := range endpoints {
		val, err := rdb.Get(ctx, fmt.Sprintf("stats:endpoint:%s:%s", day, ep)).Int64()
		if err == nil {
			out[ep] = val
		}
	}
	return out
}
