package cache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/altiroute/altiroute_core/internal/models"
	"github.com/redis/go-redis/v9"
)

var (
	client     *redis.Client
	clientOnce sync.Once
	clientErr  error
)

// Config holds Redis configuration
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
	MutexTTL time.Duration
}

// LoadConfigFromEnv loads Redis configuration from environment variables.
// Elevation data changes on geological timescales, so the default TTL is long.
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, _ := time.ParseDuration(getEnv("ELEVATION_CACHE_TTL", "720h"))
	mutexTTL, _ := time.ParseDuration(getEnv("CACHE_MUTEX_TTL", "5s"))

	return &Config{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     port,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       db,
		TTL:      ttl,
		MutexTTL: mutexTTL,
	}
}

// GetClient returns the global Redis client (singleton pattern)
func GetClient() (*redis.Client, error) {
	clientOnce.Do(func() {
		config := LoadConfigFromEnv()

		opts := &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Password:     config.Password,
			DB:           config.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}

		// Enable TLS if configured (required for Upstash)
		if getEnv("REDIS_TLS_ENABLED", "false") == "true" {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		client = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			clientErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}
	})

	return client, clientErr
}

// Close closes the Redis client
func Close() {
	if client != nil {
		client.Close()
	}
}

// ElevationKey generates a cache key for an elevation lookup. Coordinates
// are rounded to 6 decimals (~11 cm) before hashing so equivalent lookups
// share an entry.
func ElevationKey(lat, lng float64, source models.ElevationSource) string {
	data := fmt.Sprintf("%.6f,%.6f", lat, lng)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("elev:%x:%s", hash[:8], source)
}

// LockKey generates a mutex lock key for a lookup in flight
func LockKey(elevationKey string) string {
	return fmt.Sprintf("lock:%s", elevationKey)
}

// ElevationCache is a Redis-backed implementation of the resolver's lookup
// cache, including the lookup dedup lock. All failures degrade to cache
// misses: the resolver must keep working with no Redis at all.
type ElevationCache struct {
	rdb      *redis.Client
	ttl      time.Duration
	mutexTTL time.Duration
}

// NewElevationCache wraps a Redis client as an elevation cache. mutexTTL
// bounds how long a dedup lock can outlive its holder.
func NewElevationCache(rdb *redis.Client, ttl, mutexTTL time.Duration) *ElevationCache {
	return &ElevationCache{rdb: rdb, ttl: ttl, mutexTTL: mutexTTL}
}

// Get retrieves a cached lookup; any Redis error reads as a miss
func (c *ElevationCache) Get(ctx context.Context, lat, lng float64, key models.ElevationSource) (models.CachedElevation, bool) {
	if c == nil || c.rdb == nil {
		return models.CachedElevation{}, false
	}

	data, err := c.rdb.Get(ctx, ElevationKey(lat, lng, key)).Bytes()
	if err == redis.Nil {
		return models.CachedElevation{}, false
	}
	if err != nil {
		log.Printf("Elevation cache read failed: %v", err)
		return models.CachedElevation{}, false
	}

	var value models.CachedElevation
	if err := json.Unmarshal(data, &value); err != nil {
		log.Printf("Elevation cache entry corrupt: %v", err)
		return models.CachedElevation{}, false
	}
	return value, true
}

// Set caches a resolved lookup; errors are logged and dropped
func (c *ElevationCache) Set(ctx context.Context, lat, lng float64, key models.ElevationSource, value models.CachedElevation) {
	if c == nil || c.rdb == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, ElevationKey(lat, lng, key), data, c.ttl).Err(); err != nil {
		log.Printf("Elevation cache write failed: %v", err)
	}
}

// BeginLookup claims the dedup lock for a lookup. Without Redis there is
// nothing to coordinate through, so the caller always proceeds as owner.
func (c *ElevationCache) BeginLookup(ctx context.Context, lat, lng float64, key models.ElevationSource) bool {
	if c == nil || c.rdb == nil {
		return true
	}

	acquired, err := AcquireLock(ctx, c.rdb, LockKey(ElevationKey(lat, lng, key)), c.mutexTTL)
	if err != nil {
		log.Printf("Lookup lock acquire failed: %v", err)
		return true
	}
	return acquired
}

// AwaitLookup waits for the lock holder's result to land in the cache
func (c *ElevationCache) AwaitLookup(ctx context.Context, lat, lng float64, key models.ElevationSource) (models.CachedElevation, bool) {
	if c == nil || c.rdb == nil {
		return models.CachedElevation{}, false
	}

	value, ok, err := WaitForResult(ctx, c.rdb, ElevationKey(lat, lng, key), c.mutexTTL)
	if err != nil {
		log.Printf("Lookup wait failed: %v", err)
		return models.CachedElevation{}, false
	}
	return value, ok
}

// EndLookup releases the dedup lock once the owner has stored its value
func (c *ElevationCache) EndLookup(ctx context.Context, lat, lng float64, key models.ElevationSource) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := ReleaseLock(ctx, c.rdb, LockKey(ElevationKey(lat, lng, key))); err != nil {
		log.Printf("Lookup lock release failed: %v", err)
	}
}

// AcquireLock attempts to acquire a lookup dedup lock
// Returns true if lock was acquired, false if already locked
func AcquireLock(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// ReleaseLock releases a lookup dedup lock
func ReleaseLock(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}

// WaitForResult waits for another in-flight lookup to finish and returns
// its cached value, avoiding a thundering herd of identical provider calls
func WaitForResult(ctx context.Context, rdb *redis.Client, elevationKey string, maxWait time.Duration) (models.CachedElevation, bool, error) {
	lockKey := LockKey(elevationKey)
	deadline := time.Now().Add(maxWait)

	for time.Now().Before(deadline) {
		exists, err := rdb.Exists(ctx, lockKey).Result()
		if err != nil {
			return models.CachedElevation{}, false, err
		}

		if exists == 0 {
			data, err := rdb.Get(ctx, elevationKey).Bytes()
			if err == redis.Nil {
				return models.CachedElevation{}, false, nil
			}
			if err != nil {
				return models.CachedElevation{}, false, err
			}

			var value models.CachedElevation
			if err := json.Unmarshal(data, &value); err != nil {
				return models.CachedElevation{}, false, err
			}
			return value, true, nil
		}

		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return models.CachedElevation{}, false, ctx.Err()
		}
	}

	return models.CachedElevation{}, false, fmt.Errorf("timeout waiting for lookup lock")
}

// HealthCheck performs a health check on the Redis connection
func HealthCheck(ctx context.Context) error {
	rdb, err := GetClient()
	if err != nil {
		return fmt.Errorf("Redis client not initialized: %w", err)
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}

	return nil
}

// Stats returns Redis stats
func Stats(ctx context.Context) (map[string]interface{}, error) {
	rdb, err := GetClient()
	if err != nil {
		return nil, err
	}

	info, err := rdb.Info(ctx, "stats").Result()
	if err != nil {
		return nil, err
	}

	poolStats := rdb.PoolStats()

	return map[string]interface{}{
		"info":        info,
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
