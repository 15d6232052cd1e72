package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

// StatusCache holds rendered simulation-status payloads for polling clients.
// Every writer to a scan record invalidates its entry; the entry is how
// pollers avoid hammering the database at their 2-3s cadence, not a source
// of truth.
type StatusCache interface {
	Get(ctx context.Context, scanID uuid.UUID) ([]byte, bool)
	Set(ctx context.Context, scanID uuid.UUID, payload []byte, ttl time.Duration)
	Invalidate(ctx context.Context, scanID uuid.UUID)
	Close() error
}

type statusCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewStatusCache connects to Redis, or returns a no-op cache when
// REDIS_ADDR is unset (local/dev installs without Redis).
func NewStatusCache(log *logger.Logger) (StatusCache, error) {
	slog := log.With("service", "StatusCache")

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		slog.Warn("REDIS_ADDR not set; simulation status cache disabled")
		return noopStatusCache{}, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &statusCache{log: slog, rdb: rdb}, nil
}

func statusKey(scanID uuid.UUID) string {
	return "scan:simulation_status:" + scanID.String()
}

func (c *statusCache) Get(ctx context.Context, scanID uuid.UUID) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, statusKey(scanID)).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (c *statusCache) Set(ctx context.Context, scanID uuid.UUID, payload []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, statusKey(scanID), payload, ttl).Err(); err != nil {
		c.log.Warn("status cache set failed", "scan_id", scanID.String(), "error", err)
	}
}

func (c *statusCache) Invalidate(ctx context.Context, scanID uuid.UUID) {
	if err := c.rdb.Del(ctx, statusKey(scanID)).Err(); err != nil {
		c.log.Warn("status cache invalidate failed", "scan_id", scanID.String(), "error", err)
	}
}

func (c *statusCache) Close() error {
	return c.rdb.Close()
}

type noopStatusCache struct{}

func (noopStatusCache) Get(context.Context, uuid.UUID) ([]byte, bool) { return nil, false }
func (noopStatusCache) Set(context.Context, uuid.UUID, []byte, time.Duration) {}
func (noopStatusCache) Invalidate(context.Context, uuid.UUID) {}
func (noopStatusCache) Close() error                          { return nil }
