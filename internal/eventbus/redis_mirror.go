package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/slidemanager/backend-daemon/internal/logger"
)

// RedisMirror publishes every event frame to a Redis pub/sub channel so an
// out-of-process observer (a dashboard, a second UI instance) can watch
// job activity without talking to the control API. It is entirely
// optional: NewRedisMirror only succeeds if REDIS_ADDR resolves and pings.
type RedisMirror struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisMirror connects to addr and verifies it is reachable. Callers
// should treat a non-nil error as "run without the mirror", not as fatal.
func NewRedisMirror(addr, channel string, log *logger.Logger) (*RedisMirror, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis mirror: no address configured")
	}
	if channel == "" {
		channel = "sse"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis mirror ping: %w", err)
	}
	return &RedisMirror{log: log.With("component", "RedisMirror"), rdb: rdb, channel: channel}, nil
}

func (m *RedisMirror) Publish(ctx context.Context, frame Frame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return m.rdb.Publish(ctx, m.channel, raw).Err()
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
