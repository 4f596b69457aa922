package cluster

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/config"
)

// redisLocator keeps the client->node map in Redis so every node process in
// the cluster shares one view. Entries carry a TTL; a client that never
// re-registers eventually ages out.
type redisLocator struct {
	logger *zap.Logger
	client *redis.Client
	cfg    config.DirectoryRedisConfig
}

var _ ClientLocator = (*redisLocator)(nil)

func newRedisLocator(logger *zap.Logger, cfg config.DirectoryRedisConfig) (*redisLocator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisLocator{
		logger: logger.Named("cluster.locator.redis"),
		client: client,
		cfg:    cfg,
	}, nil
}

func (l *redisLocator) key(clientID string) string {
	return l.cfg.Prefix + ":client:" + clientID
}

func (l *redisLocator) Register(ctx context.Context, clientID, nodeID string) error {
	return l.client.Set(ctx, l.key(clientID), nodeID, l.cfg.TTL).Err()
}

func (l *redisLocator) Locate(ctx context.Context, clientID string) (string, bool, error) {
	nodeID, err := l.client.Get(ctx, l.key(clientID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return nodeID, true, nil
}

func (l *redisLocator) Remove(ctx context.Context, clientID string) error {
	return l.client.Del(ctx, l.key(clientID)).Err()
}

// Close releases the underlying Redis client.
func (l *redisLocator) Close() error {
	return l.client.Close()
}
