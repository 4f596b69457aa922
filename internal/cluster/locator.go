package cluster

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/config"
)

// ClientLocator is the client->node location map behind the directory.
type ClientLocator interface {
	Register(ctx context.Context, clientID, nodeID string) error
	Locate(ctx context.Context, clientID string) (nodeID string, ok bool, err error)
	Remove(ctx context.Context, clientID string) error
}

type memoryLocator struct {
	mu sync.RWMutex
	m  map[string]string
}

var _ ClientLocator = (*memoryLocator)(nil)

func newMemoryLocator() *memoryLocator {
	return &memoryLocator{m: make(map[string]string)}
}

func (l *memoryLocator) Register(_ context.Context, clientID, nodeID string) error {
	l.mu.Lock()
	l.m[clientID] = nodeID
	l.mu.Unlock()
	return nil
}

func (l *memoryLocator) Locate(_ context.Context, clientID string) (string, bool, error) {
	l.mu.RLock()
	nodeID, ok := l.m[clientID]
	l.mu.RUnlock()
	return nodeID, ok, nil
}

func (l *memoryLocator) Remove(_ context.Context, clientID string) error {
	l.mu.Lock()
	delete(l.m, clientID)
	l.mu.Unlock()
	return nil
}

// NewClientLocator creates the locator backend selected by configuration.
func NewClientLocator(logger *zap.Logger, cfg *config.DirectoryConfig) (ClientLocator, error) {
	logger.Info("initializing client locator", zap.String("type", cfg.Type))
	switch cfg.Type {
	case "", "memory":
		return newMemoryLocator(), nil
	case "redis":
		return newRedisLocator(logger, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported directory type: %s", cfg.Type)
	}
}
