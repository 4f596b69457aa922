// Package cluster holds the cross-node coordination pieces: the membership
// directory, highest-random-weight routing and the quorum replicator.
package cluster

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/storage"
)

// NodeInfo is the membership record for one cluster node.
type NodeInfo struct {
	NodeID string `json:"node_id"`
	Weight uint32 `json:"weight"`
	Alive  bool   `json:"alive"`
}

// NodeHandle is the local handle the directory keeps per node. It only
// exists on single-process topologies (tests, embedded clusters); in a real
// deployment a peer is a network endpoint, not an owned object, so the
// directory stores a lookup key rather than the server itself.
type NodeHandle interface {
	NodeID() string
	Store() storage.Store
}

// Directory is the cross-node membership table. Its three maps are locked
// independently so node updates, client-location writes and handle lookups
// never contend with each other.
type Directory struct {
	logger *zap.Logger

	nodesMu sync.RWMutex
	nodes   map[string]NodeInfo
	order   []string // first-seen registration order, for stable iteration

	locator ClientLocator

	serversMu sync.RWMutex
	servers   map[string]NodeHandle
}

// NewDirectory creates a directory with an in-memory client locator.
func NewDirectory(logger *zap.Logger) *Directory {
	return &Directory{
		logger:  logger.Named("cluster.directory"),
		nodes:   make(map[string]NodeInfo),
		locator: newMemoryLocator(),
		servers: make(map[string]NodeHandle),
	}
}

// WithLocator swaps the client-location backend (e.g. the Redis locator so
// several processes share one location map).
func (d *Directory) WithLocator(l ClientLocator) *Directory {
	d.locator = l
	return d
}

// RegisterNode adds or replaces a node's membership record.
func (d *Directory) RegisterNode(info NodeInfo) {
	d.nodesMu.Lock()
	if _, seen := d.nodes[info.NodeID]; !seen {
		d.order = append(d.order, info.NodeID)
	}
	d.nodes[info.NodeID] = info
	d.nodesMu.Unlock()
}

// MarkAlive flips a node's liveness flag.
func (d *Directory) MarkAlive(nodeID string, alive bool) error {
	d.nodesMu.Lock()
	defer d.nodesMu.Unlock()
	info, ok := d.nodes[nodeID]
	if !ok {
		return cnst.ErrNodeNotFound
	}
	info.Alive = alive
	d.nodes[nodeID] = info
	return nil
}

// GetNode returns one node's record.
func (d *Directory) GetNode(nodeID string) (NodeInfo, bool) {
	d.nodesMu.RLock()
	defer d.nodesMu.RUnlock()
	info, ok := d.nodes[nodeID]
	return info, ok
}

// ListNodes returns all known nodes in first-seen order.
func (d *Directory) ListNodes() []NodeInfo {
	d.nodesMu.RLock()
	defer d.nodesMu.RUnlock()
	out := make([]NodeInfo, 0, len(d.nodes))
	for _, id := range d.order {
		out = append(out, d.nodes[id])
	}
	return out
}

// AliveNodes returns the alive subset in first-seen order.
func (d *Directory) AliveNodes() []NodeInfo {
	nodes := d.ListNodes()
	out := nodes[:0]
	for _, n := range nodes {
		if n.Alive {
			out = append(out, n)
		}
	}
	return out
}

// RegisterServer records the local handle for a node id.
func (d *Directory) RegisterServer(nodeID string, h NodeHandle) {
	d.serversMu.Lock()
	d.servers[nodeID] = h
	d.serversMu.Unlock()
}

// GetServer returns the local handle for a node id.
func (d *Directory) GetServer(nodeID string) (NodeHandle, bool) {
	d.serversMu.RLock()
	defer d.serversMu.RUnlock()
	h, ok := d.servers[nodeID]
	return h, ok
}

// RemoveServer drops a node's handle, e.g. on shutdown.
func (d *Directory) RemoveServer(nodeID string) {
	d.serversMu.Lock()
	delete(d.servers, nodeID)
	d.serversMu.Unlock()
}

// RegisterClientLocation records which node a client connects through.
// Re-registration overwrites: last write wins.
func (d *Directory) RegisterClientLocation(ctx context.Context, clientID, nodeID string) error {
	return d.locator.Register(ctx, clientID, nodeID)
}

// LocateClient looks a client up; ok is false when never registered or
// evicted.
func (d *Directory) LocateClient(ctx context.Context, clientID string) (string, bool) {
	nodeID, ok, err := d.locator.Locate(ctx, clientID)
	if err != nil {
		d.logger.Warn("client location lookup failed",
			zap.String("client_id", clientID),
			zap.Error(err))
		return "", false
	}
	return nodeID, ok
}

// RemoveClientLocation drops a client's location entry.
func (d *Directory) RemoveClientLocation(ctx context.Context, clientID string) error {
	return d.locator.Remove(ctx, clientID)
}

// sortedNodeIDs is a helper for deterministic peer enumeration.
func sortedNodeIDs(nodes []NodeInfo) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.NodeID)
	}
	sort.Strings(ids)
	return ids
}
