package cluster

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vera-byte/vconnect/internal/common/cnst"
	"github.com/vera-byte/vconnect/internal/storage"
	"github.com/vera-byte/vconnect/pkg/metrics"
)

// Replicator replicates message records from a single designated leader to
// every node registered in the directory. Writes succeed only when a
// majority of the full known membership has acknowledged, counting nodes
// that are marked dead toward the denominator. A failed quorum leaves the
// record durable on the nodes that did accept it; re-delivery is the
// caller's job.
type Replicator struct {
	dir    *Directory
	logger *zap.Logger
	met    *metrics.Metrics

	mu       sync.RWMutex
	leaderID string
}

func NewReplicator(dir *Directory, leaderID string, logger *zap.Logger) *Replicator {
	return &Replicator{
		dir:      dir,
		logger:   logger.Named("replicator"),
		leaderID: leaderID,
	}
}

// WithMetrics attaches quorum counters. Optional.
func (r *Replicator) WithMetrics(m *metrics.Metrics) *Replicator {
	r.met = m
	return r
}

func (r *Replicator) LeaderID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaderID
}

// SetLeader changes the designated leader. Appends issued as the old
// leader after this point fail with ErrNotLeader.
func (r *Replicator) SetLeader(nodeID string) {
	r.mu.Lock()
	r.leaderID = nodeID
	r.mu.Unlock()
	r.logger.Info("leader changed", zap.String("leader", nodeID))
}

// QuorumSize returns the number of acknowledgements required for the
// current membership: floor(n/2)+1 over all known nodes, alive or not.
func (r *Replicator) QuorumSize() int {
	return len(r.dir.ListNodes())/2 + 1
}

// AppendAs replicates rec on behalf of nodeID. Only the designated leader
// may append; everyone else gets ErrNotLeader with zero writes performed.
// The leader writes locally first, then offers the record to every peer in
// stable node-id order. When fewer than a majority acknowledge the append
// returns ErrQuorumNotMet: the write is uncertain, not rolled back.
func (r *Replicator) AppendAs(nodeID string, rec *storage.MessageRecord) error {
	if nodeID != r.LeaderID() {
		r.count("rejected")
		return cnst.ErrNotLeader
	}

	members := r.dir.ListNodes()
	need := len(members)/2 + 1

	local, ok := r.dir.GetServer(nodeID)
	if !ok {
		r.count("failed")
		return cnst.ErrNodeNotFound
	}
	if err := local.Store().Append(rec); err != nil {
		r.count("failed")
		return err
	}
	acks := 1

	for _, id := range sortedNodeIDs(members) {
		if id == nodeID {
			continue
		}
		info, ok := r.dir.GetNode(id)
		if !ok || !info.Alive {
			continue
		}
		peer, ok := r.dir.GetServer(id)
		if !ok {
			continue
		}
		if err := peer.Store().Append(rec); err != nil {
			r.logger.Warn("peer append failed",
				zap.String("peer", id),
				zap.String("message_id", rec.MessageID),
				zap.Error(err))
			continue
		}
		acks++
	}

	if acks < need {
		r.logger.Warn("quorum not met",
			zap.String("message_id", rec.MessageID),
			zap.Int("acks", acks),
			zap.Int("need", need))
		r.count("quorum_not_met")
		return cnst.ErrQuorumNotMet
	}
	r.count("committed")
	return nil
}

func (r *Replicator) count(result string) {
	if r.met != nil {
		r.met.QuorumAppend(result)
	}
}
