package cluster

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"github.com/vera-byte/vconnect/internal/common/cnst"
)

// SelectNode picks the owning node for a routing key among the alive nodes
// using highest-random-weight hashing: score(n) = hash(key || node_id) *
// weight, highest score wins. The selection is deterministic for a fixed
// key and membership, and a membership change only remaps keys whose top
// score involved the changed node. Ties keep the earlier node in the given
// order. An empty alive set returns ErrNoNodeAvailable; callers must not
// fall back to an arbitrary node.
func SelectNode(key string, nodes []NodeInfo) (NodeInfo, error) {
	var (
		best   NodeInfo
		bestHi uint64
		bestLo uint64
		found  bool
	)
	for _, n := range nodes {
		if !n.Alive {
			continue
		}
		hi, lo := score(key, n)
		if !found || hi > bestHi || (hi == bestHi && lo > bestLo) {
			best, bestHi, bestLo, found = n, hi, lo, true
		}
	}
	if !found {
		return NodeInfo{}, cnst.ErrNoNodeAvailable
	}
	return best, nil
}

// score hashes key||node_id with sha256, takes the first 8 bytes as a
// uniformly distributed uint64 and multiplies by the node weight into a
// 128-bit value so large weights cannot overflow.
func score(key string, n NodeInfo) (hi, lo uint64) {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte(n.NodeID))
	sum := h.Sum(nil)
	base := binary.BigEndian.Uint64(sum[:8])
	return bits.Mul64(base, uint64(n.Weight))
}
