package cnst

import "errors"

var (
	// ErrClientNotFound is returned when a client id has no live session on this node
	ErrClientNotFound = errors.New("client not found")
	// ErrSessionNotFound is returned when a session lookup misses
	ErrSessionNotFound = errors.New("session not found")
	// ErrPluginUnavailable is returned when no connection exists for the named plugin
	ErrPluginUnavailable = errors.New("plugin unavailable")
	// ErrPluginTimeout is returned when a plugin call exceeds its deadline
	ErrPluginTimeout = errors.New("plugin call timed out")
	// ErrNotLeader is returned when an append is attempted on a non-leader node
	ErrNotLeader = errors.New("not leader")
	// ErrQuorumNotMet is returned when a quorum append gathered fewer acks than
	// a strict majority of the known membership. The write is uncertain, not
	// rolled back: peers that acknowledged keep the record.
	ErrQuorumNotMet = errors.New("replication quorum not met")
	// ErrNoNodeAvailable is returned when routing finds no alive node
	ErrNoNodeAvailable = errors.New("no node available")
	// ErrNodeNotFound is returned when a node id is absent from the directory
	ErrNodeNotFound = errors.New("node not found")
	// ErrUIDBlocked is returned when a blocked uid attempts to send
	ErrUIDBlocked = errors.New("uid blocked")
	// ErrRateLimited is returned when a uid exceeds its message rate limit
	ErrRateLimited = errors.New("rate limited")
	// ErrFrameTooLarge is returned when a length-prefixed frame exceeds the limit
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)
