package pdk

import "sync/atomic"

// State is the lifecycle of a plugin runtime.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type stateValue struct {
	v atomic.Int32
}

func (s *stateValue) set(st State) { s.v.Store(int32(st)) }

func (s *stateValue) get() State { return State(s.v.Load()) }
