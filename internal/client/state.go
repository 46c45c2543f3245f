package client

// State is the reconciler's connection lifecycle position. Transitions:
// Disconnected -> Connecting -> Synced -> Degraded -> Connecting -> ...
// Connection health is purely local; it is never sent on the wire.
type State int

const (
	// StateDisconnected means no connection exists and none is being
	// attempted. The initial state, and the final state after Close or a
	// terminal attach rejection.
	StateDisconnected State = iota

	// StateConnecting means a dial or snapshot wait is in progress.
	StateConnecting

	// StateSynced means the snapshot has been applied and broadcasts are
	// streaming.
	StateSynced

	// StateDegraded means the transport dropped; last-known data stays
	// visible while the reconnect loop runs with backoff.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}
