package model

import "time"

// PeerRole distinguishes metadata masters from workers. Masters are
// preferred replication targets.
type PeerRole string

const (
	// RoleMaster marks a metadata master node
	RoleMaster PeerRole = "master"
	// RoleWorker marks a metadata worker node
	RoleWorker PeerRole = "worker"
)

// PeerState is the liveness state of a registered peer
type PeerState string

const (
	// PeerUnknown means no delivery or probe has completed yet
	PeerUnknown PeerState = "UNKNOWN"
	// PeerReachable means the last delivery or probe succeeded
	PeerReachable PeerState = "REACHABLE"
	// PeerUnreachable means consecutive deliveries or probes failed
	PeerUnreachable PeerState = "UNREACHABLE"
	// PeerDeregistered is terminal; the peer left or was swept out
	PeerDeregistered PeerState = "DEREGISTERED"
)

// PeerNode is a replication peer known to this node
type PeerNode struct {
	NodeID       string    `json:"node_id"`
	Role         PeerRole  `json:"role"`
	RegisteredAt time.Time `json:"registered_at"`
	State        PeerState `json:"state"`
	// StateChangedAt is when State last transitioned; drives the
	// prolonged-unreachability sweep
	StateChangedAt time.Time `json:"state_changed_at"`
	LastSeen       time.Time `json:"last_seen,omitempty"`
	// Failures counts consecutive failed deliveries since the last success
	Failures int `json:"failures"`
}

// Available reports whether the peer may be selected as a replication target
func (p *PeerNode) Available() bool {
	return p.State == PeerUnknown || p.State == PeerReachable
}
