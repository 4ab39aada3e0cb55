// ABOUTME: Node identity, role and liveness tracking
// ABOUTME: A node is active when it pinged within the liveness window
package mesh

import "time"

// LivenessWindow is how long a node stays active after its last ping.
const LivenessWindow = 30 * time.Second

// Role is a node's function in the mesh.
type Role int

const (
	// RoleSink receives and plays audio, never redistributes. The zero
	// value, so unconfigured nodes default to the passive role.
	RoleSink Role = iota
	// RoleRepeater relays mesh traffic to extend range.
	RoleRepeater
	// RoleMaster is the central broadcast unit emitting the audio stream
	// and time beacons.
	RoleMaster
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleRepeater:
		return "repeater"
	case RoleSink:
		return "sink"
	default:
		return "unknown"
	}
}

// ParseRole maps a role name to its Role value.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "master":
		return RoleMaster, true
	case "repeater":
		return RoleRepeater, true
	case "sink":
		return RoleSink, true
	default:
		return RoleSink, false
	}
}

// Node describes a peer in the mesh. Nodes are created on registration and
// mutated on every received ping or status; they are never destroyed.
type Node struct {
	ID            string
	Role          Role
	lastPing      time.Time
	hasPing       bool
	LatencyMs     uint32
	BufferPercent uint8
}

// NewNode creates a node with a full buffer and no liveness yet.
func NewNode(id string, role Role) *Node {
	return &Node{
		ID:            id,
		Role:          role,
		BufferPercent: 100,
	}
}

// UpdatePing refreshes the node's liveness timestamp.
func (n *Node) UpdatePing() {
	n.lastPing = time.Now()
	n.hasPing = true
}

// Active reports whether the node pinged within the liveness window.
func (n *Node) Active() bool {
	if !n.hasPing {
		return false
	}
	return time.Since(n.lastPing) < LivenessWindow
}
