// ABOUTME: Typed mesh packet variants exchanged between nodes
// ABOUTME: A closed sum type; dispatch is an exhaustive type switch
package mesh

import "errors"

// ErrUnknownPacket guards the unreachable branch of packet type switches.
var ErrUnknownPacket = errors.New("unknown mesh packet type")

// Packet is one of the mesh message variants. The interface is sealed: only
// the types in this package implement it, so a type switch over all five
// variants is exhaustive and the default branch is unreachable in practice.
type Packet interface {
	packetType() string
}

// Ping verifies connectivity and carries the sender's synchronized clock.
type Ping struct {
	Source    string `json:"source"`
	Timestamp uint64 `json:"timestamp"`
}

// Command carries a playback control command with free-form parameters.
type Command struct {
	CmdType string            `json:"cmd_type"`
	Params  map[string]string `json:"params,omitempty"`
}

// Status reports a node's local buffer fill and measured latency.
type Status struct {
	NodeID        string `json:"node_id"`
	BufferPercent uint8  `json:"buffer_percent"`
	LatencyMs     uint32 `json:"latency_ms"`
}

// TimeBeacon carries the master clock for offset computation.
type TimeBeacon struct {
	MasterTime uint64 `json:"master_time"`
}

// EmergencySync forces clock resynchronization on the targeted nodes.
// An empty target list addresses every node.
type EmergencySync struct {
	MasterTime  uint64   `json:"master_time"`
	TargetNodes []string `json:"target_nodes,omitempty"`
}

func (Ping) packetType() string          { return "ping" }
func (Command) packetType() string       { return "command" }
func (Status) packetType() string        { return "status" }
func (TimeBeacon) packetType() string    { return "time_beacon" }
func (EmergencySync) packetType() string { return "emergency_sync" }

// Type returns the wire tag of a packet.
func Type(p Packet) string {
	return p.packetType()
}
