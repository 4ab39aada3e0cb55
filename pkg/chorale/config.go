// ABOUTME: Node configuration with zero-value defaults
// ABOUTME: Music vs voice mode selects sample rate and bitrate profile
package chorale

import (
	"fmt"
	"time"

	"github.com/Chorale-Protocol/chorale-go/internal/mesh"
	"github.com/Chorale-Protocol/chorale-go/internal/meshcrypto"
	"github.com/Chorale-Protocol/chorale-go/internal/player"
	"github.com/Chorale-Protocol/chorale-go/internal/transport"
	"github.com/google/uuid"
)

// Role re-exports the mesh node roles for the public API.
type Role = mesh.Role

const (
	RoleMaster   = mesh.RoleMaster
	RoleRepeater = mesh.RoleRepeater
	RoleSink     = mesh.RoleSink
)

// ParseRole converts a role name ("master", "repeater", "sink") to a Role.
func ParseRole(s string) (Role, error) {
	role, ok := mesh.ParseRole(s)
	if !ok {
		return role, fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// NewOtoOutput returns the default speaker output device.
func NewOtoOutput() player.Output {
	return player.NewOto()
}

// Config holds node configuration. The zero value is a usable music-mode
// sink with a generated id.
type Config struct {
	// NodeID identifies this node in the mesh (default: generated).
	NodeID string

	// Role is this node's function in the mesh (default: Sink).
	Role Role

	// TransportAddr is an optional upstream address. When set and Channel
	// is nil, Start dials it over websocket.
	TransportAddr string

	// VoiceMode switches the quality profile from music (48kHz, 128kbps)
	// to voice (16kHz, 64kbps).
	VoiceMode bool

	// Channels is the interleaved channel count (default: 2 for music,
	// 1 for voice).
	Channels int

	// BufferMs is the initial jitter buffer duration (default: 20).
	BufferMs int

	// HeartbeatInterval is how often ping and status are emitted
	// (default: 1s).
	HeartbeatInterval time.Duration

	// BeaconInterval is how often a Master emits time beacons
	// (default: 100ms).
	BeaconInterval time.Duration

	// BeaconTimeout decays synchronization when beacons go stale.
	// Zero keeps the synchronized state sticky.
	BeaconTimeout time.Duration

	// NetworkKey is the shared symmetric mesh key. Nil generates a fresh
	// key (a single-node network until keys are exchanged).
	NetworkKey *[meshcrypto.KeySize]byte

	// Channel is the mesh transport. Nil runs the node without outbound
	// mesh traffic.
	Channel transport.Channel

	// Output is the audio device. Nil runs the node headless.
	Output player.Output

	// OnCommand receives mesh command packets addressed to this node.
	OnCommand func(mesh.Command)
}

func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = fmt.Sprintf("%s-%s", c.Role, uuid.NewString()[:8])
	}
	if c.Channels == 0 {
		if c.VoiceMode {
			c.Channels = 1
		} else {
			c.Channels = 2
		}
	}
	if c.BufferMs == 0 {
		c.BufferMs = 20
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.BeaconInterval == 0 {
		c.BeaconInterval = 100 * time.Millisecond
	}
}

// SampleRate returns the profile sample rate in Hz.
func (c *Config) SampleRate() int {
	if c.VoiceMode {
		return 16000
	}
	return 48000
}

// DefaultBitrate returns the profile bitrate in kbps.
func (c *Config) DefaultBitrate() int {
	if c.VoiceMode {
		return 64
	}
	return 128
}

// reducedBitrate is the degraded-network bitrate for the profile.
func (c *Config) reducedBitrate() int {
	if c.VoiceMode {
		return 32
	}
	return 64
}
