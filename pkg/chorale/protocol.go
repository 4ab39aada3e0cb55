// ABOUTME: Per-node protocol runtime composing sync, mesh, crypto and audio
// ABOUTME: Applies mesh traffic to the clock and reports local status back
package chorale

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/Chorale-Protocol/chorale-go/internal/mesh"
	"github.com/Chorale-Protocol/chorale-go/internal/meshcrypto"
	"github.com/Chorale-Protocol/chorale-go/internal/sync"
	"github.com/Chorale-Protocol/chorale-go/internal/transport"
)

// ErrNotSynchronized is returned when playback is requested before the
// node has received a time beacon.
var ErrNotSynchronized = errors.New("node is not synchronized")

// Protocol is one node's runtime: it owns the clock sync manager, the mesh
// network, the crypto context and the audio engine, and moves state between
// them.
type Protocol struct {
	config  Config
	syncMgr *sync.Manager
	network *mesh.Network
	crypto  *meshcrypto.Crypto
	engine  *Engine

	mu         gosync.Mutex
	bitrate    int
	running    bool
	ownChannel bool
	cancel     context.CancelFunc
	wg         gosync.WaitGroup
}

// New creates a protocol instance from config. The node is not started.
func New(config Config) (*Protocol, error) {
	config.applyDefaults()

	var (
		crypto *meshcrypto.Crypto
		err    error
	)
	if config.NetworkKey != nil {
		crypto, err = meshcrypto.NewWithNetworkKey(*config.NetworkKey)
	} else {
		crypto, err = meshcrypto.New()
	}
	if err != nil {
		return nil, fmt.Errorf("creating crypto context: %w", err)
	}

	syncMgr := sync.NewManager()
	if config.BeaconTimeout > 0 {
		syncMgr.SetBeaconTimeout(config.BeaconTimeout)
	}

	p := &Protocol{
		config:  config,
		syncMgr: syncMgr,
		network: mesh.NewNetwork(mesh.NewNode(config.NodeID, config.Role)),
		crypto:  crypto,
		engine:  NewEngine(config.SampleRate(), config.Channels, config.BufferMs, config.Output),
		bitrate: config.DefaultBitrate(),
	}

	// Every rendered buffer is positioned by the synchronized clock.
	if err := p.engine.Initialize(p.syncMgr.Now); err != nil {
		return nil, fmt.Errorf("initializing audio engine: %w", err)
	}

	return p, nil
}

// Start launches the mesh worker, the transport receive loop and the
// maintenance ticker. Starting a running node is a no-op.
func (p *Protocol) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if p.config.Channel == nil && p.config.TransportAddr != "" {
		ch, err := transport.Dial(p.config.TransportAddr)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", p.config.TransportAddr, err)
		}
		p.config.Channel = ch
		p.ownChannel = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true

	p.network.SetHandler(p.handlePacket)
	p.network.Start()

	// The master is the time authority: anchor its own clock so playback
	// and latency math work without waiting for a beacon.
	if p.config.Role == RoleMaster {
		p.syncMgr.HandleTimeBeacon(p.syncMgr.Now())
	}

	if p.config.Channel != nil {
		p.wg.Add(1)
		go p.receiveLoop(ctx)
	}

	p.wg.Add(1)
	go p.maintenanceLoop(ctx)

	log.Printf("Chorale node started: %s (%s)", p.config.NodeID, p.config.Role)
	return nil
}

// Stop shuts the node down and waits for all background work to finish.
// Stopping a stopped node is harmless.
func (p *Protocol) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.network.Stop()
	p.engine.Stop()

	if p.ownChannel && p.config.Channel != nil {
		p.config.Channel.Close()
	}

	log.Printf("Chorale node stopped: %s", p.config.NodeID)
}

// receiveLoop unseals and decodes transport payloads into mesh packets.
// Undecryptable or malformed payloads are dropped, never fatal.
func (p *Protocol) receiveLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-p.config.Channel.Receive():
			if !ok {
				return
			}

			plaintext, err := p.crypto.Decrypt(payload)
			if err != nil {
				log.Printf("Dropping undecryptable payload: %v", err)
				continue
			}

			pkt, err := mesh.Unmarshal(plaintext)
			if err != nil {
				log.Printf("Dropping malformed packet: %v", err)
				continue
			}

			p.network.Deliver(pkt)
		}
	}
}

// maintenanceLoop emits the periodic heartbeat (ping + local status) and,
// on the master, time beacons.
func (p *Protocol) maintenanceLoop(ctx context.Context) {
	defer p.wg.Done()

	heartbeat := time.NewTicker(p.config.HeartbeatInterval)
	defer heartbeat.Stop()

	var beaconC <-chan time.Time
	if p.config.Role == RoleMaster {
		beacon := time.NewTicker(p.config.BeaconInterval)
		defer beacon.Stop()
		beaconC = beacon.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			p.sendHeartbeat()
		case <-beaconC:
			now := p.syncMgr.Now()
			p.syncMgr.HandleTimeBeacon(now)
			p.SendPacket(mesh.TimeBeacon{MasterTime: now})
		}
	}
}

func (p *Protocol) sendHeartbeat() {
	p.SendPacket(mesh.Ping{
		Source:    p.config.NodeID,
		Timestamp: p.syncMgr.Now(),
	})
	p.SendPacket(mesh.Status{
		NodeID:        p.config.NodeID,
		BufferPercent: p.engine.BufferLevel(),
		LatencyMs:     p.engine.CurrentLatency(),
	})
}

// handlePacket applies inbound mesh packets to the sync and audio state.
// It runs on the mesh worker goroutine.
func (p *Protocol) handlePacket(pkt mesh.Packet) {
	switch pkt := pkt.(type) {
	case mesh.TimeBeacon:
		p.syncMgr.HandleTimeBeacon(pkt.MasterTime)
		p.engine.UpdateSyncState(true, p.syncMgr.TimeOffsetMs())

	case mesh.EmergencySync:
		if !p.targetsLocalNode(pkt.TargetNodes) {
			return
		}
		log.Printf("Emergency resync to master time %d", pkt.MasterTime)
		p.syncMgr.EmergencySync(pkt.MasterTime)
		p.engine.UpdateSyncState(true, p.syncMgr.TimeOffsetMs())

	case mesh.Ping:
		// A synchronized clock lets us derive one-way latency from the
		// sender's timestamp.
		if pkt.Source == p.config.NodeID || !p.syncMgr.IsSynchronized() {
			return
		}
		now := p.syncMgr.Now()
		if now > pkt.Timestamp {
			p.syncMgr.UpdateNodeLatency(pkt.Source, uint32(now-pkt.Timestamp))
		}
		// The master forces drifted nodes back onto its clock.
		if p.config.Role == RoleMaster && p.syncMgr.IsNodeOutOfSync(pkt.Source, pkt.Timestamp) {
			log.Printf("Node %s drifted beyond jitter tolerance, forcing resync", pkt.Source)
			if err := p.EmergencyResync([]string{pkt.Source}); err != nil {
				log.Printf("Emergency resync send failed: %v", err)
			}
		}

	case mesh.Status:
		if pkt.NodeID == p.config.NodeID {
			return
		}
		p.syncMgr.UpdateNodeLatency(pkt.NodeID, pkt.LatencyMs)

	case mesh.Command:
		if p.config.OnCommand != nil {
			p.config.OnCommand(pkt)
		}
	}
}

// targetsLocalNode reports whether an emergency sync addresses this node.
// An empty target list is a broadcast.
func (p *Protocol) targetsLocalNode(targets []string) bool {
	if len(targets) == 0 {
		return true
	}
	for _, id := range targets {
		if id == p.config.NodeID {
			return true
		}
	}
	return false
}

// SendPacket seals a packet and hands it to the transport. Without a
// transport the packet is dropped.
func (p *Protocol) SendPacket(pkt mesh.Packet) error {
	if p.config.Channel == nil {
		return nil
	}

	data, err := mesh.Marshal(pkt)
	if err != nil {
		return err
	}
	sealed, err := p.crypto.Encrypt(data)
	if err != nil {
		return err
	}
	return p.config.Channel.Send(sealed)
}

// StartPlayback begins synchronized output, sizing the buffer from the
// current latency measurements. Fails until a time beacon has arrived.
func (p *Protocol) StartPlayback() error {
	if !p.syncMgr.IsSynchronized() {
		return ErrNotSynchronized
	}
	return p.engine.Start(p.syncMgr.OptimalBufferSize())
}

// StopPlayback halts output. Harmless when playback is not running.
func (p *Protocol) StopPlayback() {
	p.engine.Stop()
}

// WriteAudioData forwards timestamped interleaved frames into the playback
// buffer.
func (p *Protocol) WriteAudioData(samples []float32, frames int, timestampMs uint64) (int, error) {
	return p.engine.WriteAudioData(samples, frames, timestampMs)
}

// AdjustBitrate adapts the stream bitrate to network quality (0.0-1.0).
func (p *Protocol) AdjustBitrate(networkQuality float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if networkQuality < 0.5 {
		p.bitrate = p.config.reducedBitrate()
	} else {
		p.bitrate = p.config.DefaultBitrate()
	}
	log.Printf("Bitrate adjusted to %dkbps (quality %.2f)", p.bitrate, networkQuality)
}

// Bitrate returns the current stream bitrate in kbps.
func (p *Protocol) Bitrate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bitrate
}

// UpdateTimeSync applies a master time value received outside the mesh
// (e.g. over the primary broadcast channel).
func (p *Protocol) UpdateTimeSync(masterTimeMs uint64) {
	p.syncMgr.HandleTimeBeacon(masterTimeMs)
	p.engine.UpdateSyncState(true, p.syncMgr.TimeOffsetMs())
}

// EmergencyResync broadcasts a forced resynchronization to the given nodes
// (all nodes when the list is empty), using this node's clock as authority.
func (p *Protocol) EmergencyResync(targetNodes []string) error {
	return p.SendPacket(mesh.EmergencySync{
		MasterTime:  p.syncMgr.Now(),
		TargetNodes: targetNodes,
	})
}

// RegisterNode adds a peer to the mesh registry.
func (p *Protocol) RegisterNode(nodeID string, role Role) {
	p.network.RegisterNode(nodeID, role)
}

// RegisterNodeKey records a peer's signing public key for verification.
func (p *Protocol) RegisterNodeKey(nodeID string, key ed25519.PublicKey) {
	p.crypto.RegisterNodeKey(nodeID, key)
}

// GenerateJoinToken issues an expiring token a peer can present when
// joining the mesh.
func (p *Protocol) GenerateJoinToken(nodeID string, ttlSeconds uint64) ([]byte, error) {
	return p.crypto.GenerateSecurityToken(nodeID, ttlSeconds)
}

// VerifyJoinToken validates a join token, returning the node id it binds.
func (p *Protocol) VerifyJoinToken(token []byte) (string, error) {
	nodeID, _, err := p.crypto.VerifySecurityToken(token)
	return nodeID, err
}

// ActiveNodes returns the ids of mesh nodes within the liveness window.
func (p *Protocol) ActiveNodes() []string {
	return p.network.ActiveNodes()
}

// IsSynchronized reports whether this node has a valid clock offset.
func (p *Protocol) IsSynchronized() bool {
	return p.syncMgr.IsSynchronized()
}

// CurrentLatency returns the local playback buffer latency in ms.
func (p *Protocol) CurrentLatency() uint32 {
	return p.engine.CurrentLatency()
}

// BufferLevel returns the local buffer fill level as 0-100.
func (p *Protocol) BufferLevel() uint8 {
	return p.engine.BufferLevel()
}

// SigningKey returns this node's public signing key for peer registration.
func (p *Protocol) SigningKey() ed25519.PublicKey {
	return p.crypto.PublicKey()
}

// NodeID returns this node's mesh identity.
func (p *Protocol) NodeID() string {
	return p.config.NodeID
}

// StartMaster creates and starts a Master node (the time authority).
func StartMaster(config Config) (*Protocol, error) {
	config.Role = RoleMaster
	return startNode(config)
}

// StartRepeater creates and starts a Repeater node.
func StartRepeater(config Config) (*Protocol, error) {
	config.Role = RoleRepeater
	return startNode(config)
}

// StartSink creates and starts a Sink node.
func StartSink(config Config) (*Protocol, error) {
	config.Role = RoleSink
	return startNode(config)
}

func startNode(config Config) (*Protocol, error) {
	p, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}
