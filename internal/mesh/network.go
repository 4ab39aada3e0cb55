// ABOUTME: Mesh network runtime: node registry and inbound packet worker
// ABOUTME: Single worker drains a bounded FIFO queue, waking on enqueue or 100ms
package mesh

import (
	"context"
	"log"
	"sync"
	"time"
)

// workerWakeInterval bounds how long the worker sleeps without traffic, so
// it stays responsive to Stop without busy-spinning.
const workerWakeInterval = 100 * time.Millisecond

// defaultQueueDepth bounds the inbound packet queue. Enqueueing never
// blocks; packets beyond the bound are dropped.
const defaultQueueDepth = 256

// Handler receives every processed packet. At most one handler is active at
// a time.
type Handler func(Packet)

// Network manages the local node, a registry of peers, and a strictly
// ordered inbound packet queue processed by a single worker goroutine.
type Network struct {
	localNode *Node

	mu    sync.Mutex
	nodes map[string]*Node

	handlerMu sync.RWMutex
	handler   Handler

	queue chan Packet

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewNetwork creates a mesh network around the given local node. The local
// node is part of the registry from the start.
func NewNetwork(localNode *Node) *Network {
	return &Network{
		localNode: localNode,
		nodes:     map[string]*Node{localNode.ID: localNode},
		queue:     make(chan Packet, defaultQueueDepth),
	}
}

// LocalNode returns the node this network instance represents.
func (n *Network) LocalNode() *Node {
	return n.localNode
}

// Start launches the packet worker. Starting a running network is a no-op.
func (n *Network) Start() {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	if n.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	n.running = true

	go n.run(ctx)

	log.Printf("Mesh network started: node %s (%s)", n.localNode.ID, n.localNode.Role)
}

// Stop shuts the worker down and waits for in-flight processing to finish.
// Stopping a stopped (or never started) network is harmless.
func (n *Network) Stop() {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	if !n.running {
		return
	}

	n.cancel()
	<-n.done
	n.running = false

	log.Printf("Mesh network stopped: node %s", n.localNode.ID)
}

// Deliver enqueues an inbound packet without blocking the caller. When the
// queue is full the packet is dropped and logged.
func (n *Network) Deliver(p Packet) {
	select {
	case n.queue <- p:
	default:
		log.Printf("Mesh queue full, dropping %s packet", Type(p))
	}
}

// SetHandler atomically replaces the packet handler. A nil handler disables
// forwarding.
func (n *Network) SetHandler(h Handler) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.handler = h
}

// RegisterNode adds a peer to the registry. Registering an existing id is a
// no-op: the registry only grows through explicit registration.
func (n *Network) RegisterNode(id string, role Role) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.nodes[id]; !ok {
		n.nodes[id] = NewNode(id, role)
	}
}

// ActiveNodes returns the ids of nodes within the liveness window.
func (n *Network) ActiveNodes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	var active []string
	for id, node := range n.nodes {
		if node.Active() {
			active = append(active, id)
		}
	}
	return active
}

// NodeStatus returns the buffer fill and latency last reported by a node.
func (n *Network) NodeStatus(id string) (bufferPercent uint8, latencyMs uint32, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.nodes[id]
	if !ok {
		return 0, 0, false
	}
	return node.BufferPercent, node.LatencyMs, true
}

// run drains the queue in FIFO order, batching whatever accumulated since
// the last wake.
func (n *Network) run(ctx context.Context) {
	defer close(n.done)

	ticker := time.NewTicker(workerWakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-n.queue:
			n.process(p)
			n.drainQueue()
		case <-ticker.C:
			n.drainQueue()
		}
	}
}

func (n *Network) drainQueue() {
	for {
		select {
		case p := <-n.queue:
			n.process(p)
		default:
			return
		}
	}
}

// process applies registry updates for the packet, then forwards it to the
// registered handler. Handler panics are isolated so one bad packet cannot
// kill the worker.
func (n *Network) process(p Packet) {
	switch pkt := p.(type) {
	case Ping:
		n.refreshPing(pkt.Source)
	case Status:
		n.applyStatus(pkt)
	case Command, TimeBeacon, EmergencySync:
		// Registry untouched; handler decides.
	default:
		log.Printf("Mesh worker: %v", ErrUnknownPacket)
		return
	}

	n.handlerMu.RLock()
	handler := n.handler
	n.handlerMu.RUnlock()

	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Mesh handler panic on %s packet: %v", Type(p), r)
		}
	}()
	handler(p)
}

func (n *Network) refreshPing(source string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if node, ok := n.nodes[source]; ok {
		node.UpdatePing()
	}
}

// applyStatus updates buffer and latency for a registered node. Status for
// an unknown id is dropped: no phantom registry entries.
func (n *Network) applyStatus(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.nodes[s.NodeID]
	if !ok {
		return
	}
	node.BufferPercent = s.BufferPercent
	node.LatencyMs = s.LatencyMs
	node.UpdatePing()
}
