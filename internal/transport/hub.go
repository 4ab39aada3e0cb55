// ABOUTME: Hub fans a single logical channel out over many accepted peers
// ABOUTME: Send broadcasts to every peer, Receive merges all inbound traffic
package transport

import (
	"log"
	"sync"
)

// Hub adapts a Listener into a Channel: sends are broadcast to every
// connected peer and all inbound payloads are merged into one stream.
type Hub struct {
	listener *Listener

	mu    sync.Mutex
	peers []Channel

	recv   chan []byte
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewHub wraps an already-listening Listener and begins accepting peers.
func NewHub(listener *Listener) *Hub {
	h := &Hub{
		listener: listener,
		recv:     make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.acceptLoop()
	return h
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.closed:
			return
		case peer, ok := <-h.listener.Accept():
			if !ok {
				return
			}
			h.mu.Lock()
			h.peers = append(h.peers, peer)
			n := len(h.peers)
			h.mu.Unlock()
			log.Printf("Hub accepted peer (%d connected)", n)

			h.wg.Add(1)
			go h.pumpPeer(peer)
		}
	}
}

// pumpPeer forwards a peer's inbound payloads into the merged stream until
// the peer or the hub closes.
func (h *Hub) pumpPeer(peer Channel) {
	defer h.wg.Done()
	defer h.dropPeer(peer)

	for {
		select {
		case <-h.closed:
			return
		case payload, ok := <-peer.Receive():
			if !ok {
				return
			}
			select {
			case h.recv <- payload:
			case <-h.closed:
				return
			default:
				// Merged stream is full; the transport is lossy.
			}
		}
	}
}

func (h *Hub) dropPeer(peer Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == peer {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			break
		}
	}
}

// Send broadcasts payload to every connected peer. Per-peer failures are
// logged and skipped.
func (h *Hub) Send(payload []byte) error {
	h.mu.Lock()
	peers := make([]Channel, len(h.peers))
	copy(peers, h.peers)
	h.mu.Unlock()

	for _, peer := range peers {
		if err := peer.Send(payload); err != nil {
			log.Printf("Hub send to peer failed: %v", err)
		}
	}
	return nil
}

// Receive returns the merged inbound stream from all peers.
func (h *Hub) Receive() <-chan []byte {
	return h.recv
}

// Close disconnects every peer and stops the listener.
func (h *Hub) Close() error {
	h.once.Do(func() {
		close(h.closed)

		h.mu.Lock()
		peers := h.peers
		h.peers = nil
		h.mu.Unlock()
		for _, peer := range peers {
			peer.Close()
		}

		h.listener.Close()
	})
	h.wg.Wait()
	return nil
}
