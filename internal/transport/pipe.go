// ABOUTME: In-memory channel pair for tests and single-process meshes
// ABOUTME: Send on one end arrives on the other; full queues drop
package transport

import "sync"

// pipeDepth bounds each direction of a pipe. Sends into a full pipe drop
// the payload, matching the lossy channel contract.
const pipeDepth = 64

// Pipe creates two connected in-memory channels: payloads sent on one end
// are received on the other. Closing either end shuts down both directions.
func Pipe() (Channel, Channel) {
	shared := &pipeState{
		ab: make(chan []byte, pipeDepth),
		ba: make(chan []byte, pipeDepth),
	}
	a := &pipeEnd{state: shared, send: shared.ab, recv: shared.ba}
	b := &pipeEnd{state: shared, send: shared.ba, recv: shared.ab}
	return a, b
}

type pipeState struct {
	mu     sync.Mutex
	closed bool
	ab     chan []byte
	ba     chan []byte
}

type pipeEnd struct {
	state *pipeState
	send  chan []byte
	recv  chan []byte
}

func (p *pipeEnd) Send(payload []byte) error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	if p.state.closed {
		return nil
	}

	// Copy so the caller can reuse its buffer.
	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case p.send <- buf:
	default:
		// Lossy: a full queue drops.
	}
	return nil
}

func (p *pipeEnd) Receive() <-chan []byte {
	return p.recv
}

func (p *pipeEnd) Close() error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	if p.state.closed {
		return nil
	}
	p.state.closed = true
	close(p.state.ab)
	close(p.state.ba)
	return nil
}
