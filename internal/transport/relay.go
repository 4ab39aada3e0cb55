// ABOUTME: Relay bridges an upstream channel and a downstream fan-out
// ABOUTME: Traffic crossing either side is forwarded to the other and kept locally
package transport

import "sync"

// Relay joins an upstream channel (toward the master) with a downstream one
// (usually a Hub serving peers). Payloads arriving on one side are forwarded
// to the other and also surfaced on Receive, so the local node both relays
// and consumes mesh traffic.
type Relay struct {
	upstream   Channel
	downstream Channel

	recv   chan []byte
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewRelay starts bridging the two channels.
func NewRelay(upstream, downstream Channel) *Relay {
	r := &Relay{
		upstream:   upstream,
		downstream: downstream,
		recv:       make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
	r.wg.Add(2)
	go r.bridge(upstream, downstream)
	go r.bridge(downstream, upstream)
	return r
}

// bridge forwards payloads from one side to the other and into the local
// receive queue until either side closes.
func (r *Relay) bridge(from, to Channel) {
	defer r.wg.Done()

	for {
		select {
		case <-r.closed:
			return
		case payload, ok := <-from.Receive():
			if !ok {
				return
			}
			to.Send(payload)
			select {
			case r.recv <- payload:
			case <-r.closed:
				return
			default:
				// Lossy: local consumer is behind.
			}
		}
	}
}

// Send transmits payload on both sides.
func (r *Relay) Send(payload []byte) error {
	r.upstream.Send(payload)
	return r.downstream.Send(payload)
}

// Receive returns the merged stream of traffic from both sides.
func (r *Relay) Receive() <-chan []byte {
	return r.recv
}

// Close shuts both sides down. Idempotent.
func (r *Relay) Close() error {
	r.once.Do(func() {
		close(r.closed)
		r.upstream.Close()
		r.downstream.Close()
	})
	r.wg.Wait()
	return nil
}
