// ABOUTME: Abstract unreliable packet channel for mesh traffic
// ABOUTME: Models at-least-once, unordered, lossy delivery of opaque payloads
package transport

// Channel delivers opaque byte payloads between mesh nodes. Implementations
// are assumed unreliable: delivery is at-least-once at best, unordered and
// lossy. Payloads may carry sealed (encrypted) packet envelopes.
type Channel interface {
	// Send transmits one payload. It must not block indefinitely; lossy
	// implementations may silently drop.
	Send(payload []byte) error

	// Receive returns the channel on which inbound payloads arrive. It is
	// closed when the Channel is closed.
	Receive() <-chan []byte

	// Close releases the channel. Closing twice is harmless.
	Close() error
}
