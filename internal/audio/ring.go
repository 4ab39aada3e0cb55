// ABOUTME: Thread-safe circular buffer for float32 audio samples
// ABOUTME: Bounded-time push/pop with lock-free size queries
package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ConfigurationError reports invalid buffer or stream parameters.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("audio configuration error: %s", e.Reason)
}

// RingBuffer is a fixed-capacity circular buffer of interleaved samples.
// Write, Read and Peek are mutually exclusive; Len/Cap/Empty/Full read an
// atomic counter and never take the lock.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []float32
	capacity int
	writePos int
	readPos  int
	size     atomic.Int64
}

// NewRingBuffer creates a buffer holding up to capacity samples.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, &ConfigurationError{Reason: "ring buffer capacity must be positive"}
	}
	return &RingBuffer{
		buf:      make([]float32, capacity),
		capacity: capacity,
	}, nil
}

// Write copies up to len(data) samples into the buffer, wrapping at the
// boundary. Returns the number of samples actually written (0 when full).
// Never blocks and never allocates.
func (r *RingBuffer) Write(data []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(data) == 0 {
		return 0
	}

	available := r.capacity - int(r.size.Load())
	toWrite := min(len(data), available)
	if toWrite == 0 {
		return 0
	}

	// First part: from the write position to the end of the buffer
	first := min(toWrite, r.capacity-r.writePos)
	copy(r.buf[r.writePos:], data[:first])
	if first < toWrite {
		copy(r.buf, data[first:toWrite])
	}

	r.writePos = (r.writePos + toWrite) % r.capacity
	r.size.Add(int64(toWrite))

	return toWrite
}

// Read copies up to len(data) samples out of the buffer and advances the
// read cursor. Returns the number of samples read.
func (r *RingBuffer) Read(data []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked(data, true)
}

// Peek is identical to Read but does not advance the read cursor.
func (r *RingBuffer) Peek(data []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked(data, false)
}

func (r *RingBuffer) readLocked(data []float32, advance bool) int {
	size := int(r.size.Load())
	if len(data) == 0 || size == 0 {
		return 0
	}

	toRead := min(len(data), size)

	first := min(toRead, r.capacity-r.readPos)
	copy(data[:first], r.buf[r.readPos:])
	if first < toRead {
		copy(data[first:toRead], r.buf)
	}

	if advance {
		r.readPos = (r.readPos + toRead) % r.capacity
		r.size.Add(int64(-toRead))
	}

	return toRead
}

// Clear discards all buffered samples.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.readPos = 0
	r.size.Store(0)
}

// Resize replaces the underlying storage, preserving buffered content up to
// the new capacity. Excess samples beyond the new capacity are dropped.
func (r *RingBuffer) Resize(capacity int) error {
	if capacity <= 0 {
		return &ConfigurationError{Reason: "ring buffer capacity must be positive"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	size := int(r.size.Load())
	keep := min(size, capacity)

	newBuf := make([]float32, capacity)
	if keep > 0 {
		tmp := make([]float32, keep)
		r.readLocked(tmp, true)
		copy(newBuf, tmp)
	}

	r.buf = newBuf
	r.capacity = capacity
	r.writePos = keep % capacity
	r.readPos = 0
	r.size.Store(int64(keep))

	return nil
}

// Len returns the number of buffered samples.
func (r *RingBuffer) Len() int {
	return int(r.size.Load())
}

// Cap returns the buffer capacity.
func (r *RingBuffer) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// Available returns the remaining writable sample count.
func (r *RingBuffer) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity - int(r.size.Load())
}

// Empty reports whether the buffer holds no samples.
func (r *RingBuffer) Empty() bool {
	return r.size.Load() == 0
}

// Full reports whether the buffer is at capacity.
func (r *RingBuffer) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.size.Load()) == r.capacity
}

// FillPercent returns the fill level as 0-100.
func (r *RingBuffer) FillPercent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.size.Load()) * 100 / r.capacity
}
