// ABOUTME: Timestamp-anchored audio buffer driven by a synchronized clock
// ABOUTME: Decides skip-ahead vs silence-fill when reading sample frames
package audio

import "sync"

// TimedBuffer wraps a RingBuffer with a timestamp anchor so reads can be
// aligned to a synchronized clock. The anchor tracks the timestamp (in ms)
// of the oldest unread sample and is only meaningful while the buffer holds
// data.
type TimedBuffer struct {
	mu           sync.Mutex
	ring         *RingBuffer
	sampleRate   int
	channels     int
	bufferMs     int
	samplesPerMs int
	anchorMs     uint64
}

// NewTimedBuffer creates a buffer sized for bufferMs milliseconds of
// interleaved audio at the given format.
func NewTimedBuffer(sampleRate, channels, bufferMs int) (*TimedBuffer, error) {
	if sampleRate <= 0 || channels <= 0 || bufferMs <= 0 {
		return nil, &ConfigurationError{Reason: "sample rate, channels and buffer size must be positive"}
	}

	samplesPerMs := sampleRate / 1000
	ring, err := NewRingBuffer(samplesPerMs * bufferMs * channels)
	if err != nil {
		return nil, err
	}

	return &TimedBuffer{
		ring:         ring,
		sampleRate:   sampleRate,
		channels:     channels,
		bufferMs:     bufferMs,
		samplesPerMs: samplesPerMs,
	}, nil
}

// WriteSamples writes interleaved frames stamped with the given timestamp.
// The timestamp becomes the new anchor only when the buffer was empty;
// otherwise it is informational. Returns the number of frames written.
func (t *TimedBuffer) WriteSamples(samples []float32, frames int, timestampMs uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ring.Empty() {
		t.anchorMs = timestampMs
	}

	written := t.ring.Write(samples[:frames*t.channels])
	return written / t.channels
}

// ReadSamples fills out with exactly frames frames of interleaved audio,
// positioned against currentTimeMs:
//
//   - ahead of schedule (currentTimeMs < anchor): all silence, no data
//     consumed;
//   - behind schedule: skips ahead to catch up, bounded by available data;
//   - otherwise a normal read, advancing the anchor.
//
// Any shortfall is zero-filled at the tail; the call never blocks. Returns
// the number of live (non-silence) frames copied.
func (t *TimedBuffer) ReadSamples(out []float32, frames int, currentTimeMs uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	want := frames * t.channels
	if t.ring.Empty() {
		zeroFill(out[:want])
		return 0
	}

	// Ahead of schedule: these samples must not play yet.
	if currentTimeMs < t.anchorMs {
		zeroFill(out[:want])
		return 0
	}

	// Behind schedule: drop frames to re-align with the clock.
	deltaMs := currentTimeMs - t.anchorMs
	if deltaMs > 0 {
		skip := min(int(deltaMs)*t.samplesPerMs, t.ring.Len()/t.channels)
		if skip > 0 {
			tmp := make([]float32, skip*t.channels)
			t.ring.Read(tmp)
			t.anchorMs += uint64(skip / t.samplesPerMs)
		}
	}

	read := t.ring.Read(out[:want])
	if read < want {
		zeroFill(out[read:want])
	}

	t.anchorMs += uint64((read / t.channels) / t.samplesPerMs)

	return read / t.channels
}

// LatencyMs returns the buffered audio duration in milliseconds.
func (t *TimedBuffer) LatencyMs() int {
	return (t.ring.Len() / t.channels) / t.samplesPerMs
}

// FillPercent returns the buffer fill level as 0-100.
func (t *TimedBuffer) FillPercent() int {
	return t.ring.FillPercent()
}

// Clear discards all buffered audio.
func (t *TimedBuffer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring.Clear()
}

// SetBufferSizeMs resizes the underlying ring, preserving buffered content
// up to the new capacity.
func (t *TimedBuffer) SetBufferSizeMs(bufferMs int) error {
	if bufferMs <= 0 {
		return &ConfigurationError{Reason: "buffer size must be positive"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ring.Resize(t.samplesPerMs * bufferMs * t.channels); err != nil {
		return err
	}
	t.bufferMs = bufferMs
	return nil
}

// BufferSizeMs returns the configured buffer duration.
func (t *TimedBuffer) BufferSizeMs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bufferMs
}

func zeroFill(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
