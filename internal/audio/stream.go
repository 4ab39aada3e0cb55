// ABOUTME: Pull-based audio stream bridging the timed buffer to an output sink
// ABOUTME: Renders clock-positioned frames on demand, silence when stopped
package audio

import "sync/atomic"

// TimeProvider returns the current synchronized time in milliseconds.
type TimeProvider func() uint64

// Stream owns a TimedBuffer and positions every rendered block against the
// synchronized clock supplied by its TimeProvider. Render is safe to call
// from a real-time output callback: it never blocks and always fills the
// requested block.
type Stream struct {
	buffer   *TimedBuffer
	now      TimeProvider
	channels int
	running  atomic.Bool
}

// NewStream creates a stream for the given format. now supplies the
// synchronized clock used to position reads.
func NewStream(sampleRate, channels, bufferMs int, now TimeProvider) (*Stream, error) {
	buffer, err := NewTimedBuffer(sampleRate, channels, bufferMs)
	if err != nil {
		return nil, err
	}

	return &Stream{
		buffer:   buffer,
		now:      now,
		channels: channels,
	}, nil
}

// Start enables rendering. Starting an already-started stream is a no-op.
func (s *Stream) Start() {
	s.running.Store(true)
}

// Stop disables rendering; subsequent Render calls emit silence. Idempotent.
func (s *Stream) Stop() {
	s.running.Store(false)
}

// Running reports whether the stream is rendering live audio.
func (s *Stream) Running() bool {
	return s.running.Load()
}

// Write queues interleaved frames stamped with the source timestamp.
func (s *Stream) Write(samples []float32, frames int, timestampMs uint64) int {
	return s.buffer.WriteSamples(samples, frames, timestampMs)
}

// Render fills out with interleaved samples for the output sink. The block
// is all silence while the stream is stopped. Returns the number of live
// frames rendered.
func (s *Stream) Render(out []float32) int {
	frames := len(out) / s.channels

	if !s.running.Load() {
		zeroFill(out)
		return 0
	}

	return s.buffer.ReadSamples(out, frames, s.now())
}

// SetBufferSizeMs resizes the playback buffer.
func (s *Stream) SetBufferSizeMs(bufferMs int) error {
	return s.buffer.SetBufferSizeMs(bufferMs)
}

// LatencyMs returns the buffered audio duration in milliseconds.
func (s *Stream) LatencyMs() int {
	return s.buffer.LatencyMs()
}

// FillPercent returns the buffer fill level as 0-100.
func (s *Stream) FillPercent() int {
	return s.buffer.FillPercent()
}

// Clear drops all buffered audio.
func (s *Stream) Clear() {
	s.buffer.Clear()
}
