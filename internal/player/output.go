// ABOUTME: Audio output interface for the synchronized playback path
// ABOUTME: The sink pulls interleaved float frames on demand via a render callback
package player

// RenderFunc fills out with interleaved float32 samples and returns the
// number of live frames rendered. Implementations must never block: any
// shortfall is silence.
type RenderFunc func(out []float32) int

// Output represents an audio output device driven by on-demand rendering.
type Output interface {
	// Open initializes the device for the given format.
	Open(sampleRate, channels int) error

	// Start begins pulling audio through render.
	Start(render RenderFunc) error

	// Close stops playback and releases the device. Idempotent.
	Close() error
}
