// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds the device from the render callback via an io.Reader shim
package player

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// renderBlockFrames is how many frames each device read renders.
const renderBlockFrames = 480 // 10ms at 48kHz

// Oto is an Output backed by the oto library.
type Oto struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	sampleRate int
	channels   int
	ready      bool
}

// NewOto creates an oto output.
func NewOto() Output {
	return &Oto{}
}

// Open initializes the oto context. oto allows one context per process, so
// a format change after the first Open is rejected.
func (o *Oto) Open(sampleRate, channels int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil {
		if o.sampleRate == sampleRate && o.channels == channels {
			return nil
		}
		return fmt.Errorf("oto does not support reinitialization (%dHz %dch -> %dHz %dch)",
			o.sampleRate, o.channels, sampleRate, channels)
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.ready = true

	log.Printf("Audio output initialized: %dHz, %d channels", sampleRate, channels)
	return nil
}

// Start begins playback, pulling audio through render on demand.
func (o *Oto) Start(render RenderFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.ready {
		return fmt.Errorf("output not initialized")
	}
	if o.player != nil {
		return nil
	}

	o.player = o.otoCtx.NewPlayer(&renderReader{
		render:   render,
		channels: o.channels,
	})
	o.player.Play()
	return nil
}

// Close stops playback. Idempotent.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
		o.ready = false
	}
	return nil
}

// renderReader adapts the render callback to the io.Reader oto consumes,
// converting float32 frames to signed 16-bit little-endian PCM.
type renderReader struct {
	render   RenderFunc
	channels int
	pending  []byte
}

func (r *renderReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		samples := make([]float32, renderBlockFrames*r.channels)
		r.render(samples)
		r.pending = floatToS16LE(samples)
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func floatToS16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		}
		if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}
