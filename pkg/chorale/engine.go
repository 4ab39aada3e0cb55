// ABOUTME: Sync engine binding the synchronized clock to the audio path
// ABOUTME: Every rendered buffer is positioned against the mesh time source
package chorale

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Chorale-Protocol/chorale-go/internal/audio"
	"github.com/Chorale-Protocol/chorale-go/internal/player"
)

// ErrNotInitialized is returned when an operation requires Initialize to
// have been called first.
var ErrNotInitialized = errors.New("sync engine not initialized")

// Engine drives the audio path from a synchronized time source. An external
// time provider (normally the clock sync manager) positions every rendered
// block; without one, a local fallback clock adjusted by the last pushed
// offset is used.
type Engine struct {
	sampleRate int
	channels   int
	bufferMs   int
	output     player.Output

	mu      sync.Mutex
	stream  *audio.Stream
	started bool

	// Fallback clock state, used when no external provider is wired.
	startTime    time.Time
	fallbackMu   sync.RWMutex
	synchronized bool
	timeOffsetMs int64
}

// NewEngine creates an engine for the given format. bufferMs is the initial
// jitter buffer duration (0 selects the 20ms default). output may be nil
// for headless operation (tests, repeaters that never render).
func NewEngine(sampleRate, channels, bufferMs int, output player.Output) *Engine {
	if bufferMs == 0 {
		bufferMs = 20
	}
	return &Engine{
		sampleRate: sampleRate,
		channels:   channels,
		bufferMs:   bufferMs,
		output:     output,
		startTime:  time.Now(),
	}
}

// Initialize wires the time provider into the audio path and prepares the
// output device. A nil provider selects the fallback clock.
func (e *Engine) Initialize(timeProvider audio.TimeProvider) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if timeProvider == nil {
		timeProvider = e.localSyncTime
	}

	stream, err := audio.NewStream(e.sampleRate, e.channels, e.bufferMs, timeProvider)
	if err != nil {
		return err
	}
	e.stream = stream

	if e.output != nil {
		if err := e.output.Open(e.sampleRate, e.channels); err != nil {
			return err
		}
	}

	log.Printf("Sync engine initialized: %dHz, %d channels", e.sampleRate, e.channels)
	return nil
}

// Start applies the recommended buffer size, waits half that duration so
// the buffer can partially fill, then begins output. Starting a started
// engine is a no-op.
func (e *Engine) Start(optimalBufferMs uint32) error {
	e.mu.Lock()
	if e.stream == nil {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	if err := e.stream.SetBufferSizeMs(int(optimalBufferMs)); err != nil {
		e.mu.Unlock()
		return err
	}
	stream := e.stream
	e.started = true
	e.mu.Unlock()

	// Let the buffer partially fill to avoid an immediate underrun. The
	// lock is released so the render callback stays bounded meanwhile.
	time.Sleep(time.Duration(optimalBufferMs/2) * time.Millisecond)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		// Stopped during the fill wait.
		return nil
	}
	stream.Start()
	if e.output != nil {
		if err := e.output.Start(e.Render); err != nil {
			stream.Stop()
			e.started = false
			return err
		}
	}

	log.Printf("Sync engine started with %dms buffer", optimalBufferMs)
	return nil
}

// Stop halts rendering. Stopping a stopped engine is harmless.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return
	}
	e.stream.Stop()
	e.started = false

	log.Printf("Sync engine stopped")
}

// Active reports whether the engine is rendering.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// UpdateSyncState pushes the clock sync manager's state into the fallback
// clock used when no external time provider is set.
func (e *Engine) UpdateSyncState(isSynced bool, offsetMs int64) {
	e.fallbackMu.Lock()
	e.synchronized = isSynced
	e.timeOffsetMs = offsetMs
	e.fallbackMu.Unlock()

	if isSynced {
		log.Printf("Sync engine synchronized, offset %dms", offsetMs)
	}
}

// Synchronized reports the last pushed sync state.
func (e *Engine) Synchronized() bool {
	e.fallbackMu.RLock()
	defer e.fallbackMu.RUnlock()
	return e.synchronized
}

// WriteAudioData forwards timestamped interleaved frames into the buffer
// pipeline. Returns the number of frames written.
func (e *Engine) WriteAudioData(samples []float32, frames int, timestampMs uint64) (int, error) {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()

	if stream == nil {
		return 0, ErrNotInitialized
	}
	return stream.Write(samples, frames, timestampMs), nil
}

// Render fills out with the next block of synchronized audio. Safe for use
// as a real-time output callback.
func (e *Engine) Render(out []float32) int {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()

	if stream == nil {
		for i := range out {
			out[i] = 0
		}
		return 0
	}
	return stream.Render(out)
}

// CurrentLatency returns the buffered audio duration in milliseconds.
func (e *Engine) CurrentLatency() uint32 {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()

	if stream == nil {
		return 0
	}
	return uint32(stream.LatencyMs())
}

// BufferLevel returns the buffer fill level as 0-100.
func (e *Engine) BufferLevel() uint8 {
	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()

	if stream == nil {
		return 0
	}
	return uint8(stream.FillPercent())
}

// localSyncTime is the fallback clock: elapsed local time adjusted by the
// last pushed offset.
func (e *Engine) localSyncTime() uint64 {
	e.fallbackMu.RLock()
	defer e.fallbackMu.RUnlock()

	elapsed := time.Since(e.startTime).Milliseconds()
	return uint64(elapsed + e.timeOffsetMs)
}
