// ABOUTME: Tests for the sync engine lifecycle and audio path
// ABOUTME: Runs headless with injected time providers
package chorale

import (
	"errors"
	"testing"
	"time"
)

func TestEngineStartBeforeInitialize(t *testing.T) {
	e := NewEngine(48000, 2, 0, nil)

	err := e.Start(20)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestEngineStartStopIdempotent(t *testing.T) {
	e := NewEngine(48000, 2, 0, nil)
	if err := e.Initialize(nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := e.Start(20); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Start(20); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}
	if !e.Active() {
		t.Error("engine should be active after Start")
	}

	e.Stop()
	e.Stop()
	if e.Active() {
		t.Error("engine should be inactive after Stop")
	}
}

func TestEngineWriteAndRender(t *testing.T) {
	currentTime := uint64(1000)
	e := NewEngine(48000, 2, 0, nil)
	if err := e.Initialize(func() uint64 { return currentTime }); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := e.Start(20); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	// 10ms of stereo audio at 48kHz, timestamped at the current time.
	frames := 480
	samples := make([]float32, frames*2)
	for i := range samples {
		samples[i] = 0.5
	}
	written, err := e.WriteAudioData(samples, frames, currentTime)
	if err != nil {
		t.Fatalf("WriteAudioData failed: %v", err)
	}
	if written != frames {
		t.Errorf("expected %d frames written, got %d", frames, written)
	}

	out := make([]float32, 96*2)
	rendered := e.Render(out)
	if rendered == 0 {
		t.Fatal("expected live frames from Render")
	}
	if out[0] != 0.5 {
		t.Errorf("expected sample 0.5, got %f", out[0])
	}
}

func TestEngineRendersSilenceWhenStopped(t *testing.T) {
	e := NewEngine(48000, 2, 0, nil)
	if err := e.Initialize(nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	out := make([]float32, 64)
	out[0] = 0.7
	if got := e.Render(out); got != 0 {
		t.Errorf("expected 0 live frames before Start, got %d", got)
	}
	if out[0] != 0 {
		t.Error("expected output zeroed when stopped")
	}
}

func TestEngineSyncStateFallback(t *testing.T) {
	e := NewEngine(48000, 2, 0, nil)

	if e.Synchronized() {
		t.Error("new engine should not be synchronized")
	}
	e.UpdateSyncState(true, 250)
	if !e.Synchronized() {
		t.Error("engine should be synchronized after update")
	}
	e.UpdateSyncState(false, 0)
	if e.Synchronized() {
		t.Error("engine should track loss of sync")
	}
}

func TestEngineConfiguredBufferSize(t *testing.T) {
	currentTime := uint64(1000)
	e := NewEngine(48000, 2, 35, nil)
	if err := e.Initialize(func() uint64 { return currentTime }); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// A 35ms buffer at 48kHz holds 1680 frames; a 20ms one only 960.
	frames := 1200
	samples := make([]float32, frames*2)
	written, err := e.WriteAudioData(samples, frames, currentTime)
	if err != nil {
		t.Fatalf("WriteAudioData failed: %v", err)
	}
	if written != frames {
		t.Errorf("expected %d frames to fit in a 35ms buffer, got %d", frames, written)
	}
}

func TestEngineRenderNotBlockedByStartWait(t *testing.T) {
	e := NewEngine(48000, 2, 0, nil)
	if err := e.Initialize(nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Start sleeps half the buffer duration; the render path must not
	// stall behind it.
	done := make(chan error, 1)
	go func() { done <- e.Start(400) }()
	time.Sleep(50 * time.Millisecond)

	out := make([]float32, 128)
	began := time.Now()
	e.Render(out)
	if elapsed := time.Since(began); elapsed > 100*time.Millisecond {
		t.Errorf("Render blocked for %v during engine start", elapsed)
	}

	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	e.Stop()
}

func TestEngineStopDuringStartWait(t *testing.T) {
	e := NewEngine(48000, 2, 0, nil)
	if err := e.Initialize(nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Start(400) }()
	time.Sleep(50 * time.Millisecond)
	e.Stop()

	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if e.Active() {
		t.Error("engine should stay stopped when Stop lands during the fill wait")
	}
}

func TestEngineBufferMetricsHeadless(t *testing.T) {
	e := NewEngine(48000, 2, 0, nil)

	// Before Initialize the metrics report an empty buffer.
	if lvl := e.BufferLevel(); lvl != 0 {
		t.Errorf("expected buffer level 0, got %d", lvl)
	}
	if lat := e.CurrentLatency(); lat != 0 {
		t.Errorf("expected latency 0, got %d", lat)
	}
}
