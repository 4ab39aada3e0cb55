// ABOUTME: Clock synchronization against the mesh time authority
// ABOUTME: Tracks master offset, per-node latencies and adaptive buffer sizing
package sync

import (
	"sync"
	"time"
)

const (
	// MaxJitterMs is the end-to-end jitter tolerance between nodes.
	MaxJitterMs = 5

	// MaxBufferMs caps adaptive buffer sizing at the 40ms latency budget.
	MaxBufferMs = 40

	// DefaultBufferMs is used before any latency has been measured.
	DefaultBufferMs = 20

	// bufferHeadroomMs is added above measured latency to absorb jitter.
	bufferHeadroomMs = 10
)

// Manager tracks the offset to the master clock and the measured latency of
// every known node. It starts Unsynchronized and becomes Synchronized on the
// first accepted time beacon. All state lives behind one lock, shared by the
// mesh worker (writes) and the audio path (reads).
type Manager struct {
	mu            sync.RWMutex
	timeOffsetMs  int64
	lastBeacon    time.Time
	hasBeacon     bool
	synced        bool
	nodeLatencies map[string]uint32
	beaconTimeout time.Duration
	clock         func() time.Time
}

// NewManager creates an unsynchronized manager.
func NewManager() *Manager {
	return &Manager{
		nodeLatencies: make(map[string]uint32),
		clock:         time.Now,
	}
}

// SetBeaconTimeout enables synchronization decay: when no beacon has arrived
// within d, IsSynchronized reports false until the next beacon. Zero (the
// default) keeps the synchronized state sticky.
func (m *Manager) SetBeaconTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beaconTimeout = d
}

// Now returns the current time in milliseconds, adjusted by the master
// offset.
func (m *Manager) Now() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nowLocked()
}

func (m *Manager) nowLocked() uint64 {
	local := m.clock().UnixMilli()
	return uint64(local + m.timeOffsetMs)
}

// HandleTimeBeacon accepts a time beacon from the master and recomputes the
// local offset. The beacon value is taken at face value: no plausibility
// check is applied.
func (m *Manager) HandleTimeBeacon(masterTimeMs uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	local := m.clock().UnixMilli()
	m.timeOffsetMs = int64(masterTimeMs) - local
	m.lastBeacon = m.clock()
	m.hasBeacon = true
	m.synced = true
}

// IsSynchronized reports whether at least one beacon has been received and,
// when a beacon timeout is configured, that the last beacon is fresh.
func (m *Manager) IsSynchronized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasBeacon || !m.synced {
		return false
	}
	if m.beaconTimeout > 0 && m.clock().Sub(m.lastBeacon) > m.beaconTimeout {
		return false
	}
	return true
}

// TimeOffsetMs returns the current signed offset to the master clock.
func (m *Manager) TimeOffsetMs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeOffsetMs
}

// UpdateNodeLatency records the measured latency for a node.
func (m *Manager) UpdateNodeLatency(nodeID string, latencyMs uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeLatencies[nodeID] = latencyMs
}

// AverageLatency returns the arithmetic mean over all tracked nodes.
// ok is false when no latency has been recorded yet.
func (m *Manager) AverageLatency() (avg float64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.nodeLatencies) == 0 {
		return 0, false
	}

	var sum uint64
	for _, l := range m.nodeLatencies {
		sum += uint64(l)
	}
	return float64(sum) / float64(len(m.nodeLatencies)), true
}

// IsNodeOutOfSync reports whether a node's self-reported time deviates from
// the synchronized clock by more than the jitter tolerance.
func (m *Manager) IsNodeOutOfSync(nodeID string, reportedTimeMs uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.nowLocked()
	var diff uint64
	if now > reportedTimeMs {
		diff = now - reportedTimeMs
	} else {
		diff = reportedTimeMs - now
	}
	return diff > MaxJitterMs
}

// BufferAdjustment sizes the jitter buffer slightly above the measured
// latency, hard-capped at the end-to-end latency budget.
func (m *Manager) BufferAdjustment(latencyMs uint32) uint32 {
	size := latencyMs + bufferHeadroomMs
	if size > MaxBufferMs {
		return MaxBufferMs
	}
	return size
}

// OptimalBufferSize applies the adjustment formula to the current average
// latency, falling back to the default when no data exists.
func (m *Manager) OptimalBufferSize() uint32 {
	avg, ok := m.AverageLatency()
	if !ok {
		return DefaultBufferMs
	}
	return m.BufferAdjustment(uint32(avg))
}

// EmergencySync forces a beacon-handling cycle and clears all tracked
// latencies. Used when the primary broadcast path is lost and the mesh
// fallback takes over.
func (m *Manager) EmergencySync(masterTimeMs uint64) {
	m.HandleTimeBeacon(masterTimeMs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeLatencies = make(map[string]uint32)
}
