// ABOUTME: End-to-end protocol tests over an in-memory transport pair
// ABOUTME: Exercises beacon sync, heartbeats, commands and token flow
package chorale

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Chorale-Protocol/chorale-go/internal/mesh"
	"github.com/Chorale-Protocol/chorale-go/internal/transport"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestPair(t *testing.T, onCommand func(mesh.Command)) (master, sink *Protocol) {
	t.Helper()

	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	a, b := transport.Pipe()

	master, err := New(Config{
		NodeID:            "master",
		Role:              RoleMaster,
		NetworkKey:        &key,
		Channel:           a,
		BeaconInterval:    10 * time.Millisecond,
		HeartbeatInterval: 25 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("creating master: %v", err)
	}

	sink, err = New(Config{
		NodeID:            "sink",
		Role:              RoleSink,
		NetworkKey:        &key,
		Channel:           b,
		BeaconInterval:    10 * time.Millisecond,
		HeartbeatInterval: 25 * time.Millisecond,
		OnCommand:         onCommand,
	})
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}

	t.Cleanup(func() {
		master.Stop()
		sink.Stop()
		a.Close()
	})
	return master, sink
}

func TestBeaconSynchronizesSink(t *testing.T) {
	master, sink := newTestPair(t, nil)

	if err := master.Start(); err != nil {
		t.Fatalf("starting master: %v", err)
	}
	if err := sink.Start(); err != nil {
		t.Fatalf("starting sink: %v", err)
	}

	if !waitFor(t, 2*time.Second, sink.IsSynchronized) {
		t.Fatal("sink never synchronized from master beacons")
	}
}

func TestMasterSelfSynchronized(t *testing.T) {
	master, _ := newTestPair(t, nil)

	if err := master.Start(); err != nil {
		t.Fatalf("starting master: %v", err)
	}
	if !master.IsSynchronized() {
		t.Error("master should be its own time authority")
	}
}

func TestStartPlaybackRequiresSync(t *testing.T) {
	_, sink := newTestPair(t, nil)

	err := sink.StartPlayback()
	if !errors.Is(err, ErrNotSynchronized) {
		t.Errorf("expected ErrNotSynchronized, got %v", err)
	}
}

func TestStartPlaybackAfterSync(t *testing.T) {
	master, sink := newTestPair(t, nil)

	if err := master.Start(); err != nil {
		t.Fatalf("starting master: %v", err)
	}
	if err := sink.Start(); err != nil {
		t.Fatalf("starting sink: %v", err)
	}
	if !waitFor(t, 2*time.Second, sink.IsSynchronized) {
		t.Fatal("sink never synchronized")
	}

	if err := sink.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed on synchronized node: %v", err)
	}
	sink.StopPlayback()
}

func TestHeartbeatTracksPeerLiveness(t *testing.T) {
	master, sink := newTestPair(t, nil)

	master.RegisterNode("sink", RoleSink)
	if err := master.Start(); err != nil {
		t.Fatalf("starting master: %v", err)
	}
	if err := sink.Start(); err != nil {
		t.Fatalf("starting sink: %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		for _, id := range master.ActiveNodes() {
			if id == "sink" {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatal("master never saw the sink's heartbeat")
	}
}

func TestCommandDelivery(t *testing.T) {
	var got atomic.Value
	master, sink := newTestPair(t, func(cmd mesh.Command) {
		got.Store(cmd.CmdType)
	})

	if err := master.Start(); err != nil {
		t.Fatalf("starting master: %v", err)
	}
	if err := sink.Start(); err != nil {
		t.Fatalf("starting sink: %v", err)
	}

	if err := master.SendPacket(mesh.Command{CmdType: "volume", Params: map[string]string{"level": "80"}}); err != nil {
		t.Fatalf("sending command: %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		v, _ := got.Load().(string)
		return v == "volume"
	})
	if !ok {
		t.Fatal("command never reached the sink handler")
	}
}

func TestEmergencyResyncTargeting(t *testing.T) {
	// Repeaters emit no beacons, so the only sync path is the resync
	// packet itself.
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	a, b := transport.Pipe()

	sender, err := New(Config{NodeID: "rpt-a", Role: RoleRepeater, NetworkKey: &key, Channel: a})
	if err != nil {
		t.Fatalf("creating sender: %v", err)
	}
	receiver, err := New(Config{NodeID: "rpt-b", Role: RoleRepeater, NetworkKey: &key, Channel: b})
	if err != nil {
		t.Fatalf("creating receiver: %v", err)
	}
	t.Cleanup(func() {
		sender.Stop()
		receiver.Stop()
		a.Close()
	})
	if err := sender.Start(); err != nil {
		t.Fatalf("starting sender: %v", err)
	}
	if err := receiver.Start(); err != nil {
		t.Fatalf("starting receiver: %v", err)
	}

	// Addressed to another node: the receiver must ignore it.
	if err := sender.EmergencyResync([]string{"other-node"}); err != nil {
		t.Fatalf("sending targeted resync: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if receiver.IsSynchronized() {
		t.Fatal("receiver acted on a resync addressed elsewhere")
	}

	// Broadcast: the receiver must synchronize.
	if err := sender.EmergencyResync(nil); err != nil {
		t.Fatalf("sending broadcast resync: %v", err)
	}
	if !waitFor(t, 2*time.Second, receiver.IsSynchronized) {
		t.Fatal("receiver never synchronized from broadcast resync")
	}
}

func TestRepeaterRelaysBeacons(t *testing.T) {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	upNear, upFar := transport.Pipe()
	downNear, downFar := transport.Pipe()

	master, err := New(Config{NodeID: "master", Role: RoleMaster, NetworkKey: &key,
		Channel: upFar, BeaconInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("creating master: %v", err)
	}
	relay := transport.NewRelay(upNear, downNear)
	repeater, err := New(Config{NodeID: "repeater", Role: RoleRepeater, NetworkKey: &key,
		Channel: relay})
	if err != nil {
		t.Fatalf("creating repeater: %v", err)
	}
	sink, err := New(Config{NodeID: "sink", Role: RoleSink, NetworkKey: &key,
		Channel: downFar})
	if err != nil {
		t.Fatalf("creating sink: %v", err)
	}
	t.Cleanup(func() {
		master.Stop()
		repeater.Stop()
		sink.Stop()
		relay.Close()
		upFar.Close()
		downFar.Close()
	})

	for _, node := range []*Protocol{master, repeater, sink} {
		if err := node.Start(); err != nil {
			t.Fatalf("starting %s: %v", node.NodeID(), err)
		}
	}

	// Beacons must cross the repeater: both it and the sink synchronize.
	if !waitFor(t, 2*time.Second, repeater.IsSynchronized) {
		t.Fatal("repeater never synchronized")
	}
	if !waitFor(t, 2*time.Second, sink.IsSynchronized) {
		t.Fatal("sink behind the repeater never synchronized")
	}
}

func TestAdjustBitrate(t *testing.T) {
	master, _ := newTestPair(t, nil)

	if master.Bitrate() != 128 {
		t.Errorf("expected default bitrate 128, got %d", master.Bitrate())
	}
	master.AdjustBitrate(0.3)
	if master.Bitrate() != 64 {
		t.Errorf("expected reduced bitrate 64, got %d", master.Bitrate())
	}
	master.AdjustBitrate(0.8)
	if master.Bitrate() != 128 {
		t.Errorf("expected restored bitrate 128, got %d", master.Bitrate())
	}
}

func TestJoinTokenRoundTrip(t *testing.T) {
	master, _ := newTestPair(t, nil)

	// Tokens are verified against the issuer's signing key, registered
	// under the subject node id.
	master.RegisterNodeKey("sink", master.SigningKey())

	token, err := master.GenerateJoinToken("sink", 60)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	nodeID, err := master.VerifyJoinToken(token)
	if err != nil {
		t.Fatalf("verifying token: %v", err)
	}
	if nodeID != "sink" {
		t.Errorf("expected node id sink, got %q", nodeID)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	master, _ := newTestPair(t, nil)

	if err := master.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := master.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}
	master.Stop()
	master.Stop()
}
