// ABOUTME: Tests for the broadcast hub over real loopback websockets
// ABOUTME: Verifies fan-out sends and merged receives
package transport

import (
	"bytes"
	"testing"
	"time"
)

func receiveWithin(t *testing.T, ch Channel, timeout time.Duration) []byte {
	t.Helper()
	select {
	case payload, ok := <-ch.Receive():
		if !ok {
			t.Fatal("channel closed before payload arrived")
		}
		return payload
	case <-time.After(timeout):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestHubBroadcastsToAllPeers(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	hub := NewHub(listener)
	defer hub.Close()

	peerA, err := Dial(listener.Addr().String())
	if err != nil {
		t.Fatalf("dialing peer A: %v", err)
	}
	defer peerA.Close()
	peerB, err := Dial(listener.Addr().String())
	if err != nil {
		t.Fatalf("dialing peer B: %v", err)
	}
	defer peerB.Close()

	// Give the hub a moment to accept both upgrades.
	time.Sleep(100 * time.Millisecond)

	msg := []byte("time beacon payload")
	if err := hub.Send(msg); err != nil {
		t.Fatalf("hub Send failed: %v", err)
	}

	if got := receiveWithin(t, peerA, 2*time.Second); !bytes.Equal(got, msg) {
		t.Errorf("peer A got %q, want %q", got, msg)
	}
	if got := receiveWithin(t, peerB, 2*time.Second); !bytes.Equal(got, msg) {
		t.Errorf("peer B got %q, want %q", got, msg)
	}
}

func TestHubMergesInboundStreams(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	hub := NewHub(listener)
	defer hub.Close()

	peerA, err := Dial(listener.Addr().String())
	if err != nil {
		t.Fatalf("dialing peer A: %v", err)
	}
	defer peerA.Close()
	peerB, err := Dial(listener.Addr().String())
	if err != nil {
		t.Fatalf("dialing peer B: %v", err)
	}
	defer peerB.Close()

	time.Sleep(100 * time.Millisecond)

	if err := peerA.Send([]byte("from-a")); err != nil {
		t.Fatalf("peer A Send failed: %v", err)
	}
	if err := peerB.Send([]byte("from-b")); err != nil {
		t.Fatalf("peer B Send failed: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case payload := <-hub.Receive():
			seen[string(payload)] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for merged payloads")
		}
	}
	if !seen["from-a"] || !seen["from-b"] {
		t.Errorf("expected payloads from both peers, saw %v", seen)
	}
}

func TestHubCloseIdempotent(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	hub := NewHub(listener)

	if err := hub.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := hub.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
