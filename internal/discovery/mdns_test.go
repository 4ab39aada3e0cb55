// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers manager creation and TXT record parsing
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{
		NodeID: "sink-1",
		Role:   "sink",
		Port:   8930,
	})
	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	mgr.Stop()
}

func TestPeerFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       8930,
		InfoFields: []string{"id=repeater-7", "role=repeater"},
	}

	peer := peerFromEntry(entry)
	if peer == nil {
		t.Fatal("expected peer")
	}
	if peer.NodeID != "repeater-7" || peer.Role != "repeater" {
		t.Errorf("unexpected peer %+v", peer)
	}
	if peer.Host != "192.168.1.20" || peer.Port != 8930 {
		t.Errorf("unexpected address %s:%d", peer.Host, peer.Port)
	}
}

func TestPeerFromEntryWithoutID(t *testing.T) {
	entry := &mdns.ServiceEntry{
		AddrV4:     net.IPv4(192, 168, 1, 21),
		Port:       8930,
		InfoFields: []string{"role=sink"},
	}
	if peer := peerFromEntry(entry); peer != nil {
		t.Errorf("expected nil peer for entry without id, got %+v", peer)
	}
}
