// ABOUTME: mDNS discovery of mesh peers on the local network
// ABOUTME: Advertises this node's id and role, browses for other nodes
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// serviceType is the mDNS service nodes advertise under.
const serviceType = "_chorale._tcp"

// Config holds discovery configuration for one node.
type Config struct {
	NodeID string
	Role   string
	Port   int
}

// PeerInfo describes a discovered mesh node.
type PeerInfo struct {
	NodeID string
	Role   string
	Host   string
	Port   int
}

// Manager handles mDNS advertisement and browsing.
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	peers  chan *PeerInfo
}

// NewManager creates a discovery manager.
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(chan *PeerInfo, 10),
	}
}

// Advertise announces this node via mDNS until the manager is stopped.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	txt := []string{
		"id=" + m.config.NodeID,
		"role=" + m.config.Role,
	}

	service, err := mdns.NewMDNSService(
		m.config.NodeID,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		txt,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mesh node %s (%s) on port %d",
		m.config.NodeID, m.config.Role, m.config.Port)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse continuously searches for other mesh nodes, delivering them on
// Peers.
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				peer := peerFromEntry(entry)
				if peer == nil || peer.NodeID == m.config.NodeID {
					continue
				}

				log.Printf("Discovered mesh node: %s (%s) at %s:%d",
					peer.NodeID, peer.Role, peer.Host, peer.Port)

				select {
				case m.peers <- peer:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: serviceType,
			Domain:  "local",
			Timeout: 3 * time.Second,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// peerFromEntry extracts node metadata from TXT records.
func peerFromEntry(entry *mdns.ServiceEntry) *PeerInfo {
	if entry.AddrV4 == nil {
		return nil
	}

	peer := &PeerInfo{
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "id="); ok {
			peer.NodeID = v
		}
		if v, ok := strings.CutPrefix(field, "role="); ok {
			peer.Role = v
		}
	}

	if peer.NodeID == "" {
		return nil
	}
	return peer
}

// Peers returns the channel of discovered nodes.
func (m *Manager) Peers() <-chan *PeerInfo {
	return m.peers
}

// Stop shuts down advertisement and browsing.
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns the non-loopback IPv4 addresses of this host.
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
