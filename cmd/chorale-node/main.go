// ABOUTME: Entry point for a Chorale mesh node
// ABOUTME: Parses CLI flags, wires transport and discovery, runs the node
package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Chorale-Protocol/chorale-go/internal/discovery"
	"github.com/Chorale-Protocol/chorale-go/internal/transport"
	"github.com/Chorale-Protocol/chorale-go/internal/version"
	"github.com/Chorale-Protocol/chorale-go/pkg/chorale"
)

var (
	nodeID  = flag.String("id", "", "Node identifier (default: generated)")
	role    = flag.String("role", "sink", "Node role: master, repeater or sink")
	listen  = flag.String("listen", ":8931", "Listen address for the mesh endpoint (master/repeater)")
	connect = flag.String("connect", "", "Upstream node address to connect to (default: discover via mDNS)")
	passkey = flag.String("passkey", "", "Shared network passphrase (all nodes must agree)")
	voice   = flag.Bool("voice", false, "Use the voice audio profile (16kHz mono) instead of music")
	logFile = flag.String("log-file", "chorale-node.log", "Log file path")
	noMDNS  = flag.Bool("no-mdns", false, "Disable mDNS discovery")
)

func main() {
	flag.Parse()

	// Set up logging (both file and console)
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	multiWriter := io.MultiWriter(os.Stdout, f)
	log.SetOutput(multiWriter)

	log.Printf("%s %s starting", version.Product, version.Version)

	nodeRole, err := chorale.ParseRole(*role)
	if err != nil {
		log.Fatalf("invalid role: %v", err)
	}

	config := chorale.Config{
		NodeID:    *nodeID,
		Role:      nodeRole,
		VoiceMode: *voice,
	}
	if *passkey != "" {
		key := sha256.Sum256([]byte(*passkey))
		config.NetworkKey = &key
	}

	// Masters and repeaters serve downstream peers; repeaters and sinks
	// also connect upstream. A repeater bridges the two directions.
	var hub *transport.Hub
	if nodeRole == chorale.RoleMaster || nodeRole == chorale.RoleRepeater {
		listener, err := transport.Listen(*listen)
		if err != nil {
			log.Fatalf("error starting mesh listener: %v", err)
		}
		hub = transport.NewHub(listener)
		config.Channel = hub
		log.Printf("Serving mesh peers on %s", listener.Addr())
	}
	if nodeRole == chorale.RoleRepeater || nodeRole == chorale.RoleSink {
		addr := *connect
		if addr == "" && !*noMDNS {
			addr = discoverUpstream(*nodeID)
		}
		if addr == "" {
			log.Fatalf("no upstream node: use -connect or enable mDNS")
		}
		upstream, err := transport.Dial(addr)
		if err != nil {
			log.Fatalf("error connecting to %s: %v", addr, err)
		}
		if hub != nil {
			config.Channel = transport.NewRelay(upstream, hub)
			log.Printf("Relaying between %s and downstream peers", addr)
		} else {
			config.Channel = upstream
		}
	}

	// Sinks render audio locally.
	if nodeRole == chorale.RoleSink {
		config.Output = chorale.NewOtoOutput()
	}

	node, err := chorale.New(config)
	if err != nil {
		log.Fatalf("error creating node: %v", err)
	}
	if err := node.Start(); err != nil {
		log.Fatalf("error starting node: %v", err)
	}

	var disco *discovery.Manager
	if !*noMDNS && hub != nil {
		port := listenPort(*listen)
		disco = discovery.NewManager(discovery.Config{
			NodeID: node.NodeID(),
			Role:   nodeRole.String(),
			Port:   port,
		})
		if err := disco.Advertise(); err != nil {
			log.Printf("mDNS advertisement failed: %v", err)
		}
	}

	log.Printf("Chorale node running: %s (%s)", node.NodeID(), nodeRole)
	log.Printf("Press Ctrl-C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v signal, shutting down gracefully...", sig)

	if disco != nil {
		disco.Stop()
	}
	node.Stop()
	if config.Channel != nil {
		// A relay closes its hub side as well.
		config.Channel.Close()
	}

	log.Printf("Node stopped")
}

// discoverUpstream browses mDNS for a short window and returns the first
// peer's address, preferring masters over repeaters.
func discoverUpstream(selfID string) string {
	disco := discovery.NewManager(discovery.Config{NodeID: selfID})
	disco.Browse()
	defer disco.Stop()

	log.Printf("Browsing mDNS for an upstream node...")
	deadline := time.After(10 * time.Second)
	var fallback string
	for {
		select {
		case peer := <-disco.Peers():
			addr := fmt.Sprintf("%s:%d", peer.Host, peer.Port)
			if peer.Role == chorale.RoleMaster.String() {
				log.Printf("Discovered master %s at %s", peer.NodeID, addr)
				return addr
			}
			if fallback == "" && peer.Role == chorale.RoleRepeater.String() {
				fallback = addr
			}
		case <-deadline:
			if fallback != "" {
				log.Printf("No master found, connecting to repeater at %s", fallback)
			}
			return fallback
		}
	}
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
