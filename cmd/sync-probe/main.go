// ABOUTME: Diagnostic tool to observe clock synchronization against a master
// ABOUTME: Connects as a headless sink and reports offset and buffer stats
package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/Chorale-Protocol/chorale-go/internal/transport"
	"github.com/Chorale-Protocol/chorale-go/pkg/chorale"
)

var (
	masterAddr = flag.String("master", "localhost:8931", "Master node address")
	passkey    = flag.String("passkey", "", "Shared network passphrase")
	duration   = flag.Duration("duration", 10*time.Second, "How long to observe")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	fmt.Println("=== Chorale Sync Probe ===")
	fmt.Printf("Connecting to master at %s...\n", *masterAddr)

	ch, err := transport.Dial(*masterAddr)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer ch.Close()

	config := chorale.Config{
		NodeID:  "sync-probe",
		Channel: ch,
	}
	if *passkey != "" {
		key := sha256.Sum256([]byte(*passkey))
		config.NetworkKey = &key
	}

	probe, err := chorale.StartSink(config)
	if err != nil {
		log.Fatalf("Probe error: %v", err)
	}
	defer probe.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(*duration)

	for {
		select {
		case <-ticker.C:
			fmt.Printf("synchronized=%v buffer=%d%% latency=%dms\n",
				probe.IsSynchronized(), probe.BufferLevel(), probe.CurrentLatency())
		case <-deadline:
			if !probe.IsSynchronized() {
				log.Fatalf("Never synchronized: no beacons received from %s", *masterAddr)
			}
			fmt.Println("Probe complete")
			return
		}
	}
}
