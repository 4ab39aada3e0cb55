// ABOUTME: Public API for the Chorale synchronized playback protocol
// ABOUTME: Composes clock sync, the mesh runtime and the audio path per node
// Package chorale provides synchronized multi-node audio playback over a
// lightweight mesh control channel.
//
// One node acts as Master (time authority and broadcaster), the others as
// Repeaters or Sinks. Time beacons carried over the mesh keep every node's
// playback clock within the jitter tolerance.
//
// Example:
//
//	node, err := chorale.StartSink(chorale.Config{Channel: ch})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop()
package chorale
