// ABOUTME: JSON wire codec for mesh packets
// ABOUTME: Envelope carries a type tag plus the variant payload
package mesh

import (
	"encoding/json"
	"fmt"
)

// envelope is the top-level wrapper for all mesh messages on the wire.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeError reports a malformed or unknown inbound packet.
type DecodeError struct {
	Type   string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decoding mesh packet: %s", e.Reason)
	}
	return fmt.Sprintf("decoding mesh packet %q: %s", e.Type, e.Reason)
}

// Marshal encodes a packet into its wire envelope.
func Marshal(p Packet) ([]byte, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", Type(p), err)
	}
	return json.Marshal(envelope{Type: Type(p), Payload: payload})
}

// Unmarshal decodes a wire envelope back into its typed packet. Unknown
// type tags and malformed payloads are typed DecodeErrors.
func Unmarshal(data []byte) (Packet, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	var (
		pkt Packet
		err error
	)
	switch env.Type {
	case "ping":
		var p Ping
		err = json.Unmarshal(env.Payload, &p)
		pkt = p
	case "command":
		var p Command
		err = json.Unmarshal(env.Payload, &p)
		pkt = p
	case "status":
		var p Status
		err = json.Unmarshal(env.Payload, &p)
		pkt = p
	case "time_beacon":
		var p TimeBeacon
		err = json.Unmarshal(env.Payload, &p)
		pkt = p
	case "emergency_sync":
		var p EmergencySync
		err = json.Unmarshal(env.Payload, &p)
		pkt = p
	default:
		return nil, &DecodeError{Type: env.Type, Reason: ErrUnknownPacket.Error()}
	}

	if err != nil {
		return nil, &DecodeError{Type: env.Type, Reason: err.Error()}
	}
	return pkt, nil
}
