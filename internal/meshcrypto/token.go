// ABOUTME: Expiring signed and encrypted security tokens
// ABOUTME: Token layout: nodeID || issuedAt || expiry || signature, sealed
package meshcrypto

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
)

// token trailer: issuedAt(8) + expiry(8) + signature(64)
const tokenTrailerSize = 8 + 8 + ed25519.SignatureSize

// GenerateSecurityToken issues a token binding nodeID to an expiry
// ttlSeconds from now. The token payload is signed, then the whole payload
// is sealed with the network key. A zero TTL produces a token that is
// already expired.
func (c *Crypto) GenerateSecurityToken(nodeID string, ttlSeconds uint64) ([]byte, error) {
	issuedAt := uint64(c.clock().UnixMilli())
	expiry := issuedAt + ttlSeconds*1000

	data := make([]byte, 0, len(nodeID)+tokenTrailerSize)
	data = append(data, nodeID...)
	data = binary.LittleEndian.AppendUint64(data, issuedAt)
	data = binary.LittleEndian.AppendUint64(data, expiry)

	sig, err := c.Sign(data)
	if err != nil {
		return nil, err
	}
	data = append(data, sig...)

	return c.Encrypt(data)
}

// VerifySecurityToken decrypts and validates a token, returning the node id
// and expiry on success. Expired tokens and invalid signatures fail with
// typed Verification errors. A token is valid strictly before its expiry,
// so zero-TTL tokens are born expired.
func (c *Crypto) VerifySecurityToken(token []byte) (nodeID string, expiry uint64, err error) {
	decrypted, err := c.Decrypt(token)
	if err != nil {
		return "", 0, err
	}

	if len(decrypted) < tokenTrailerSize {
		return "", 0, newError(KindVerification, "invalid token format")
	}

	sig := decrypted[len(decrypted)-ed25519.SignatureSize:]
	data := decrypted[:len(decrypted)-ed25519.SignatureSize]

	expiryStart := len(data) - 8
	issuedStart := expiryStart - 8

	nodeID = string(data[:issuedStart])
	expiry = binary.LittleEndian.Uint64(data[expiryStart:])

	if uint64(c.clock().UnixMilli()) >= expiry {
		return "", 0, newError(KindVerification, "token expired")
	}

	valid, err := c.Verify(nodeID, data, sig)
	if err != nil {
		return "", 0, err
	}
	if !valid {
		return "", 0, newError(KindVerification, fmt.Sprintf("invalid signature for node %s", nodeID))
	}

	return nodeID, expiry, nil
}
