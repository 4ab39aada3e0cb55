// ABOUTME: Authenticated encryption, signing and key exchange for mesh messages
// ABOUTME: AES-256-GCM network key, Ed25519 signatures, X25519+HKDF key exchange
package meshcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// NonceSize is the AES-GCM nonce length: timestamp(8) + counter(4).
	NonceSize = 12

	// TagSize is the GCM authentication tag length.
	TagSize = 16

	// KeySize is the symmetric network key length.
	KeySize = 32

	// hkdfLabel is the domain-separation label for derived exchange keys.
	hkdfLabel = "chorale-protocol-key"
)

// Crypto protects mesh control messages for one protocol instance. It holds
// the shared network key, the node's long-lived signing and key-exchange
// keypairs, and the public keys of known peers. The nonce counter is strictly
// monotonic for the lifetime of the instance: a nonce never repeats under
// the same key.
type Crypto struct {
	mu           sync.Mutex
	networkKey   [KeySize]byte
	aead         cipher.AEAD
	signPub      ed25519.PublicKey
	signPriv     ed25519.PrivateKey
	exchPriv     [32]byte
	exchPub      [32]byte
	peerKeys     map[string]ed25519.PublicKey
	nonceCounter uint32
	clock        func() time.Time
}

// New creates a Crypto instance with freshly generated keys, including a
// random network key.
func New() (*Crypto, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, newError(KindEncryption, fmt.Sprintf("generating network key: %v", err))
	}
	return NewWithNetworkKey(key)
}

// NewWithNetworkKey creates a Crypto instance using an existing shared
// network key; signing and exchange keypairs are still generated fresh.
func NewWithNetworkKey(networkKey [KeySize]byte) (*Crypto, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, newError(KindSignature, fmt.Sprintf("generating signing keys: %v", err))
	}

	var exchPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, exchPriv[:]); err != nil {
		return nil, newError(KindKeyExchange, fmt.Sprintf("generating exchange key: %v", err))
	}
	exchPub, err := curve25519.X25519(exchPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, newError(KindKeyExchange, fmt.Sprintf("deriving exchange public key: %v", err))
	}

	c := &Crypto{
		networkKey: networkKey,
		signPub:    signPub,
		signPriv:   signPriv,
		exchPriv:   exchPriv,
		peerKeys:   make(map[string]ed25519.PublicKey),
		clock:      time.Now,
	}
	copy(c.exchPub[:], exchPub)

	if err := c.initAEAD(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Crypto) initAEAD() error {
	block, err := aes.NewCipher(c.networkKey[:])
	if err != nil {
		return newError(KindEncryption, fmt.Sprintf("creating cipher: %v", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return newError(KindEncryption, fmt.Sprintf("creating GCM: %v", err))
	}
	c.aead = aead
	return nil
}

// NetworkKey returns the shared symmetric network key.
func (c *Crypto) NetworkKey() [KeySize]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.networkKey
}

// SetNetworkKey replaces the shared network key, e.g. after a key exchange.
func (c *Crypto) SetNetworkKey(key [KeySize]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkKey = key
	return c.initAEAD()
}

// generateNonce produces a unique 12-byte nonce from the millisecond
// timestamp and a monotonically increasing counter. Callers must hold mu.
func (c *Crypto) generateNonce() [NonceSize]byte {
	c.nonceCounter++

	var nonce [NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(c.clock().UnixMilli()))
	binary.LittleEndian.PutUint32(nonce[8:12], c.nonceCounter)
	return nonce
}

// Encrypt seals payload with the network key. Output layout is
// nonce || ciphertext || tag. Empty payloads are valid.
func (c *Crypto) Encrypt(payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce := c.generateNonce()

	out := make([]byte, NonceSize, NonceSize+len(payload)+TagSize)
	copy(out, nonce[:])
	return c.aead.Seal(out, nonce[:], payload, nil), nil
}

// Decrypt opens data produced by Encrypt. It fails with a Decryption error
// when the input is too short or the authentication tag does not verify,
// and never returns partially-decrypted data.
func (c *Crypto) Decrypt(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(data) < NonceSize+TagSize {
		return nil, newError(KindDecryption, "input too short")
	}

	plaintext, err := c.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, newError(KindDecryption, "authentication failed")
	}
	return plaintext, nil
}

// Sign produces a detached Ed25519 signature over message.
func (c *Crypto) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(c.signPriv, message), nil
}

// Verify checks a detached signature against the registered public key of
// nodeID. Unknown signers and malformed key or signature sizes are typed
// Verification errors; the boolean is meaningful only when err is nil.
func (c *Crypto) Verify(nodeID string, message, signature []byte) (bool, error) {
	c.mu.Lock()
	key, known := c.peerKeys[nodeID]
	c.mu.Unlock()

	if !known {
		return false, newError(KindVerification, fmt.Sprintf("unknown node: %s", nodeID))
	}
	if len(key) != ed25519.PublicKeySize {
		return false, newError(KindVerification, "invalid public key length")
	}
	if len(signature) != ed25519.SignatureSize {
		return false, newError(KindVerification, "invalid signature length")
	}

	return ed25519.Verify(key, message, signature), nil
}

// RegisterNodeKey records the signing public key of a peer node.
func (c *Crypto) RegisterNodeKey(nodeID string, key ed25519.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerKeys[nodeID] = key
}

// PublicKey returns this node's signing public key.
func (c *Crypto) PublicKey() ed25519.PublicKey {
	return c.signPub
}

// ExchangePublicKey returns this node's X25519 public key.
func (c *Crypto) ExchangePublicKey() [32]byte {
	return c.exchPub
}

// Hash returns the SHA-256 digest of data.
func (c *Crypto) Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// KeyExchange derives a shared symmetric key from a peer's X25519 public
// key: the raw Diffie-Hellman secret is expanded through HKDF-SHA256 with a
// fixed domain-separation label.
func (c *Crypto) KeyExchange(peerPublic []byte) ([KeySize]byte, error) {
	var derived [KeySize]byte

	if len(peerPublic) != 32 {
		return derived, newError(KindKeyExchange, "invalid public key length")
	}

	shared, err := curve25519.X25519(c.exchPriv[:], peerPublic)
	if err != nil {
		return derived, newError(KindKeyExchange, err.Error())
	}

	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfLabel))
	if _, err := io.ReadFull(kdf, derived[:]); err != nil {
		return derived, newError(KindKeyExchange, fmt.Sprintf("expanding key: %v", err))
	}
	return derived, nil
}
