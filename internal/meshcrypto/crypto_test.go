// ABOUTME: Tests for mesh cryptography
// ABOUTME: Covers nonce uniqueness, AEAD round-trips, signatures and tokens
package meshcrypto

import (
	"bytes"
	"errors"
	"testing"
)

func newTestCrypto(t *testing.T) *Crypto {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNonceUniqueness(t *testing.T) {
	c := newTestCrypto(t)

	seen := make(map[[NonceSize]byte]bool)
	for i := 0; i < 1000; i++ {
		c.mu.Lock()
		nonce := c.generateNonce()
		c.mu.Unlock()
		if seen[nonce] {
			t.Fatalf("nonce repeated after %d generations", i)
		}
		seen[nonce] = true
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCrypto(t)

	payloads := [][]byte{
		[]byte("secure audio control packet"),
		{0x00, 0xff, 0x7f},
		{},
	}

	for _, payload := range payloads {
		encrypted, err := c.Encrypt(payload)
		if err != nil {
			t.Fatalf("encrypt(%q): %v", payload, err)
		}
		if len(encrypted) != NonceSize+len(payload)+TagSize {
			t.Errorf("unexpected ciphertext length %d for %d-byte payload",
				len(encrypted), len(payload))
		}

		decrypted, err := c.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(payload, decrypted) {
			t.Errorf("round trip mismatch: %v != %v", payload, decrypted)
		}
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	c := newTestCrypto(t)

	_, err := c.Decrypt(make([]byte, NonceSize+TagSize-1))
	if err == nil {
		t.Fatal("expected error for short input")
	}
	var cryptoErr *Error
	if !errors.As(err, &cryptoErr) || cryptoErr.Kind != KindDecryption {
		t.Errorf("expected Decryption error, got %v", err)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c := newTestCrypto(t)

	encrypted, err := c.Encrypt([]byte("beacon payload"))
	if err != nil {
		t.Fatal(err)
	}
	encrypted[len(encrypted)-1] ^= 0x01

	if _, err := c.Decrypt(encrypted); err == nil {
		t.Error("expected authentication failure for tampered ciphertext")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a := newTestCrypto(t)
	b := newTestCrypto(t)

	encrypted, err := a.Encrypt([]byte("for network A only"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(encrypted); err == nil {
		t.Error("expected decryption failure under a different network key")
	}
}

func TestSignVerify(t *testing.T) {
	signer := newTestCrypto(t)
	verifier := newTestCrypto(t)
	verifier.RegisterNodeKey("node-a", signer.PublicKey())

	message := []byte("emergency resync command")
	sig, err := signer.Sign(message)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := verifier.Verify("node-a", message, sig)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected valid signature")
	}

	// A single altered byte must invalidate the signature.
	altered := append([]byte{}, message...)
	altered[0] ^= 0x01
	ok, err = verifier.Verify("node-a", altered, sig)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected invalid signature for altered message")
	}
}

func TestVerifyUnknownSigner(t *testing.T) {
	c := newTestCrypto(t)

	sig, _ := c.Sign([]byte("msg"))
	_, err := c.Verify("ghost", []byte("msg"), sig)
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
	var cryptoErr *Error
	if !errors.As(err, &cryptoErr) || cryptoErr.Kind != KindVerification {
		t.Errorf("expected Verification error, got %v", err)
	}
}

func TestVerifyRejectsBadSignatureLength(t *testing.T) {
	signer := newTestCrypto(t)
	verifier := newTestCrypto(t)
	verifier.RegisterNodeKey("node-a", signer.PublicKey())

	if _, err := verifier.Verify("node-a", []byte("msg"), []byte("short")); err == nil {
		t.Error("expected error for truncated signature")
	}
}

func TestKeyExchange(t *testing.T) {
	a := newTestCrypto(t)
	b := newTestCrypto(t)

	pubA := a.ExchangePublicKey()
	pubB := b.ExchangePublicKey()

	sharedA, err := a.KeyExchange(pubB[:])
	if err != nil {
		t.Fatal(err)
	}
	sharedB, err := b.KeyExchange(pubA[:])
	if err != nil {
		t.Fatal(err)
	}

	if sharedA != sharedB {
		t.Error("both sides must derive the same key")
	}
	if sharedA == a.NetworkKey() {
		t.Error("derived key must not equal the raw network key")
	}
}

func TestKeyExchangeRejectsMalformedKey(t *testing.T) {
	c := newTestCrypto(t)

	_, err := c.KeyExchange(make([]byte, 16))
	if err == nil {
		t.Fatal("expected error for short public key")
	}
	var cryptoErr *Error
	if !errors.As(err, &cryptoErr) || cryptoErr.Kind != KindKeyExchange {
		t.Errorf("expected KeyExchange error, got %v", err)
	}
}

func TestHash(t *testing.T) {
	c := newTestCrypto(t)

	h1 := c.Hash([]byte("packet"))
	h2 := c.Hash([]byte("packet"))
	h3 := c.Hash([]byte("other packet"))

	if h1 != h2 {
		t.Error("hash must be deterministic")
	}
	if h1 == h3 {
		t.Error("distinct inputs must hash differently")
	}
}

func TestSecurityTokenLifecycle(t *testing.T) {
	issuer := newTestCrypto(t)

	verifier, err := NewWithNetworkKey(issuer.NetworkKey())
	if err != nil {
		t.Fatal(err)
	}
	verifier.RegisterNodeKey("sink-1", issuer.PublicKey())

	token, err := issuer.GenerateSecurityToken("sink-1", 60)
	if err != nil {
		t.Fatal(err)
	}

	nodeID, expiry, err := verifier.VerifySecurityToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if nodeID != "sink-1" {
		t.Errorf("expected node sink-1, got %q", nodeID)
	}
	if expiry == 0 {
		t.Error("expected non-zero expiry")
	}
}

func TestZeroTTLTokenIsBornExpired(t *testing.T) {
	issuer := newTestCrypto(t)

	verifier, err := NewWithNetworkKey(issuer.NetworkKey())
	if err != nil {
		t.Fatal(err)
	}
	verifier.RegisterNodeKey("sink-1", issuer.PublicKey())

	token, err := issuer.GenerateSecurityToken("sink-1", 0)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = verifier.VerifySecurityToken(token)
	if err == nil {
		t.Fatal("expected zero-TTL token to be expired")
	}
	var cryptoErr *Error
	if !errors.As(err, &cryptoErr) || cryptoErr.Kind != KindVerification {
		t.Errorf("expected Verification error, got %v", err)
	}
}

func TestTokenFromUnknownSignerRejected(t *testing.T) {
	issuer := newTestCrypto(t)

	verifier, err := NewWithNetworkKey(issuer.NetworkKey())
	if err != nil {
		t.Fatal(err)
	}
	// Issuer's key is never registered.

	token, err := issuer.GenerateSecurityToken("sink-1", 60)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := verifier.VerifySecurityToken(token); err == nil {
		t.Error("expected rejection of token from unregistered signer")
	}
}
