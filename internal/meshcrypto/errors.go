// ABOUTME: Typed error values for mesh cryptography
// ABOUTME: Every failure carries the operation kind that produced it
package meshcrypto

import "fmt"

// ErrorKind identifies the cryptographic operation that failed.
type ErrorKind int

const (
	KindEncryption ErrorKind = iota
	KindDecryption
	KindSignature
	KindVerification
	KindKeyExchange
	KindHash
)

func (k ErrorKind) String() string {
	switch k {
	case KindEncryption:
		return "encryption"
	case KindDecryption:
		return "decryption"
	case KindSignature:
		return "signature"
	case KindVerification:
		return "verification"
	case KindKeyExchange:
		return "key exchange"
	case KindHash:
		return "hash"
	default:
		return "unknown"
	}
}

// Error is a typed cryptographic failure. Callers can match on Kind with
// errors.As; cryptographic failures are never silently treated as valid.
type Error struct {
	Kind   ErrorKind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Reason)
}

func newError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}
