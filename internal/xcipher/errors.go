package xcipher

import "github.com/pkg/errors"

// Sentinel errors returned by the cipher primitives. This package returns
// them unwrapped; callers in blte match them with errors.Is.
var (
	// ErrKeyMissing is returned when a frame names a key-name not present
	// in the key ring.
	ErrKeyMissing = errors.New("xcipher: decryption key not in key ring")

	// ErrBadMac is returned when an authenticated cipher's tag check
	// fails. CASC's own ciphers (AES-CTR, Salsa20) are unauthenticated, so
	// this is reserved for future cipher types; it is part of the closed
	// error set spec.md §4.1 names.
	ErrBadMac = errors.New("xcipher: mac verification failed")

	// ErrUnknownCipher is returned for a cipher-type byte CASC does not
	// define (only 'S' and 'A' are known).
	ErrUnknownCipher = errors.New("xcipher: unknown cipher type")
)
