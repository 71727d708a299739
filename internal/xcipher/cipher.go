// Package xcipher implements the two block ciphers CASC's BLTE "E" frames
// may be wrapped in (AES-128 CTR and Salsa20), plus the key ring they are
// looked up against. Both ciphers derive their counter/nonce from a
// per-frame 8-byte IV XORed with the frame's logical offset, per spec.md
// §4.1.
package xcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"golang.org/x/crypto/salsa20/salsa"
)

// CipherType identifies the stream cipher an "E" frame was encrypted
// with.
type CipherType byte

const (
	CipherSalsa20 CipherType = 'S'
	CipherAESCTR  CipherType = 'A'
)

// deriveIV XORs the frame's 8-byte IV with its logical offset, low byte
// first, the construction every known CASC cipher uses.
func deriveIV(iv [8]byte, blockOffset uint64) [8]byte {
	var out [8]byte
	var offBytes [8]byte
	binary.LittleEndian.PutUint64(offBytes[:], blockOffset)
	for i := range out {
		out[i] = iv[i] ^ offBytes[i]
	}
	return out
}

// Decrypt decrypts src into a new slice using the named cipher, key and
// per-frame IV, with blockOffset (the frame's logical start offset within
// its logical file) folded into the IV as spec.md §4.1 describes.
func Decrypt(ct CipherType, key []byte, iv [8]byte, blockOffset uint64, src []byte) ([]byte, error) {
	effectiveIV := deriveIV(iv, blockOffset)

	switch ct {
	case CipherSalsa20:
		return decryptSalsa20(key, effectiveIV, src)
	case CipherAESCTR:
		return decryptAESCTR(key, effectiveIV, src)
	default:
		return nil, ErrUnknownCipher
	}
}

func decryptSalsa20(key, iv []byte, src []byte) ([]byte, error) {
	var key32 [32]byte
	copy(key32[:], key)
	var nonce8 [8]byte
	copy(nonce8[:], iv)

	dst := make([]byte, len(src))
	salsa.XORKeyStream(dst, src, &nonce8, &key32)
	return dst, nil
}

func decryptAESCTR(key, iv []byte, src []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	// AES-CTR needs a 16-byte counter; CASC's IV is only 8 bytes, so the
	// remaining bytes of the counter block stay zero, matching the
	// reference implementation's convention.
	var counter [aes.BlockSize]byte
	copy(counter[:8], iv)

	stream := cipher.NewCTR(block, counter[:])
	dst := make([]byte, len(src))
	stream.XORKeyStream(dst, src)
	return dst, nil
}
