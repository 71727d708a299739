package xcipher

import (
	"bytes"
	"testing"
)

func TestAESCTRRoundTrip(t *testing.T) {
	key := []byte("0123456789ABCDEF")
	var iv [8]byte
	copy(iv[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	plain := []byte("the quick brown fox jumps over the lazy dog")

	enc, err := Decrypt(CipherAESCTR, key, iv, 0, plain)
	if err != nil {
		t.Fatal(err)
	}
	// CTR mode is its own inverse.
	dec, err := Decrypt(CipherAESCTR, key, iv, 0, enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, plain) {
		t.Errorf("round trip mismatch: got %q want %q", dec, plain)
	}
}

func TestSalsa20RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	var iv [8]byte
	copy(iv[:], []byte{8, 7, 6, 5, 4, 3, 2, 1})
	plain := []byte("salsa20 test vector payload")

	enc, err := Decrypt(CipherSalsa20, key, iv, 0, plain)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := Decrypt(CipherSalsa20, key, iv, 0, enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, plain) {
		t.Errorf("round trip mismatch: got %q want %q", dec, plain)
	}
}

func TestDecryptUnknownCipher(t *testing.T) {
	var iv [8]byte
	if _, err := Decrypt(CipherType('X'), nil, iv, 0, nil); err != ErrUnknownCipher {
		t.Errorf("got %v, want ErrUnknownCipher", err)
	}
}

func TestKeyRingImport(t *testing.T) {
	kr := NewKeyRing()
	data := `# comment
0123456789ABCDEF FF00FF00FF00FF00FF00FF00FF00FF00

	`
	if err := kr.Import(bytes.NewReader([]byte(data))); err != nil {
		t.Fatal(err)
	}
	key, err := kr.Get(0x0123456789ABCDEF)
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 16 {
		t.Errorf("key length = %d, want 16", len(key))
	}

	if _, err := kr.Get(0xdeadbeef); err != ErrKeyMissing {
		t.Errorf("got %v, want ErrKeyMissing", err)
	}
}
