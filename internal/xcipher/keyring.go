package xcipher

import (
	"bufio"
	"encoding/hex"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// A KeyRing is a process-wide-safe set of decryption keys, looked up by
// the 64-bit key-name CASC embeds in each encrypted BLTE frame.
//
// The source CASC implementations keep this as one global table; here it
// is an explicit value so tests and multiple concurrently open Storages
// don't fight over package-level state, while Storage.SetKey/ImportKeys
// still gives callers the "just add a key and move on" ergonomics spec.md
// §6 asks for.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[uint64][]byte
}

// NewKeyRing returns an empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[uint64][]byte)}
}

// Set installs or replaces the key material for keyName.
func (kr *KeyRing) Set(keyName uint64, key []byte) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	cp := make([]byte, len(key))
	copy(cp, key)
	kr.keys[keyName] = cp
}

// Get returns the key material for keyName, or ErrKeyMissing.
func (kr *KeyRing) Get(keyName uint64) ([]byte, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	k, ok := kr.keys[keyName]
	if !ok {
		return nil, ErrKeyMissing
	}
	return k, nil
}

// Import reads a text file of "keyName hexkey" pairs, one per line,
// `#`-prefixed comments and blank lines ignored, into kr.
//
// The source key-ring loaders accept arbitrary line ordering and have no
// formal grammar (spec.md §9); this mirrors that tolerance rather than
// inventing a stricter format.
func (kr *KeyRing) Import(r io.Reader) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		nameHex := strings.TrimPrefix(fields[0], "0x")
		keyHex := fields[1]

		nameBytes, err := hex.DecodeString(pad16(nameHex))
		if err != nil {
			return errors.Wrapf(err, "xcipher: parsing key name %q", fields[0])
		}
		var name uint64
		for _, b := range nameBytes {
			name = name<<8 | uint64(b)
		}

		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return errors.Wrapf(err, "xcipher: parsing key material %q", fields[1])
		}

		kr.Set(name, key)
	}
	return s.Err()
}

func pad16(s string) string {
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}
