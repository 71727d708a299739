package root

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/lukegb/casc/internal/xcipher"
	"github.com/lukegb/casc/internal/xhash"
	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

// Overwatch is the root.Handler built from a pair of companion files: an
// APM package table and a CMF content manifest, optionally AES-encrypted
// under a per-build key.
type Overwatch struct {
	byHash map[uint64]*keyindex.Entry
	byName map[string]*keyindex.Entry
	pkgs   []string
}

// overwatchAPMHeader precedes the package name table in an APM file.
type overwatchAPMHeader struct {
	PackageCount uint32
}

// ParseOverwatchAPM reads an APM package table: a count followed by that
// many NUL-terminated package names.
func ParseOverwatchAPM(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading APM file")
	}
	buf := bytes.NewReader(data)
	var hdr overwatchAPMHeader
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "reading APM header")
	}

	pkgs := make([]string, 0, hdr.PackageCount)
	for i := uint32(0); i < hdr.PackageCount; i++ {
		name, err := readCString(buf)
		if err != nil {
			return nil, errors.Wrap(err, "reading package name")
		}
		pkgs = append(pkgs, name)
	}
	return pkgs, nil
}

func readCString(r io.ByteReader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

// ParseOverwatchCMF parses a content manifest: a stream of (name_hash,
// CKey) pairs. When encrypted is true, the whole buffer is first
// decrypted as one AES-CTR stream with the kr key named keyName and the
// given iv.
func ParseOverwatchCMF(r io.Reader, tbl *keyindex.Table, kr *xcipher.KeyRing, encrypted bool, keyName uint64, iv [8]byte) (*Overwatch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading CMF file")
	}

	if encrypted {
		key, err := kr.Get(keyName)
		if err != nil {
			return nil, errors.Wrap(err, "resolving CMF key")
		}
		data, err = xcipher.Decrypt(xcipher.CipherAESCTR, key, iv, 0, data)
		if err != nil {
			return nil, errors.Wrap(err, "decrypting CMF")
		}
	}

	ow := &Overwatch{
		byHash: make(map[uint64]*keyindex.Entry),
		byName: make(map[string]*keyindex.Entry),
	}

	buf := bytes.NewReader(data)
	for buf.Len() > 0 {
		var rec struct {
			NameHash uint64
			CKey     keyindex.CKey
		}
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, errors.Wrap(err, "reading CMF record")
		}
		ow.byHash[rec.NameHash] = tbl.Insert(rec.CKey)
	}

	return ow, nil
}

// SetPackages records the APM package table alongside a parsed CMF.
// Lookups and Iterate do not use it.
func (ow *Overwatch) SetPackages(pkgs []string) { ow.pkgs = pkgs }

// GetByName resolves by Jenkins96 hash, or by a name previously Insert-ed
// from an external listfile.
func (ow *Overwatch) GetByName(name string) (*keyindex.Entry, bool) {
	if e, ok := ow.byName[xhash.NormalizeName(name)]; ok {
		return e, true
	}
	e, ok := ow.byHash[xhash.HashName(name)]
	return e, ok
}

// GetByID always fails: Overwatch has no file-data-id space.
func (ow *Overwatch) GetByID(fileDataID uint32) (*keyindex.Entry, bool) {
	return nil, false
}

// Insert binds an external name to its Jenkins96 hash bucket.
func (ow *Overwatch) Insert(name string, fileDataID uint32, e *keyindex.Entry) error {
	ow.byName[xhash.NormalizeName(name)] = e
	ow.byHash[xhash.HashName(name)] = e
	return nil
}

// Iterate calls fn for every known content entry.
func (ow *Overwatch) Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) {
	for h, e := range ow.byHash {
		name := fmt.Sprintf("%016x", h)
		for n, ne := range ow.byName {
			if ne == e {
				name = n
				break
			}
		}
		if !fn(name, 0, e) {
			return
		}
	}
}

// Close is a no-op.
func (ow *Overwatch) Close() error { return nil }
