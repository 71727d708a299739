/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package encoding parses the encoding file: the global table mapping
// CKey to EKey(s) and sizes, keyed by two page-indexed tables (CKey page
// index, EKey page index), each page verified against a recorded MD5.
package encoding

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"

	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

var (
	ErrBadMagic        = errors.New("encoding: bad magic")
	ErrBadHashSize     = errors.New("encoding: bad hash size in header")
	ErrPageHashMismatch = errors.New("encoding: page MD5 mismatch")
)

type header struct {
	ckeyPageSizeKB uint16
	ekeyPageSizeKB uint16
	ckeyPageCount  uint32
	ekeyPageCount  uint32
	especSize      uint32
}

func readHeader(r io.Reader) (*header, error) {
	buf := make([]byte, 22)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[0] != 'E' || buf[1] != 'N' {
		return nil, ErrBadMagic
	}
	if buf[3] != 0x10 || buf[4] != 0x10 {
		return nil, ErrBadHashSize
	}

	var h header
	h.ckeyPageSizeKB = binary.BigEndian.Uint16(buf[5:7])
	h.ekeyPageSizeKB = binary.BigEndian.Uint16(buf[7:9])
	h.ckeyPageCount = binary.BigEndian.Uint32(buf[9:13])
	h.ekeyPageCount = binary.BigEndian.Uint32(buf[13:17])
	// buf[17] is an unused flag byte.
	h.especSize = binary.BigEndian.Uint32(buf[18:22])
	return &h, nil
}

// read40BE reads a 5-byte big-endian unsigned integer, the packed width
// spec.md uses for content/encoded sizes in the encoding file.
func read40BE(b []byte) int64 {
	var v int64
	for i := 0; i < 5; i++ {
		v = v<<8 | int64(b[i])
	}
	return v
}

// Parse reads a full encoding file, inserting/enriching CKey entries in
// tbl. It returns the EKey -> EncodedSize map taken from the EKey page
// table (every EKey listed there, primary or secondary span), since that
// table is the only place EncodedSize is recorded.
func Parse(r io.Reader, tbl *keyindex.Table) (map[keyindex.EKey]int64, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}

	if _, err := io.CopyN(io.Discard, r, int64(h.especSize)); err != nil {
		return nil, errors.Wrap(err, "skipping ESpec string table")
	}

	ckeyPageHashes, err := readPageIndex(r, h.ckeyPageCount)
	if err != nil {
		return nil, errors.Wrap(err, "reading CKey page index")
	}
	ekeyPageHashes, err := readPageIndex(r, h.ekeyPageCount)
	if err != nil {
		return nil, errors.Wrap(err, "reading EKey page index")
	}

	ckeyPageSize := int(h.ckeyPageSizeKB) * 1024
	for n, pageHash := range ckeyPageHashes {
		page := make([]byte, ckeyPageSize)
		if _, err := io.ReadFull(r, page); err != nil {
			return nil, errors.Wrapf(err, "reading CKey page %d", n)
		}
		if err := verifyPage(page, pageHash); err != nil {
			return nil, errors.Wrapf(err, "CKey page %d", n)
		}
		if err := parseCKeyPage(page, tbl); err != nil {
			return nil, errors.Wrapf(err, "parsing CKey page %d", n)
		}
	}

	encodedSizes := make(map[keyindex.EKey]int64)
	ekeyPageSize := int(h.ekeyPageSizeKB) * 1024
	for n, pageHash := range ekeyPageHashes {
		page := make([]byte, ekeyPageSize)
		if _, err := io.ReadFull(r, page); err != nil {
			return nil, errors.Wrapf(err, "reading EKey page %d", n)
		}
		if err := verifyPage(page, pageHash); err != nil {
			return nil, errors.Wrapf(err, "EKey page %d", n)
		}
		parseEKeyPage(page, encodedSizes)
	}

	// Now that both tables are read, apply EncodedSize to every entry
	// whose primary EKey appears in the EKey-page table.
	tbl.All(func(e *keyindex.Entry) {
		if len(e.EKeys) == 0 {
			return
		}
		if size, ok := encodedSizes[e.EKeys[0]]; ok {
			e.EncodedSize = size
		}
	})

	return encodedSizes, nil
}

type pageHash [16]byte

func readPageIndex(r io.Reader, count uint32) ([]pageHash, error) {
	hashes := make([]pageHash, count)
	buf := make([]byte, 32)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		// buf[0:16] is the page's first key, buf[16:32] is its MD5; we
		// only need the MD5 to verify the page once we read it.
		copy(hashes[i][:], buf[16:32])
	}
	return hashes, nil
}

func verifyPage(page []byte, want pageHash) error {
	got := md5.Sum(page)
	if !bytes.Equal(got[:], want[:]) {
		return errors.Wrapf(ErrPageHashMismatch, "got %x want %x", got, want)
	}
	return nil
}

// parseCKeyPage reads (key_count, content_size[5B BE], CKey[16B],
// EKey[16B]*key_count) records until a zero key_count (padding) or the
// page is exhausted.
func parseCKeyPage(page []byte, tbl *keyindex.Table) error {
	pos := 0
	for pos < len(page) {
		keyCount := int(page[pos])
		if keyCount == 0 {
			return nil
		}
		pos++
		if pos+5+16+keyCount*16 > len(page) {
			return errors.New("encoding: truncated CKey page record")
		}

		contentSize := read40BE(page[pos : pos+5])
		pos += 5

		ckey := keyindex.CKeyFromBytes(page[pos : pos+16])
		pos += 16

		// Read every span's EKey before touching the table: the primary
		// (EKeys[0]) is the one this CKey's own entry gets promoted or
		// indexed under, while secondary spans (multi-span files) are
		// left exactly as idx.Parse already indexed them, each under its
		// own entry carrying that span's own archive location. Aliasing
		// every span's EKey onto this single entry (as a naive IndexEKey
		// loop would) would make every span after the first resolve to
		// the primary span's StorageOffset instead of its own.
		ekeys := make([]keyindex.EKey, keyCount)
		for i := 0; i < keyCount; i++ {
			ekeys[i] = keyindex.EKeyFromBytes(page[pos : pos+16])
			pos += 16
		}

		ent := tbl.InsertWithPrimaryEKey(ckey, ekeys[0])
		ent.ContentSize = contentSize
		ent.EKeys = ekeys
	}
	return nil
}

// parseEKeyPage reads (EKey[16B], encoded_size[5B BE]) records until the
// page is exhausted or a zero EKey (padding) is seen.
func parseEKeyPage(page []byte, out map[keyindex.EKey]int64) {
	const recSize = 16 + 5
	for pos := 0; pos+recSize <= len(page); pos += recSize {
		rec := page[pos : pos+recSize]
		if allZero(rec[:16]) {
			return
		}
		ekey := keyindex.EKeyFromBytes(rec[:16])
		out[ekey] = read40BE(rec[16:21])
	}
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
