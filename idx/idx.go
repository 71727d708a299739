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

// Package idx reads local .idx archive indices: packed arrays of (EKey
// prefix, archive offset, encoded size) triples, read chunk-by-chunk the
// way the teacher's CDN archive-index fetcher reads remote .index files.
package idx

import (
	"encoding/binary"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

const (
	entrySize       = keyindex.EKeySize + 5 + 4
	entriesPerChunk = 512
	chunkSize       = entrySize * entriesPerChunk
)

// filenamePattern matches "<bucket-hex>.idx<version>", e.g. "0a.idx12",
// the on-disk naming convention; Parse uses the version suffix to prefer
// the highest-versioned file per bucket.
var filenamePattern = regexp.MustCompile(`^([0-9a-fA-F]{2})\.idx([0-9]+)$`)

// Bucket returns the first-nibble bucket a given EKey is filed under.
func Bucket(ekey keyindex.EKey) int {
	return int(ekey[0] >> 4)
}

// SelectLatest filters a directory listing (base names only) down to the
// highest-versioned .idx file per bucket, the "parse order prefers the
// highest version" rule.
func SelectLatest(names []string) []string {
	best := make(map[string]string)
	bestVersion := make(map[string]int)

	for _, name := range names {
		base := filepath.Base(name)
		m := filenamePattern.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		bucket := m[1]
		version, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if v, ok := bestVersion[bucket]; !ok || version > v {
			bestVersion[bucket] = version
			best[bucket] = name
		}
	}

	out := make([]string, 0, len(best))
	for _, name := range best {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Parse reads one .idx file's entries, inserting (or enriching) entries
// in tbl: each triple sets StorageOffset and EncodedSize for the EKey it
// names, creating a bare CKey-less entry if the EKey wasn't already
// known from the encoding table.
func Parse(r io.Reader, tbl *keyindex.Table, offsetBits uint) error {
	chunk := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, chunk)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return errors.Wrap(err, "idx: reading chunk")
		}
		if n == 0 {
			return nil
		}

		for pos := 0; pos+entrySize <= n; pos += entrySize {
			rec := chunk[pos : pos+entrySize]
			if allZero(rec) {
				return nil
			}

			ekey := keyindex.EKeyFromBytes(rec[:keyindex.EKeySize])
			packedOffset := rec[keyindex.EKeySize : keyindex.EKeySize+5]
			archiveIdx, archiveOff := unpackArchiveOffset(packedOffset, offsetBits)
			encodedSize := binary.LittleEndian.Uint32(rec[keyindex.EKeySize+5 : keyindex.EKeySize+9])

			ent, ok := tbl.LookupEKey(ekey)
			if !ok {
				// No CKey is known yet for this EKey; synthesize a
				// placeholder entry keyed by a zero CKey extended with
				// the EKey bytes, so later encoding-table enrichment (if
				// any) and this index data both land on the same entry.
				var placeholder keyindex.CKey
				copy(placeholder[:], ekey[:])
				ent = tbl.Insert(placeholder)
				ent.EKeys = []keyindex.EKey{ekey}
				tbl.IndexEKey(ekey, placeholder)
			}
			ent.StorageOffset = keyindex.PackOffset(offsetBits, archiveIdx, archiveOff)
			ent.EncodedSize = int64(encodedSize)
		}

		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil
		}
	}
}

// unpackArchiveOffset splits a 5-byte big-endian field into a
// bits-wide archive index and offset, per spec.md's
// "archive_index:30 + offset:30" packing (the 5 bytes carry 40 bits,
// of which the low 2*offsetBits are meaningful).
func unpackArchiveOffset(b []byte, offsetBits uint) (uint32, uint64) {
	var v uint64
	for i := 0; i < 5; i++ {
		v = v<<8 | uint64(b[i])
	}
	mask := uint64(1)<<offsetBits - 1
	archiveOff := v & mask
	archiveIdx := uint32((v >> offsetBits) & mask)
	return archiveIdx, archiveOff
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
