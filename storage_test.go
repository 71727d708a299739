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

package casc

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lukegb/casc/keyindex"
	"github.com/lukegb/casc/ngdp"
)

// buildBLTESingleFrame wraps payload in a minimal single-explicit-frame
// BLTE container (mode 'N', no compression), so span's frame-table path
// (rather than the header-size-0 implicit-frame shortcut) is exercised —
// the same shape a real CASC archive entry uses.
func buildBLTESingleFrame(payload []byte) []byte {
	body := append([]byte{'N'}, payload...)
	sum := md5.Sum(body)

	var hdr bytes.Buffer
	hdr.WriteByte(0) // flags
	// 24-bit big-endian frame count (1).
	hdr.Write([]byte{0, 0, 1})
	binary.Write(&hdr, binary.BigEndian, uint32(len(body)))
	binary.Write(&hdr, binary.BigEndian, uint32(len(payload)))
	hdr.Write(sum[:])

	var out bytes.Buffer
	out.WriteString("BLTE")
	binary.Write(&out, binary.BigEndian, uint32(8+hdr.Len()))
	out.Write(hdr.Bytes())
	out.Write(body)
	return out.Bytes()
}

// archiveEntry is one (EKey, BLTE blob) pair packed into a fixture
// archive, tracking its own on-disk offset for the matching .idx record.
type archiveEntry struct {
	ekey keyindex.EKey
	blte []byte
}

// buildArchive lays entries out back to back behind the 30-byte archive
// header {EKey[16], size[4 LE], flags[2], checksum[8]} spec.md §6
// describes, and returns the archive bytes plus each entry's offset (the
// start of its 30-byte header, which span.Reader skips to reach
// frameBase).
func buildArchive(entries []archiveEntry) ([]byte, []int64) {
	var out bytes.Buffer
	offsets := make([]int64, len(entries))
	for i, e := range entries {
		// offsets[i] records the start of the 30-byte entry header
		// itself, not the BLTE blob: span.Reader adds
		// archiveEntryHeaderSize to the stored offset to find the blob.
		offsets[i] = int64(out.Len())

		var ekeyFull [16]byte
		copy(ekeyFull[:], e.ekey[:])
		out.Write(ekeyFull[:])
		binary.Write(&out, binary.LittleEndian, uint32(len(e.blte)))
		out.Write(make([]byte, 2)) // flags
		out.Write(make([]byte, 8)) // checksum
		out.Write(e.blte)
	}
	return out.Bytes(), offsets
}

// buildIdx packs entries into the .idx wire format idx.Parse reads: one
// (EKey prefix[9], archive-offset[5B BE], encoded-size[4B LE]) record per
// entry, with no trailing padding (idx.Parse tolerates a short final
// read at EOF).
func buildIdx(archiveIndex uint32, offsetBits uint, entries []archiveEntry, offsets []int64) []byte {
	var out bytes.Buffer
	for i, e := range entries {
		out.Write(e.ekey[:])
		packed := keyindex.PackOffset(offsetBits, archiveIndex, uint64(offsets[i]))
		var b [5]byte
		for j := 4; j >= 0; j-- {
			b[j] = byte(packed)
			packed >>= 8
		}
		out.Write(b[:])
		binary.Write(&out, binary.LittleEndian, uint32(len(e.blte)))
	}
	return out.Bytes()
}

func writeEncodingCKeyRecord(buf *bytes.Buffer, ckey keyindex.CKey, contentSize int64, ekeys []keyindex.CKey) {
	buf.WriteByte(byte(len(ekeys)))
	var sizeBytes [5]byte
	v := contentSize
	for i := 4; i >= 0; i-- {
		sizeBytes[i] = byte(v)
		v >>= 8
	}
	buf.Write(sizeBytes[:])
	buf.Write(ckey[:])
	for _, ek := range ekeys {
		buf.Write(ek[:])
	}
}

func write40BE(buf *bytes.Buffer, v int64) {
	var b [5]byte
	for i := 4; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// buildEncodingTable assembles a minimal encoding file (the "EN" format
// encoding.Parse reads) with one CKey page and one EKey page, each a
// single page, covering every record passed in.
func buildEncodingTable(records []struct {
	ckey        keyindex.CKey
	contentSize int64
	ekeys       []keyindex.CKey
}, encodedSizes map[keyindex.CKey]int64) []byte {
	ckeyPage := new(bytes.Buffer)
	for _, rec := range records {
		writeEncodingCKeyRecord(ckeyPage, rec.ckey, rec.contentSize, rec.ekeys)
	}
	ckeyPageBytes := padTo(ckeyPage.Bytes(), 4096)

	ekeyPage := new(bytes.Buffer)
	for _, rec := range records {
		for _, ek := range rec.ekeys {
			ekeyPage.Write(ek[:])
			write40BE(ekeyPage, encodedSizes[ek])
		}
	}
	ekeyPageBytes := padTo(ekeyPage.Bytes(), 4096)

	var out bytes.Buffer
	out.WriteString("EN")
	out.WriteByte(1)
	out.WriteByte(0x10)
	out.WriteByte(0x10)
	binary.Write(&out, binary.BigEndian, uint16(4))
	binary.Write(&out, binary.BigEndian, uint16(4))
	binary.Write(&out, binary.BigEndian, uint32(1))
	binary.Write(&out, binary.BigEndian, uint32(1))
	out.WriteByte(0)
	binary.Write(&out, binary.BigEndian, uint32(0))

	ckeySum := md5.Sum(ckeyPageBytes)
	ekeySum := md5.Sum(ekeyPageBytes)

	out.Write(records[0].ckey[:])
	out.Write(ckeySum[:])
	out.Write(records[0].ekeys[0][:])
	out.Write(ekeySum[:])

	out.Write(ckeyPageBytes)
	out.Write(ekeyPageBytes)
	return out.Bytes()
}

func shardedConfigPath(base string, hash [16]byte) string {
	hx := fmt.Sprintf("%032x", hash)
	return filepath.Join(base, hx[0:2], hx[2:4], hx)
}

func writeShardedFile(t *testing.T, base string, hash [16]byte, data []byte) {
	t.Helper()
	p := shardedConfigPath(base, hash)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func ckeyFrom(b byte) keyindex.CKey {
	var k keyindex.CKey
	k[0] = b
	return k
}

func ekeyFrom(b byte) keyindex.EKey {
	var k keyindex.EKey
	k[0] = b
	return k
}

// TestOpenAndReadMultiSpanFile builds a from-scratch CASC install on disk
// (catalog, build/CDN config, one archive, one .idx) with a two-span file
// and reads it back through the public Storage/FileHandle surface,
// exercising the full name -> CKey -> EKey -> archive+offset -> BLTE ->
// plaintext pipeline spec.md §2 describes end to end. It doubles as a
// regression test for span resolution: each span's archive location must
// come from its own index record, not get aliased onto the primary
// span's.
func TestOpenAndReadMultiSpanFile(t *testing.T) {
	dir := t.TempDir()

	rootCKey := ckeyFrom(0x01)
	rootEKey16 := ckeyFrom(0x02)
	encodingEKey16 := ckeyFrom(0x03)
	fileCKey := ckeyFrom(0x10)
	span1EKey16 := ckeyFrom(0x20)
	span2EKey16 := ckeyFrom(0x21)

	span1Payload := bytes.Repeat([]byte{'A'}, 1024)
	span2Payload := bytes.Repeat([]byte{'B'}, 900)

	span1BLTE := buildBLTESingleFrame(span1Payload)
	span2BLTE := buildBLTESingleFrame(span2Payload)

	// WoW6 root: one enUS locale block naming fileCKey as file-data-id 1.
	var rootBuf bytes.Buffer
	binary.Write(&rootBuf, binary.LittleEndian, uint32(1))                // NumberOfFiles
	binary.Write(&rootBuf, binary.LittleEndian, uint32(0))                // Flags
	binary.Write(&rootBuf, binary.LittleEndian, uint32(ngdp.LocaleEnUS))  // Locales
	binary.Write(&rootBuf, binary.LittleEndian, uint32(1))                // delta -> file-data-id 1
	binary.Write(&rootBuf, binary.LittleEndian, fileCKey)
	binary.Write(&rootBuf, binary.LittleEndian, uint64(0xCAFEF00D))
	rootBLTE := buildBLTESingleFrame(rootBuf.Bytes())

	records := []struct {
		ckey        keyindex.CKey
		contentSize int64
		ekeys       []keyindex.CKey
	}{
		{ckey: rootCKey, contentSize: int64(rootBuf.Len()), ekeys: []keyindex.CKey{rootEKey16}},
		{ckey: fileCKey, contentSize: int64(len(span1Payload) + len(span2Payload)), ekeys: []keyindex.CKey{span1EKey16, span2EKey16}},
	}
	encodedSizes := map[keyindex.CKey]int64{
		rootEKey16:   int64(len(rootBLTE)),
		span1EKey16:  int64(len(span1BLTE)),
		span2EKey16:  int64(len(span2BLTE)),
	}
	encodingBytes := buildEncodingTable(records, encodedSizes)
	encodingBLTE := buildBLTESingleFrame(encodingBytes)

	archiveEntries := []archiveEntry{
		{ekey: keyindex.EKeyFromBytes(encodingEKey16[:]), blte: encodingBLTE},
		{ekey: keyindex.EKeyFromBytes(rootEKey16[:]), blte: rootBLTE},
		{ekey: keyindex.EKeyFromBytes(span1EKey16[:]), blte: span1BLTE},
		{ekey: keyindex.EKeyFromBytes(span2EKey16[:]), blte: span2BLTE},
	}
	archiveBytes, offsets := buildArchive(archiveEntries)
	idxBytes := buildIdx(0, 30, archiveEntries, offsets)

	if err := os.MkdirAll(filepath.Join(dir, "Data", "data"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Data", "data", "data.000"), archiveBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "Data", "indices"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Data", "indices", "00.idx1"), idxBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	configDir := filepath.Join(dir, "Data", "config")
	var buildKey, cdnKey [16]byte
	buildKey[0] = 0xB1
	cdnKey[0] = 0xC1

	buildConfigText := "build-name = TEST-1\n" +
		"root = " + hexStr(rootCKey[:]) + "\n" +
		"encoding = " + hexStr(encodingEKey16[:]) + " " + hexStr(encodingEKey16[:]) + "\n"
	writeShardedFile(t, configDir, buildKey, []byte(buildConfigText))

	cdnConfigText := "archives = " + hexStr([16]byte{}[:]) + "\n"
	writeShardedFile(t, configDir, cdnKey, []byte(cdnConfigText))

	catalogHeader := "Branch!STRING:0|Active!DEC:1|Build Key!HEX:16|CDN Key!HEX:16|Install Key!HEX:16|IM Size!DEC:4|CDN Path!STRING:0|CDN Hosts!STRING:0|CDN Servers!STRING:0|Tags!STRING:0|Armadillo!STRING:0|Last Activated!STRING:0|Version!STRING:0|KeyRing!HEX:16|Product!STRING:0\n"
	catalogRow := "wow|1|" + hexStr(buildKey[:]) + "|" + hexStr(cdnKey[:]) + "|" + strings.Repeat("00", 16) + "|0|tpr/wow|a.com|a.com|US|0|2020-01-01|1.0.0|" + strings.Repeat("00", 16) + "|wow\n"
	if err := os.WriteFile(filepath.Join(dir, ".build.info"), []byte(catalogHeader+catalogRow), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := Open(dir, WithProgram(ngdp.ProgramWoW), WithLocaleMask(ngdp.LocaleEnUS))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	fh, err := st.OpenFile(ByID(1), 0)
	if err != nil {
		t.Fatalf("OpenFile(ByID(1)): %v", err)
	}
	defer fh.Close()

	content, encoded := fh.Size()
	if content != int64(len(span1Payload)+len(span2Payload)) {
		t.Errorf("content size = %d, want %d", content, len(span1Payload)+len(span2Payload))
	}
	if encoded == 0 {
		t.Errorf("encoded size = 0, want nonzero")
	}

	var all []byte
	readBuf := make([]byte, 512)
	for {
		n, err := fh.Read(readBuf)
		all = append(all, readBuf[:n]...)
		if err == ErrHandleEOF {
			break
		}
		if err != nil {
			t.Fatalf("reading full file: %v", err)
		}
	}
	want :=append(append([]byte{}, span1Payload...), span2Payload...)
	if !bytes.Equal(all, want) {
		t.Fatalf("read %d bytes, want %d; mismatch at span boundary (span stitching regression)", len(all), len(want))
	}

	// Reads crossing the span boundary must stitch seamlessly: this is
	// the regression case for the encoding/idx aliasing bug, where a
	// second span's StorageOffset got silently aliased onto the
	// primary span's archive location.
	fh2, err := st.OpenFile(ByName("FILE00000001"), 0)
	if err != nil {
		t.Fatalf("OpenFile(ByName(FILE00000001)): %v", err)
	}
	defer fh2.Close()

	buf := make([]byte, 200)
	n, err := fh2.ReadAt(buf, 1500)
	if err != nil {
		t.Fatalf("ReadAt(1500, 200): %v", err)
	}
	if n != 200 {
		t.Fatalf("ReadAt returned %d bytes, want 200", n)
	}
	if !bytes.Equal(buf, want[1500:1700]) {
		t.Fatalf("ReadAt(1500, 200) = %x, want %x", buf, want[1500:1700])
	}
}

func hexStr(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0xF]
	}
	return string(out)
}
