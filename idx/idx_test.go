package idx

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/lukegb/casc/keyindex"
)

func buildIdxEntry(ekey keyindex.EKey, archiveIdx uint32, archiveOff uint64, offsetBits uint, encodedSize uint32) []byte {
	var buf bytes.Buffer
	buf.Write(ekey[:])

	packed := (uint64(archiveIdx) << offsetBits) | archiveOff
	var b [5]byte
	v := packed
	for i := 4; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])

	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], encodedSize)
	buf.Write(sizeBuf[:])

	return buf.Bytes()
}

func TestParseSingleEntry(t *testing.T) {
	var ekey keyindex.EKey
	ekey[0] = 0xAB

	rec := buildIdxEntry(ekey, 3, 12345, 30, 999)
	padded := make([]byte, chunkSize)
	copy(padded, rec)

	tbl := keyindex.New(30)
	if err := Parse(bytes.NewReader(padded), tbl, 30); err != nil {
		t.Fatal(err)
	}

	ent, ok := tbl.LookupEKey(ekey)
	if !ok {
		t.Fatal("LookupEKey: not found")
	}
	if ent.Archive() != 3 {
		t.Errorf("Archive() = %d, want 3", ent.Archive())
	}
	if ent.Offset() != 12345 {
		t.Errorf("Offset() = %d, want 12345", ent.Offset())
	}
	if ent.EncodedSize != 999 {
		t.Errorf("EncodedSize = %d, want 999", ent.EncodedSize)
	}
}

func TestSelectLatestPrefersHighestVersion(t *testing.T) {
	names := []string{"0a.idx3", "0a.idx10", "0a.idx2", "0b.idx1"}
	got := SelectLatest(names)
	want := map[string]bool{"0a.idx10": true, "0b.idx1": true}
	if len(got) != 2 {
		t.Fatalf("SelectLatest = %v, want 2 entries", got)
	}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected entry %q in %v", g, got)
		}
	}
}

func TestBucket(t *testing.T) {
	var ekey keyindex.EKey
	ekey[0] = 0xA5
	if got := Bucket(ekey); got != 0xA {
		t.Errorf("Bucket = %x, want 0xA", got)
	}
}
