package span

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"testing"

	"github.com/lukegb/casc/keyindex"
)

// buildBLTEFixture mirrors blte_test.go's fixture builder (kept local to
// avoid an import cycle back into package blte's _test files).
func buildBLTEFixture(t *testing.T, frames [][]byte) []byte {
	t.Helper()
	var encoded [][]byte
	for _, f := range frames {
		encoded = append(encoded, append([]byte{'N'}, f...))
	}

	var out bytes.Buffer
	out.WriteString("BLTE")
	headerLen := 8 + 4 + 24*len(frames)
	var hdrLenBuf [4]byte
	binary.BigEndian.PutUint32(hdrLenBuf[:], uint32(headerLen))
	out.Write(hdrLenBuf[:])
	out.WriteByte(0x0F)
	out.WriteByte(byte(len(frames) >> 16))
	out.WriteByte(byte(len(frames) >> 8))
	out.WriteByte(byte(len(frames)))

	for i, ef := range encoded {
		var entry [24]byte
		binary.BigEndian.PutUint32(entry[0:4], uint32(len(ef)))
		binary.BigEndian.PutUint32(entry[4:8], uint32(len(frames[i])))
		sum := md5.Sum(ef)
		copy(entry[8:24], sum[:])
		out.Write(entry[:])
	}
	for _, ef := range encoded {
		out.Write(ef)
	}
	return out.Bytes()
}

// fakeArchive implements ArchiveOpener over a single in-memory buffer
// standing in for a .data.NNN file.
type fakeArchive struct {
	data []byte
}

func (f *fakeArchive) OpenArchive(index uint32) (io.ReaderAt, error) {
	return bytes.NewReader(f.data), nil
}

func buildArchiveWithEntry(t *testing.T, ekey keyindex.EKey, blteData []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(ekey[:])
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(blteData)))
	buf.Write(sizeBuf[:])
	buf.Write(make([]byte, 2)) // flags
	buf.Write(make([]byte, 8)) // checksum
	buf.Write(blteData)
	return buf.Bytes()
}

func TestReadAtSingleSpan(t *testing.T) {
	want := []byte("the quick brown fox jumps over the lazy dog, twice over for good measure")
	blteData := buildBLTEFixture(t, [][]byte{want[:20], want[20:]})

	var ekey keyindex.EKey
	ekey[0] = 1
	archiveData := buildArchiveWithEntry(t, ekey, blteData)

	tbl := keyindex.New(30)
	var ckey keyindex.CKey
	ckey[0] = 9
	ent := tbl.Insert(ckey)
	ent.EKeys = []keyindex.EKey{ekey}
	ent.ContentSize = int64(len(want))
	ent.EncodedSize = int64(len(blteData))
	ent.StorageOffset = keyindex.PackOffset(30, 0, 0)
	tbl.IndexEKey(ekey, ckey)

	opener := &fakeArchive{data: archiveData}
	r, err := Open(ent, tbl, opener, Options{Strategy: LastFrame})
	if err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(want))
	n, err := r.ReadAt(got, 0)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if n != len(want) {
		t.Fatalf("read %d bytes, want %d", n, len(want))
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReadAtPartialRange(t *testing.T) {
	want := []byte("0123456789abcdefghij")
	blteData := buildBLTEFixture(t, [][]byte{want})

	var ekey keyindex.EKey
	ekey[0] = 2
	archiveData := buildArchiveWithEntry(t, ekey, blteData)

	tbl := keyindex.New(30)
	var ckey keyindex.CKey
	ckey[0] = 3
	ent := tbl.Insert(ckey)
	ent.EKeys = []keyindex.EKey{ekey}
	ent.ContentSize = int64(len(want))
	ent.EncodedSize = int64(len(blteData))
	tbl.IndexEKey(ekey, ckey)

	opener := &fakeArchive{data: archiveData}
	r, err := Open(ent, tbl, opener, Options{Strategy: LastFrame})
	if err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 5)
	n, err := r.ReadAt(got, 10)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if n != 5 || string(got) != "abcde" {
		t.Fatalf("ReadAt(10, 5) = %q, %d, want %q, 5", got, n, "abcde")
	}
}
