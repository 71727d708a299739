package encoding

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/lukegb/casc/keyindex"
)

func write40BE(buf *bytes.Buffer, v int64) {
	var b [5]byte
	for i := 4; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])
}

// buildEncodingFile constructs a minimal, single-page-each encoding file
// with one multi-span CKey entry, for use as a test fixture.
func buildEncodingFile(t *testing.T, ckey keyindex.CKey, ekeys []keyindex.CKey, contentSize int64, encodedSizes []int64) []byte {
	t.Helper()

	ckeyPage := new(bytes.Buffer)
	ckeyPage.WriteByte(byte(len(ekeys)))
	write40BE(ckeyPage, contentSize)
	ckeyPage.Write(ckey[:])
	for _, ek := range ekeys {
		ckeyPage.Write(ek[:])
	}
	ckeyPageBytes := padTo(ckeyPage.Bytes(), 4096)

	ekeyPage := new(bytes.Buffer)
	for i, ek := range ekeys {
		ekeyPage.Write(ek[:])
		write40BE(ekeyPage, encodedSizes[i])
	}
	ekeyPageBytes := padTo(ekeyPage.Bytes(), 4096)

	var out bytes.Buffer
	out.WriteString("EN")
	out.WriteByte(1) // version
	out.WriteByte(0x10)
	out.WriteByte(0x10)
	binary.Write(&out, binary.BigEndian, uint16(4)) // CKeyPageSizeKB
	binary.Write(&out, binary.BigEndian, uint16(4)) // EKeyPageSizeKB
	binary.Write(&out, binary.BigEndian, uint32(1)) // CKeyPageCount
	binary.Write(&out, binary.BigEndian, uint32(1)) // EKeyPageCount
	out.WriteByte(0)
	binary.Write(&out, binary.BigEndian, uint32(0)) // ESpecBlockSize

	ckeySum := md5.Sum(ckeyPageBytes)
	ekeySum := md5.Sum(ekeyPageBytes)

	// CKey page index: (first-key[16], page-md5[16])
	out.Write(ckey[:])
	out.Write(ckeySum[:])

	// EKey page index: (first-key[16], page-md5[16])
	out.Write(ekeys[0][:])
	out.Write(ekeySum[:])

	out.Write(ckeyPageBytes)
	out.Write(ekeyPageBytes)

	return out.Bytes()
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func TestParseMultiSpanEntry(t *testing.T) {
	var ckey keyindex.CKey
	ckey[0] = 0x11

	var ek1, ek2 keyindex.CKey
	ek1[0] = 0x21
	ek2[0] = 0x22

	data := buildEncodingFile(t, ckey, []keyindex.CKey{ek1, ek2}, 1000, []int64{400, 650})

	tbl := keyindex.New(0)
	encodedSizes, err := Parse(bytes.NewReader(data), tbl)
	if err != nil {
		t.Fatal(err)
	}

	ent, ok := tbl.Lookup(ckey)
	if !ok {
		t.Fatal("Lookup(ckey): not found")
	}
	if ent.ContentSize != 1000 {
		t.Errorf("ContentSize = %d, want 1000", ent.ContentSize)
	}
	if len(ent.EKeys) != 2 {
		t.Fatalf("len(EKeys) = %d, want 2", len(ent.EKeys))
	}
	if ent.EncodedSize != 400 {
		t.Errorf("EncodedSize = %d, want 400 (primary span)", ent.EncodedSize)
	}

	primaryEKey := keyindex.EKeyFromBytes(ek1[:])
	if encodedSizes[primaryEKey] != 400 {
		t.Errorf("encodedSizes[primary] = %d, want 400", encodedSizes[primaryEKey])
	}
	secondEKey := keyindex.EKeyFromBytes(ek2[:])
	if encodedSizes[secondEKey] != 650 {
		t.Errorf("encodedSizes[second] = %d, want 650", encodedSizes[secondEKey])
	}

	got, ok := tbl.LookupEKey(primaryEKey)
	if !ok || got.CKey != ckey {
		t.Errorf("LookupEKey(primary) = %v, %v; want %x, true", got, ok, ckey)
	}
}

func TestParseBadMagic(t *testing.T) {
	bad := make([]byte, 22)
	copy(bad, []byte("XX"))
	if _, err := Parse(bytes.NewReader(bad), keyindex.New(0)); !errors.Is(err, ErrBadMagic) {
		t.Errorf("got %v, want ErrBadMagic", err)
	}
}
