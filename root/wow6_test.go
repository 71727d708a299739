package root

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/lukegb/casc/keyindex"
	"github.com/lukegb/casc/ngdp"
)

func wow6Block(t *testing.T, flags, locales uint32, fileDataIDs []uint32, ckeys []keyindex.CKey, hashes []uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	hdr := wow6LocaleBlockHeader{NumberOfFiles: uint32(len(fileDataIDs)), Flags: flags, Locales: locales}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatal(err)
	}

	prev := uint32(0)
	for _, id := range fileDataIDs {
		delta := id - prev
		prev = id + 1
		if err := binary.Write(&buf, binary.LittleEndian, delta); err != nil {
			t.Fatal(err)
		}
	}
	for i := range ckeys {
		if err := binary.Write(&buf, binary.LittleEndian, ckeys[i]); err != nil {
			t.Fatal(err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, hashes[i]); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestParseWoW6Basic(t *testing.T) {
	var ck1, ck2 keyindex.CKey
	ck1[0] = 1
	ck2[0] = 2

	data := wow6Block(t, 0, uint32(ngdp.LocaleEnUS), []uint32{5, 7}, []keyindex.CKey{ck1, ck2}, []uint64{0xAAAA, 0xBBBB})

	tbl := keyindex.New(0)
	h, err := ParseWoW6(bytes.NewReader(data), tbl, ngdp.LocaleEnUS, false, false)
	if err != nil {
		t.Fatal(err)
	}

	e, ok := h.GetByID(5)
	if !ok || e.CKey != ck1 {
		t.Fatalf("GetByID(5) = %v, %v; want %x, true", e, ok, ck1)
	}
	e, ok = h.GetByID(7)
	if !ok || e.CKey != ck2 {
		t.Fatalf("GetByID(7) = %v, %v; want %x, true", e, ok, ck2)
	}
}

func TestParseWoW6SkipsFlags(t *testing.T) {
	var ck keyindex.CKey
	ck[0] = 9

	data := wow6Block(t, 0x100, uint32(ngdp.LocaleEnUS), []uint32{1}, []keyindex.CKey{ck}, []uint64{1})

	tbl := keyindex.New(0)
	h, err := ParseWoW6(bytes.NewReader(data), tbl, ngdp.LocaleEnUS, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.GetByID(1); ok {
		t.Fatal("expected flag 0x100 block to be skipped")
	}
}

func TestParseWoW6LocaleMismatch(t *testing.T) {
	var ck keyindex.CKey
	data := wow6Block(t, 0, uint32(ngdp.LocaleDeDE), []uint32{1}, []keyindex.CKey{ck}, []uint64{1})

	tbl := keyindex.New(0)
	h, err := ParseWoW6(bytes.NewReader(data), tbl, ngdp.LocaleEnUS, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.GetByID(1); ok {
		t.Fatal("expected non-matching locale block to be skipped")
	}
}

func TestExpandLocaleMaskFallback(t *testing.T) {
	got := expandLocaleMask(ngdp.LocaleEnGB)
	if got&ngdp.LocaleEnUS == 0 {
		t.Errorf("expandLocaleMask(enGB) = %b, want enUS bit set", got)
	}
}

func TestWoW6InsertListfileName(t *testing.T) {
	var ck keyindex.CKey
	ck[0] = 3
	data := wow6Block(t, 0, uint32(ngdp.LocaleEnUS), []uint32{42}, []keyindex.CKey{ck}, []uint64{0xCAFE})

	tbl := keyindex.New(0)
	h, err := ParseWoW6(bytes.NewReader(data), tbl, ngdp.LocaleEnUS, false, false)
	if err != nil {
		t.Fatal(err)
	}

	if err := h.Insert("World/Generic/Foo.blp", 42, nil); err != nil {
		t.Fatal(err)
	}
	e, ok := h.GetByName("world/generic/foo.blp")
	if !ok || e.CKey != ck {
		t.Fatalf("GetByName after Insert = %v, %v; want %x, true", e, ok, ck)
	}
}

func TestWoW6InsertUnknownIDAutoAssigns(t *testing.T) {
	var ck1, ck2 keyindex.CKey
	ck1[0] = 1
	ck2[0] = 2
	data := wow6Block(t, 0, uint32(ngdp.LocaleEnUS), []uint32{5, 7}, []keyindex.CKey{ck1, ck2}, []uint64{0xAAAA, 0xBBBB})

	tbl := keyindex.New(0)
	h, err := ParseWoW6(bytes.NewReader(data), tbl, ngdp.LocaleEnUS, false, false)
	if err != nil {
		t.Fatal(err)
	}

	ent := tbl.Insert(keyindex.CKeyFromBytes(bytes.Repeat([]byte{0x42}, 16)))
	if err := h.Insert("new/external/file.txt", 0, ent); err != nil {
		t.Fatal(err)
	}

	e, ok := h.GetByName("new/external/file.txt")
	if !ok || e != ent {
		t.Fatalf("GetByName(new file) = %v, %v; want %v, true", e, ok, ent)
	}

	e, ok = h.GetByID(8)
	if !ok || e != ent {
		t.Fatalf("GetByID(8) = %v, %v; want the auto-assigned entry, true (lastFileDataID 7 + 1)", e, ok)
	}

	if _, ok := h.byID[0]; ok {
		t.Fatal("Insert must not key the new entry under the caller-supplied unknown id 0")
	}

	ent2 := tbl.Insert(keyindex.CKeyFromBytes(bytes.Repeat([]byte{0x43}, 16)))
	if err := h.Insert("another/new/file.txt", 0, ent2); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.GetByID(9); !ok {
		t.Fatal("second auto-assigned id should be 9, monotonically increasing")
	}
}
