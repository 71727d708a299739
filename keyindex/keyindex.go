// Package keyindex implements the two-level CKey/EKey hash index spec.md
// §4.2 describes: an additive-only build phase followed by a frozen,
// read-only, concurrency-safe lookup phase, backed by a pointer-stable
// slab so both maps can alias the same entries.
package keyindex

import (
	"fmt"
)

const (
	// CKeySize is the number of bytes of a CKey that participate in
	// comparisons and map keys.
	CKeySize = 16

	// EKeySize is the number of bytes of an EKey that participate in
	// comparisons and map keys — 9, per spec.md §4.2 and the network-
	// distribution convention spec.md §9 calls out explicitly.
	EKeySize = 9

	// FileOffsetBits is the default split between archive index and
	// in-archive offset packed into StorageOffset; most products use 30.
	FileOffsetBits = 30
)

// A CKey is a content key: the MD5 of a file's plaintext content.
type CKey [CKeySize]byte

// An EKey is an encoded key: the first EKeySize bytes of the MD5 of a
// file's BLTE-encoded form.
type EKey [EKeySize]byte

// String renders k as lowercase hex, the form CASC tools display keys in.
func (k CKey) String() string { return fmt.Sprintf("%x", k[:]) }
func (k EKey) String() string { return fmt.Sprintf("%x", k[:]) }

// An Entry describes one content-addressed item: its CKey, its spans'
// EKeys, and where the primary span lives on disk. Entries are allocated
// once in Table's slab and never moved, so *Entry values handed out by
// Lookup/LookupEKey/Spans remain valid for the Table's lifetime.
type Entry struct {
	CKey CKey

	// EKeys holds one EKey per span; len(EKeys) == SpanCount. EKeys[0] is
	// the "primary" EKey used for single-span lookups and for the EKey
	// map.
	EKeys []EKey

	ContentSize int64
	EncodedSize int64

	// StorageOffset packs archive index and in-archive byte offset; see
	// Archive/Offset. It is only meaningful for EKeys[0] — later spans'
	// locations are resolved by looking their own EKey back up in the
	// table.
	StorageOffset uint64

	// offsetBits records the per-storage FileOffsetBits used to pack
	// StorageOffset, so Archive/Offset can unpack it without a Table
	// reference.
	offsetBits uint
}

// Archive returns the archive index StorageOffset was packed with.
func (e *Entry) Archive() uint32 {
	return uint32(e.StorageOffset >> e.bits())
}

// Offset returns the in-archive byte offset StorageOffset was packed
// with.
func (e *Entry) Offset() uint64 {
	return e.StorageOffset & ((1 << e.bits()) - 1)
}

func (e *Entry) bits() uint {
	if e.offsetBits == 0 {
		return FileOffsetBits
	}
	return e.offsetBits
}

// PackOffset combines an archive index and in-archive offset into a
// StorageOffset using the given FileOffsetBits, the inverse of
// Archive/Offset.
func PackOffset(bits uint, archive uint32, offset uint64) uint64 {
	return uint64(archive)<<bits | (offset & ((1 << bits) - 1))
}

// A Table is the two-map CKey/EKey index over a slab of Entry values.
//
// During Build, Insert/InsertWithPrimaryEKey/IndexEKey are the only
// mutators; after Freeze, the
// Table is immutable and its methods are safe for concurrent use by
// multiple goroutines, matching the "additive-only during build" rule of
// spec.md §4.2.
type Table struct {
	offsetBits uint

	// slab holds one heap-allocated Entry per distinct CKey. The slice
	// itself may be reallocated by append as it grows, but each *Entry it
	// holds never moves, so pointers Insert/Lookup/LookupEKey hand out
	// stay valid for the Table's lifetime even while more entries are
	// still being added — unlike a []Entry slab, where growth would copy
	// every entry into a new backing array and strand earlier pointers.
	slab   []*Entry
	byCKey map[CKey]int32
	byEKey map[EKey]int32

	frozen bool
}

// New returns an empty Table. offsetBits is the per-storage
// FileOffsetBits (0 defaults to keyindex.FileOffsetBits).
func New(offsetBits uint) *Table {
	if offsetBits == 0 {
		offsetBits = FileOffsetBits
	}
	return &Table{
		offsetBits: offsetBits,
		byCKey:     make(map[CKey]int32),
		byEKey:     make(map[EKey]int32),
	}
}

// Insert adds a new entry for ckey, or returns the existing *Entry if
// ckey is already present (the encoding table and index parsers both call
// Insert, and either may see a CKey first). It panics if called after
// Freeze.
func (t *Table) Insert(ckey CKey) *Entry {
	if t.frozen {
		panic("keyindex: Insert after Freeze")
	}
	if idx, ok := t.byCKey[ckey]; ok {
		return t.slab[idx]
	}

	t.slab = append(t.slab, &Entry{CKey: ckey, offsetBits: t.offsetBits})
	idx := int32(len(t.slab) - 1)
	t.byCKey[ckey] = idx
	return t.slab[idx]
}

// InsertWithPrimaryEKey returns the entry for ckey, promoting an existing
// entry already indexed under primaryEKey instead of allocating a fresh
// one when one exists. This matters because idx.Parse runs before the
// encoding table is known (it has to, since locating the encoding file
// itself requires the EKey index) and so creates location-only
// placeholder entries keyed by EKey alone; were the encoding table to
// insert a second, distinct entry for the same EKey once it learns the
// real CKey, the placeholder's StorageOffset/EncodedSize would be
// orphaned on an entry nothing can ever look up again. Promoting reuses
// the same *Entry, carrying that data forward under its real CKey. It
// panics if called after Freeze.
func (t *Table) InsertWithPrimaryEKey(ckey CKey, primaryEKey EKey) *Entry {
	if t.frozen {
		panic("keyindex: InsertWithPrimaryEKey after Freeze")
	}
	if idx, ok := t.byCKey[ckey]; ok {
		return t.slab[idx]
	}
	if idx, ok := t.byEKey[primaryEKey]; ok {
		ent := t.slab[idx]
		ent.CKey = ckey
		t.byCKey[ckey] = idx
		return ent
	}

	t.slab = append(t.slab, &Entry{CKey: ckey, offsetBits: t.offsetBits})
	idx := int32(len(t.slab) - 1)
	t.byCKey[ckey] = idx
	t.byEKey[primaryEKey] = idx
	return t.slab[idx]
}

// IndexEKey records that ekey resolves to the entry already inserted for
// ckey, so LookupEKey(ekey) will find it. ckey must already have been
// Insert-ed; it panics if called after Freeze.
func (t *Table) IndexEKey(ekey EKey, ckey CKey) {
	if t.frozen {
		panic("keyindex: IndexEKey after Freeze")
	}
	idx, ok := t.byCKey[ckey]
	if !ok {
		panic("keyindex: IndexEKey for unknown CKey")
	}
	t.byEKey[ekey] = idx
}

// Freeze finalizes the Table: after Freeze, Insert/IndexEKey panic and
// Lookup/LookupEKey/Len/All are safe for concurrent readers.
func (t *Table) Freeze() {
	t.frozen = true
}

// Lookup returns the entry for ckey, if any.
func (t *Table) Lookup(ckey CKey) (*Entry, bool) {
	idx, ok := t.byCKey[ckey]
	if !ok {
		return nil, false
	}
	return t.slab[idx], true
}

// LookupEKey returns the entry whose primary (or any indexed) EKey is
// ekey, if any.
func (t *Table) LookupEKey(ekey EKey) (*Entry, bool) {
	idx, ok := t.byEKey[ekey]
	if !ok {
		return nil, false
	}
	return t.slab[idx], true
}

// Len returns the number of distinct CKey entries in the table.
func (t *Table) Len() int { return len(t.slab) }

// All calls fn for every entry in the table, in slab (insertion) order.
// fn must not call Insert/IndexEKey even if the table is not yet frozen.
func (t *Table) All(fn func(*Entry)) {
	for _, e := range t.slab {
		fn(e)
	}
}

// EKeyFromBytes truncates (or, if short, zero-pads) b into an EKey using
// only the first EKeySize bytes, the comparator width spec.md §4.2 fixes
// for the EKey map.
func EKeyFromBytes(b []byte) EKey {
	var k EKey
	copy(k[:], b)
	return k
}

// CKeyFromBytes copies the first CKeySize bytes of b into a CKey.
func CKeyFromBytes(b []byte) CKey {
	var k CKey
	copy(k[:], b)
	return k
}
