package root

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lukegb/casc/internal/xhash"
	"github.com/lukegb/casc/keyindex"
	"github.com/lukegb/casc/ngdp"
	"github.com/pkg/errors"
)

// ErrTruncatedBlock is returned when a WoW6 locale block's header claims
// more entries than remain in the buffer.
var ErrTruncatedBlock = errors.New("root: truncated locale block")

type wow6Entry struct {
	nameHash uint64
	locales  ngdp.Locale
	e        *keyindex.Entry
}

// WoW6 is the root.Handler for World of Warcraft's 6.0+ locale-block
// manifest format, grounded on original_source/src/CascRootFile_WoW6.cpp's
// ParseWowRootFileInternal/ParseRoot_AddRootEntries.
type WoW6 struct {
	byID   map[uint32]*wow6Entry
	byHash map[uint64]*wow6Entry
	byName map[string]*wow6Entry

	// nextID is the file-data-id Insert assigns to the next externally
	// discovered entry. Grounded on CascRootFile_WoW6.cpp's
	// WowHandler_Insert, which takes no id parameter at all: it reuses the
	// previous entry's file-data-id plus one, which here means seeding
	// nextID to one past the highest id ParseWoW6 saw and incrementing it
	// on every subsequent auto-assignment.
	nextID uint32
}

// wow6LocaleBlockHeader mirrors FILE_LOCALE_BLOCK.
type wow6LocaleBlockHeader struct {
	NumberOfFiles uint32
	Flags         uint32
	Locales       uint32
}

// wow6RootEntry mirrors FILE_ROOT_ENTRY.
type wow6RootEntry struct {
	CKey         keyindex.CKey
	FileNameHash uint64
}

// expandLocaleMask applies the enGB and ptPT fallbacks: a mask that
// selects enGB also accepts enUS blocks, and one that selects ptPT also
// accepts ptBR blocks. The widening is one-way; enUS and ptBR masks are
// returned unchanged.
func expandLocaleMask(mask ngdp.Locale) ngdp.Locale {
	if mask&ngdp.LocaleEnGB != 0 {
		mask |= ngdp.LocaleEnUS
	}
	if mask&ngdp.LocalePtPT != 0 {
		mask |= ngdp.LocalePtBR
	}
	return mask
}

// ParseWoW6 parses a WoW6 root-file manifest, resolving each locale
// block's CKeys against tbl. localeMask selects which locale blocks to
// keep; overrideArchive and audioLocale mirror the WoW.exe CVars of the
// same name that gate flags 0x80 and the top flag bit respectively.
func ParseWoW6(r io.Reader, tbl *keyindex.Table, localeMask ngdp.Locale, overrideArchive bool, audioLocale bool) (*WoW6, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading root file")
	}

	w := &WoW6{
		byID:   make(map[uint32]*wow6Entry),
		byHash: make(map[uint64]*wow6Entry),
		byName: make(map[string]*wow6Entry),
	}

	mask := expandLocaleMask(localeMask)
	buf := bytes.NewReader(data)

	var maxFileDataID uint32
	var sawAny bool

	for buf.Len() > 0 {
		var hdr wow6LocaleBlockHeader
		if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, errors.Wrap(err, "reading locale block header")
		}

		fileDataIDDeltas := make([]uint32, hdr.NumberOfFiles)
		if err := binary.Read(buf, binary.LittleEndian, &fileDataIDDeltas); err != nil {
			return nil, errors.Wrap(ErrTruncatedBlock, err.Error())
		}

		entries := make([]wow6RootEntry, hdr.NumberOfFiles)
		for i := range entries {
			if err := binary.Read(buf, binary.LittleEndian, &entries[i].CKey); err != nil {
				return nil, errors.Wrap(ErrTruncatedBlock, err.Error())
			}
			if err := binary.Read(buf, binary.LittleEndian, &entries[i].FileNameHash); err != nil {
				return nil, errors.Wrap(ErrTruncatedBlock, err.Error())
			}
		}

		if hdr.Flags&0x100 != 0 {
			continue
		}
		if hdr.Flags&0x80 != 0 && !overrideArchive {
			continue
		}
		wantAudio := uint32(0)
		if audioLocale {
			wantAudio = 1
		}
		if (hdr.Flags >> 31) != wantAudio {
			continue
		}
		if ngdp.Locale(hdr.Locales)&mask == 0 {
			continue
		}

		var fileDataID uint32
		for i, re := range entries {
			fileDataID += fileDataIDDeltas[i]

			ent := tbl.Insert(re.CKey)
			we := &wow6Entry{
				nameHash: re.FileNameHash,
				locales:  ngdp.Locale(hdr.Locales),
				e:        ent,
			}
			w.byID[fileDataID] = we
			w.byHash[re.FileNameHash] = we

			if !sawAny || fileDataID > maxFileDataID {
				maxFileDataID = fileDataID
				sawAny = true
			}

			fileDataID++
		}
	}

	if sawAny {
		w.nextID = maxFileDataID + 1
	}

	return w, nil
}

// GetByName resolves name by its Jenkins96 hash, the only lookup WoW6's
// own wire format supports; the listfile enrichment path populates
// byName for handlers that have been decorated with external names.
func (w *WoW6) GetByName(name string) (*keyindex.Entry, bool) {
	if fileDataID, ok := ParseLiteralFileDataID(name); ok {
		return w.GetByID(fileDataID)
	}
	if we, ok := w.byName[xhash.NormalizeName(name)]; ok {
		return we.e, true
	}
	if we, ok := w.byHash[xhash.HashName(name)]; ok {
		return we.e, true
	}
	return nil, false
}

// GetByID resolves a numeric file-data-id.
func (w *WoW6) GetByID(fileDataID uint32) (*keyindex.Entry, bool) {
	we, ok := w.byID[fileDataID]
	if !ok {
		return nil, false
	}
	return we.e, true
}

// Insert records an external (listfile-sourced) name for an existing
// file-data-id. If fileDataID doesn't match a known entry, e is a
// genuinely new discovery (e.g. a listfile name with no id, or one that
// doesn't resolve against the wire-format manifest); it gets its own
// entry under an auto-assigned id rather than the caller's, mirroring
// WowHandler_Insert, which never trusted a caller-supplied id either.
func (w *WoW6) Insert(name string, fileDataID uint32, e *keyindex.Entry) error {
	we, ok := w.byID[fileDataID]
	if !ok {
		id := w.nextID
		w.nextID++
		we = &wow6Entry{nameHash: xhash.HashName(name), e: e}
		w.byID[id] = we
		w.byHash[we.nameHash] = we
	}
	w.byName[xhash.NormalizeName(name)] = we
	return nil
}

// Iterate calls fn for every file-data-id WoW6 knows about.
func (w *WoW6) Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) {
	for fileDataID, we := range w.byID {
		name := fmt.Sprintf("FILE%08X", fileDataID)
		for n, e := range w.byName {
			if e == we {
				name = n
				break
			}
		}
		if !fn(name, fileDataID, we.e) {
			return
		}
	}
}

// Close is a no-op: WoW6 holds no resources beyond its own maps.
func (w *WoW6) Close() error { return nil }
