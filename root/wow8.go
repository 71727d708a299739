package root

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lukegb/casc/internal/xhash"
	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

// wow8Header precedes the content-flags and locale-flags sections of a
// post-manifest-v2 WoW root file.
type wow8Header struct {
	TotalFileCount   uint32
	NamedFileCount   uint32
}

type wow8Entry struct {
	nameHash  uint64
	hasName   bool
	contentFlags uint32
	localeFlags  uint32
	e         *keyindex.Entry
}

// WoW8 is the root.Handler for the header-sectioned manifest format that
// superseded WoW6's flat locale blocks: entries are grouped into
// sections by (content-flags, locale-flags) pair, and not every entry
// carries a name hash.
type WoW8 struct {
	byID   map[uint32]*wow8Entry
	byHash map[uint64]*wow8Entry
	byName map[string]*wow8Entry
}

// ParseWoW8 parses a WoW8-style root manifest: a header giving the total
// and named file counts, followed by one or more sections, each a
// (content-flags, locale-flags, count, named-flag byte) tuple followed by count
// file-data-id deltas, count CKeys, and (for named sections) count name
// hashes.
func ParseWoW8(r io.Reader, tbl *keyindex.Table) (*WoW8, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading root file")
	}

	w := &WoW8{
		byID:   make(map[uint32]*wow8Entry),
		byHash: make(map[uint64]*wow8Entry),
		byName: make(map[string]*wow8Entry),
	}

	buf := bytes.NewReader(data)
	var hdr wow8Header
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}

	for buf.Len() > 0 {
		var sec struct {
			ContentFlags uint32
			LocaleFlags  uint32
			Count        uint32
			Named        uint8
		}
		if err := binary.Read(buf, binary.LittleEndian, &sec); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, errors.Wrap(err, "reading section header")
		}

		deltas := make([]uint32, sec.Count)
		if err := binary.Read(buf, binary.LittleEndian, &deltas); err != nil {
			return nil, errors.Wrap(ErrTruncatedBlock, err.Error())
		}
		ckeys := make([]keyindex.CKey, sec.Count)
		if err := binary.Read(buf, binary.LittleEndian, &ckeys); err != nil {
			return nil, errors.Wrap(ErrTruncatedBlock, err.Error())
		}
		var hashes []uint64
		if sec.Named != 0 {
			hashes = make([]uint64, sec.Count)
			if err := binary.Read(buf, binary.LittleEndian, &hashes); err != nil {
				return nil, errors.Wrap(ErrTruncatedBlock, err.Error())
			}
		}

		var fileDataID uint32
		for i := uint32(0); i < sec.Count; i++ {
			fileDataID += deltas[i]

			ent := tbl.Insert(ckeys[i])
			we := &wow8Entry{contentFlags: sec.ContentFlags, localeFlags: sec.LocaleFlags, e: ent}
			if sec.Named != 0 {
				we.hasName = true
				we.nameHash = hashes[i]
				w.byHash[we.nameHash] = we
			}
			w.byID[fileDataID] = we

			fileDataID++
		}
	}

	return w, nil
}

// GetByName resolves by Jenkins96 name hash, or by external listfile
// names inserted after parsing.
func (w *WoW8) GetByName(name string) (*keyindex.Entry, bool) {
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

// GetByID resolves a numeric file-data-id, including nameless entries.
func (w *WoW8) GetByID(fileDataID uint32) (*keyindex.Entry, bool) {
	we, ok := w.byID[fileDataID]
	if !ok {
		return nil, false
	}
	return we.e, true
}

// Insert binds an external name to an existing (or new) file-data-id,
// the mechanism by which a listfile gives nameless WoW8 entries names.
func (w *WoW8) Insert(name string, fileDataID uint32, e *keyindex.Entry) error {
	we, ok := w.byID[fileDataID]
	if !ok {
		we = &wow8Entry{e: e}
		w.byID[fileDataID] = we
	}
	we.hasName = true
	we.nameHash = xhash.HashName(name)
	w.byHash[we.nameHash] = we
	w.byName[xhash.NormalizeName(name)] = we
	return nil
}

// Iterate calls fn for every entry, synthesizing a FILE######## name for
// entries with no known name.
func (w *WoW8) Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) {
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

// Close is a no-op.
func (w *WoW8) Close() error { return nil }
