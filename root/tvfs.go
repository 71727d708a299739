package root

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

// TVFS is the root.Handler for the recursive virtual-file-system tree
// format: like MNDX it resolves to a TreeDirectory, but each directory
// record's entry may terminate in either a nested directory or a direct
// (CKey, content-size) reference rather than always bottoming out at a
// single global trie.
type TVFS struct {
	tree *TreeDirectory
}

type tvfsEntryHeader struct {
	NameLen    uint16
	IsFile     uint8
	ChildCount uint32
}

type tvfsFileRecord struct {
	CKey        keyindex.CKey
	ContentSize uint64
}

// ParseTVFS reads the recursive tree format starting at the root
// directory record.
func ParseTVFS(r io.Reader, tbl *keyindex.Table) (*TVFS, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading TVFS file")
	}

	buf := bytes.NewReader(data)
	fm := make(FileMap)
	if err := tvfsWalk(buf, "", tbl, fm); err != nil {
		return nil, errors.Wrap(err, "walking tree")
	}

	tree, err := ToTree(fm)
	if err != nil {
		return nil, errors.Wrap(err, "building tree")
	}

	return &TVFS{tree: tree}, nil
}

func tvfsWalk(buf *bytes.Reader, prefix string, tbl *keyindex.Table, fm FileMap) error {
	var hdr tvfsEntryHeader
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	nameBytes := make([]byte, hdr.NameLen)
	if hdr.NameLen > 0 {
		if _, err := io.ReadFull(buf, nameBytes); err != nil {
			return err
		}
	}
	name := prefix
	if hdr.NameLen > 0 {
		if prefix != "" {
			name += "/"
		}
		name += string(nameBytes)
	}

	if hdr.IsFile != 0 {
		var rec tvfsFileRecord
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			return err
		}
		ent := tbl.Insert(rec.CKey)
		ent.ContentSize = int64(rec.ContentSize)
		fm[name] = FileMapEntry{Entry: ent}
		return nil
	}

	for i := uint32(0); i < hdr.ChildCount; i++ {
		if err := tvfsWalk(buf, name, tbl, fm); err != nil {
			return err
		}
	}
	return nil
}

// GetByName walks the tree.
func (t *TVFS) GetByName(name string) (*keyindex.Entry, bool) {
	if fileDataID, ok := ParseLiteralFileDataID(name); ok {
		return t.GetByID(fileDataID)
	}
	dent, err := t.tree.Get(name)
	if err != nil || dent.File == nil {
		return nil, false
	}
	return dent.File.Entry, true
}

// GetByID always fails: TVFS carries no file-data-id space.
func (t *TVFS) GetByID(fileDataID uint32) (*keyindex.Entry, bool) {
	return nil, false
}

// Insert adds a path directly into the tree.
func (t *TVFS) Insert(name string, fileDataID uint32, e *keyindex.Entry) error {
	dirPath, base := splitDirBase(name)
	dir, err := t.tree.mkdirsPublic(dirPath)
	if err != nil {
		return err
	}
	_, err = dir.addFile(e, fileDataID, base)
	return err
}

func splitDirBase(p string) (string, string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i], p[i+1:]
		}
	}
	return "", p
}

// Iterate calls fn for every file in the tree.
func (t *TVFS) Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) {
	walkTreeNames(t.tree, "", fn)
}

// Close is a no-op.
func (t *TVFS) Close() error { return nil }
