package root

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

// MNDX is the root.Handler for the compact path trie format: a
// TreeDirectory built by walking the on-disk trie once at parse time,
// adapted from the teacher's ngdp/mndx/treeify.go tree machinery but fed
// by a pure-Go trie-node parser instead of CascLib's cgo bridge, which
// is not carried forward (see DESIGN.md).
type MNDX struct {
	tree *TreeDirectory
	tbl  *keyindex.Table
}

type mndxNodeHeader struct {
	FragmentLen uint16
	IsLeaf      uint8
	ChildCount  uint8
}

type mndxLeaf struct {
	FileDataID uint32
	CKey       keyindex.CKey
}

// ParseMNDX walks the trie byte stream, accumulating full /-separated
// paths (backslashes become slashes) at each leaf, then builds the
// resulting TreeDirectory.
func ParseMNDX(r io.Reader, tbl *keyindex.Table) (*MNDX, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading MNDX file")
	}

	buf := bytes.NewReader(data)
	fm := make(FileMap)
	if err := mndxWalk(buf, "", tbl, fm); err != nil {
		return nil, errors.Wrap(err, "walking trie")
	}

	tree, err := ToTree(fm)
	if err != nil {
		return nil, errors.Wrap(err, "building tree")
	}

	return &MNDX{tree: tree, tbl: tbl}, nil
}

func mndxWalk(buf *bytes.Reader, prefix string, tbl *keyindex.Table, fm FileMap) error {
	var hdr mndxNodeHeader
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return err
	}

	frag := make([]byte, hdr.FragmentLen)
	if hdr.FragmentLen > 0 {
		if _, err := io.ReadFull(buf, frag); err != nil {
			return err
		}
	}
	path := prefix + strings.ReplaceAll(string(frag), `\`, "/")

	if hdr.IsLeaf != 0 {
		var leaf mndxLeaf
		if err := binary.Read(buf, binary.LittleEndian, &leaf); err != nil {
			return err
		}
		fm[path] = FileMapEntry{Entry: tbl.Insert(leaf.CKey), FileDataID: leaf.FileDataID}
		return nil
	}

	for i := uint8(0); i < hdr.ChildCount; i++ {
		if err := mndxWalk(buf, path, tbl, fm); err != nil {
			return err
		}
	}
	return nil
}

// GetByName walks the built tree.
func (m *MNDX) GetByName(name string) (*keyindex.Entry, bool) {
	if fileDataID, ok := ParseLiteralFileDataID(name); ok {
		return m.GetByID(fileDataID)
	}
	dent, err := m.tree.Get(name)
	if err != nil || dent.File == nil {
		return nil, false
	}
	return dent.File.Entry, true
}

// GetByID is a linear scan: MNDX's own format indexes by path, not
// file-data-id.
func (m *MNDX) GetByID(fileDataID uint32) (*keyindex.Entry, bool) {
	var found *keyindex.Entry
	m.Iterate(func(name string, fid uint32, e *keyindex.Entry) bool {
		if fid == fileDataID {
			found = e
			return false
		}
		return true
	})
	return found, found != nil
}

// Insert adds a new path directly into the tree.
func (m *MNDX) Insert(name string, fileDataID uint32, e *keyindex.Entry) error {
	fm := FileMap{name: {Entry: e, FileDataID: fileDataID}}
	tree, err := ToTree(fm)
	if err != nil {
		return err
	}
	for _, dent := range tree.List() {
		if dent.File != nil {
			if _, err := m.insertEntry(dent.Name, dent.File); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MNDX) insertEntry(name string, tf *TreeFile) (*TreeFile, error) {
	dir, err := m.tree.mkdirsPublic("")
	if err != nil {
		return nil, err
	}
	return dir.addFile(tf.Entry, tf.FileDataID, name)
}

// mkdirsPublic is a thin adapter so Insert can reuse the unexported
// mkdirs machinery at the tree root.
func (td *TreeDirectory) mkdirsPublic(dirPath string) (*TreeDirectory, error) {
	if dirPath == "" || dirPath == "." {
		return td, nil
	}
	return td.mkdirs(splitPath(dirPath))
}

func splitPath(p string) []string {
	var parts []string
	cur := ""
	for _, r := range p {
		if r == '/' {
			parts = append(parts, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	return append(parts, cur)
}

func walkTreeNames(td *TreeDirectory, prefix string, fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) bool {
	for _, dent := range td.List() {
		name := prefix + dent.Name
		if dent.File != nil {
			if !fn(name, dent.File.FileDataID, dent.File.Entry) {
				return false
			}
		}
		if dent.Directory != nil {
			if !walkTreeNames(dent.Directory, name+"/", fn) {
				return false
			}
		}
	}
	return true
}

// Iterate calls fn for every file in the tree, full /-separated path.
func (m *MNDX) Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) {
	walkTreeNames(m.tree, "", fn)
}

// Close is a no-op.
func (m *MNDX) Close() error { return nil }
