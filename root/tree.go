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

package root

import (
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/lukegb/casc/keyindex"
)

// Error constants shared by the tree-shaped root handlers (MNDX and TVFS,
// both of which build on TreeDirectory).
var (
	ErrDirFileNameClash = errors.New(`root: file and directory have clashing names`)
	ErrExists           = errors.New(`root: file has clashing name`)
	ErrNotExists        = errors.New(`root: no such file or directory`)
	ErrNotADirectory    = errors.New(`root: not a directory`)
)

// TreeDents is a sort.Interface of TreeDirectoryEntry structs, sorted by
// case-folded name.
type TreeDents []*TreeDirectoryEntry

func (td TreeDents) Len() int { return len(td) }
func (td TreeDents) Less(i, j int) bool {
	return strings.ToLower(td[i].Name) < strings.ToLower(td[j].Name)
}
func (td TreeDents) Swap(i, j int) { td[i], td[j] = td[j], td[i] }

// A TreeDirectoryEntry is a directory entry, either a nested directory or
// a file.
type TreeDirectoryEntry struct {
	Name string

	Directory *TreeDirectory
	File      *TreeFile
}

// A TreeDirectory is a container of TreeDirectory or TreeFile entries,
// addressable by a case-insensitive /-separated path. It backs both the
// MNDX and TVFS root-handler variants, which differ only in how their
// on-disk trie/tree bytes get turned into one of these.
type TreeDirectory struct {
	dents     map[string]*TreeDirectoryEntry
	flatDents []*TreeDirectoryEntry
}

func (td *TreeDirectory) flatten() {
	if td.flatDents != nil {
		return
	}

	dents := make(TreeDents, 0, len(td.dents))
	for _, v := range td.dents {
		dents = append(dents, v)
		if v.Directory != nil {
			v.Directory.flatten()
		}
	}
	sort.Sort(dents)
	td.dents = nil
	td.flatDents = dents
}

func newTreeDirectory() *TreeDirectory {
	return &TreeDirectory{
		dents: make(map[string]*TreeDirectoryEntry),
	}
}

// List returns the sorted directory entries directly inside td.
func (td *TreeDirectory) List() []*TreeDirectoryEntry {
	td.flatten()
	return td.flatDents
}

// Get returns a TreeDirectoryEntry for a given /-separated path.
func (td *TreeDirectory) Get(filePath string) (TreeDirectoryEntry, error) {
	filePath = strings.TrimLeft(path.Clean(filePath), "/")
	if filePath == "." || filePath == "" {
		return TreeDirectoryEntry{Directory: td}, nil
	}
	tde, err := td.get(strings.Split(filePath, "/"))
	if err != nil {
		return TreeDirectoryEntry{}, err
	}
	return *tde, nil
}

func (td *TreeDirectory) get(p []string) (*TreeDirectoryEntry, error) {
	td.flatten()
	cname := strings.ToLower(p[0])

	n := len(td.flatDents)
	i := sort.Search(n, func(i int) bool {
		return strings.ToLower(td.flatDents[i].Name) >= cname
	})

	if i == n {
		return nil, ErrNotExists
	}
	dent := td.flatDents[i]
	if strings.ToLower(dent.Name) != cname {
		return nil, ErrNotExists
	}

	if len(p) == 1 {
		return dent, nil
	}

	if dent.Directory == nil {
		return nil, ErrNotADirectory
	}

	return dent.Directory.get(p[1:])
}

func (td *TreeDirectory) asEntry(name string) *TreeDirectoryEntry {
	return &TreeDirectoryEntry{
		// The string-of-[]byte copies the bit of the string we need so we
		// don't retain a reference to a larger backing string (e.g. a
		// whole listfile line).
		Name:      string([]byte(name)),
		Directory: td,
	}
}

func (td *TreeDirectory) mkdirs(p []string) (*TreeDirectory, error) {
	if len(p) == 0 {
		return td, nil
	}

	cname := strings.ToLower(p[0])
	dent, ok := td.dents[cname]
	if !ok {
		dent = newTreeDirectory().asEntry(p[0])
		td.dents[cname] = dent
	}
	if dent.Directory == nil {
		return nil, ErrDirFileNameClash
	}
	return dent.Directory.mkdirs(p[1:])
}

func (td *TreeDirectory) addFile(e *keyindex.Entry, fileDataID uint32, name string) (*TreeFile, error) {
	cname := strings.ToLower(name)
	if _, ok := td.dents[cname]; ok {
		return nil, ErrExists
	}

	dent := newTreeFile(e, fileDataID).asEntry(name)
	td.dents[cname] = dent

	return dent.File, nil
}

// A TreeFile is a leaf of a TreeDirectory: a name bound to the
// keyindex.Entry that resolves it, plus (where the tree format carries
// one) a numeric file-data-id.
type TreeFile struct {
	Entry      *keyindex.Entry
	FileDataID uint32
}

func newTreeFile(e *keyindex.Entry, fileDataID uint32) *TreeFile {
	return &TreeFile{Entry: e, FileDataID: fileDataID}
}

func (tf *TreeFile) asEntry(name string) *TreeDirectoryEntry {
	return &TreeDirectoryEntry{
		Name: string([]byte(name)),
		File: tf,
	}
}

// A FileMap associates a /-separated path with the keyindex.Entry that
// resolves it and (optionally, 0 if unknown) its file-data-id. MNDX and
// TVFS build one of these before calling ToTree.
type FileMap map[string]FileMapEntry

// A FileMapEntry is one value in a FileMap.
type FileMapEntry struct {
	Entry      *keyindex.Entry
	FileDataID uint32
}

// ToTree turns a flat FileMap into a hierarchical TreeDirectory, splitting
// each path on "/" and building intermediate directories as needed.
func ToTree(fileMap FileMap) (*TreeDirectory, error) {
	root := newTreeDirectory()

	for filePath, fe := range fileMap {
		filePath = strings.TrimLeft(path.Clean(filePath), "/")
		dirPath := path.Dir(filePath)
		dir, err := root.mkdirsPublic(dirPath)
		if err != nil {
			return nil, err
		}
		if _, err := dir.addFile(fe.Entry, fe.FileDataID, path.Base(filePath)); err != nil {
			return nil, err
		}
	}
	root.flatten()

	return root, nil
}
