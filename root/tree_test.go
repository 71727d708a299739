package root

import (
	"testing"

	"github.com/lukegb/casc/keyindex"
)

func TestToTreeAndGet(t *testing.T) {
	var ck keyindex.CKey
	ck[0] = 7
	e := &keyindex.Entry{CKey: ck}

	fm := FileMap{
		"World/Maps/Azeroth/Azeroth.wdt": {Entry: e, FileDataID: 100},
		"World/Maps/Azeroth/readme.txt":  {Entry: e, FileDataID: 101},
	}

	tree, err := ToTree(fm)
	if err != nil {
		t.Fatal(err)
	}

	dent, err := tree.Get("world/maps/azeroth/azeroth.wdt")
	if err != nil {
		t.Fatal(err)
	}
	if dent.File == nil || dent.File.Entry != e {
		t.Fatalf("Get returned %+v, want file entry %v", dent, e)
	}

	if _, err := tree.Get("world/maps/azeroth/missing.txt"); err != ErrNotExists {
		t.Errorf("Get(missing) = %v, want ErrNotExists", err)
	}
}

func TestToTreeDirFileClash(t *testing.T) {
	e := &keyindex.Entry{}
	fm := FileMap{
		"a/b":   {Entry: e},
		"a/b/c": {Entry: e},
	}
	if _, err := ToTree(fm); err == nil {
		t.Fatal("expected error for directory/file name clash")
	}
}

func TestTreeDirectoryList(t *testing.T) {
	e := &keyindex.Entry{}
	fm := FileMap{
		"b.txt": {Entry: e},
		"a.txt": {Entry: e},
	}
	tree, err := ToTree(fm)
	if err != nil {
		t.Fatal(err)
	}
	list := tree.List()
	if len(list) != 2 || list[0].Name != "a.txt" || list[1].Name != "b.txt" {
		t.Fatalf("List() = %+v, want sorted [a.txt b.txt]", list)
	}
}
