package root

import (
	"github.com/lukegb/casc/keyindex"
)

// A Handler resolves names and file-data-ids to keyindex.Entry values. It
// is a closed interface: every product's root-file format gets its own
// concrete type below rather than a shared v-table (spec.md §9 redesign
// flag), but callers that don't care which variant they're holding can
// still go through this interface.
type Handler interface {
	// GetByName resolves a /-separated, case-insensitive path.
	GetByName(name string) (*keyindex.Entry, bool)

	// GetByID resolves a numeric file-data-id. D3 treats the id as a
	// snoID; variants that don't carry file-data-ids (Overwatch, TVFS,
	// Install) always return false.
	GetByID(fileDataID uint32) (*keyindex.Entry, bool)

	// Insert adds a (name, file-data-id) -> entry binding to an already
	// built handler, used to enrich it with listfile names after the
	// fact. The Parse* functions fill their handlers directly and do not
	// call it.
	Insert(name string, fileDataID uint32, e *keyindex.Entry) error

	// Iterate calls fn for every binding the handler knows, in
	// unspecified order. fn returning false stops iteration early.
	Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool)

	// Close releases any resources (decrypted buffers, companion file
	// handles) the handler is holding.
	Close() error
}

// ResolveEntry looks ckey up in tbl, returning the keyindex.Entry it
// names.
func ResolveEntry(tbl *keyindex.Table, ckey keyindex.CKey) (*keyindex.Entry, bool) {
	return tbl.Lookup(ckey)
}
