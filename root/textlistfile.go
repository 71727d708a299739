package root

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

// TextListfile wraps another Handler, adding names parsed from an
// external newline-separated listfile (either bare "name" lines or
// "id;name" lines) and resolving lookups by delegating to the wrapped
// handler once the listfile has told it which file-data-id or name to
// ask for.
type TextListfile struct {
	inner Handler
}

// NewTextListfile wraps inner, an already-built root handler for the
// product's native manifest format.
func NewTextListfile(inner Handler) *TextListfile {
	return &TextListfile{inner: inner}
}

// Load reads listfile lines of the form "id;name" or bare "name", and
// for every line it can resolve against the wrapped handler's
// file-data-id space, inserts the name.
func (t *TextListfile) Load(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var fileDataID uint32
		var name string
		if i := strings.IndexByte(line, ';'); i >= 0 {
			id, err := strconv.ParseUint(line[:i], 10, 32)
			if err != nil {
				return errors.Wrapf(err, "parsing listfile id %q", line[:i])
			}
			fileDataID = uint32(id)
			name = line[i+1:]
		} else {
			name = line
		}

		if fileDataID != 0 {
			if e, ok := t.inner.GetByID(fileDataID); ok {
				if err := t.inner.Insert(name, fileDataID, e); err != nil {
					return err
				}
				continue
			}
		}
		if e, ok := t.inner.GetByName(name); ok {
			if err := t.inner.Insert(name, fileDataID, e); err != nil {
				return err
			}
		}
	}
	return sc.Err()
}

// GetByName delegates to the wrapped handler.
func (t *TextListfile) GetByName(name string) (*keyindex.Entry, bool) { return t.inner.GetByName(name) }

// GetByID delegates to the wrapped handler.
func (t *TextListfile) GetByID(fileDataID uint32) (*keyindex.Entry, bool) {
	return t.inner.GetByID(fileDataID)
}

// Insert delegates to the wrapped handler.
func (t *TextListfile) Insert(name string, fileDataID uint32, e *keyindex.Entry) error {
	return t.inner.Insert(name, fileDataID, e)
}

// Iterate delegates to the wrapped handler.
func (t *TextListfile) Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) {
	t.inner.Iterate(fn)
}

// Close delegates to the wrapped handler.
func (t *TextListfile) Close() error { return t.inner.Close() }
