package root

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

// InstallTag is one (category, mask-bit) pair from an install manifest's
// tag table, e.g. "Windows" architecture or "enUS" locale.
type InstallTag struct {
	Name     string
	Category string
	Bit      uint
}

type installEntry struct {
	name string
	tags uint64
	e    *keyindex.Entry
}

// Install is the root.Handler for the flat install-manifest format: a
// tag table followed by (name, CKey, size, tag-bitmap) records, filtered
// by architecture/locale/region at query time.
type Install struct {
	tags    []InstallTag
	entries []*installEntry
	byName  map[string]*installEntry
}

// ParseInstall reads a text install manifest: a "Tags" header line of
// space-separated "Name=Category=Bit" triples, then one line per entry:
// "name|CKey-hex|size|tag-bitmap-hex".
func ParseInstall(r io.Reader, tbl *keyindex.Table) (*Install, error) {
	in := &Install{byName: make(map[string]*installEntry)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !sc.Scan() {
		return nil, errors.New("root: empty install manifest")
	}
	for _, tag := range strings.Fields(sc.Text()) {
		parts := strings.SplitN(tag, "=", 3)
		if len(parts) != 3 {
			continue
		}
		bit, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			continue
		}
		in.tags = append(in.tags, InstallTag{Name: parts[0], Category: parts[1], Bit: uint(bit)})
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != 4 {
			continue
		}
		ckeyBytes, err := hexDecode(fields[1])
		if err != nil {
			return nil, errors.Wrap(err, "decoding CKey")
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parsing size")
		}
		tagBits, err := strconv.ParseUint(fields[3], 16, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parsing tag bitmap")
		}

		ent := tbl.Insert(keyindex.CKeyFromBytes(ckeyBytes))
		ent.ContentSize = size

		ie := &installEntry{name: fields[0], tags: tagBits, e: ent}
		in.entries = append(in.entries, ie)
		in.byName[strings.ToLower(fields[0])] = ie
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning install manifest")
	}

	return in, nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	b := make([]byte, len(s)/2)
	for i := range b {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		b[i] = byte(v)
	}
	return b, nil
}

// MatchesTags reports whether wanted (a set of tag bit positions) is a
// subset of e's recorded tag-bitmap, the architecture/locale/region
// filter spec.md describes.
func (in *Install) MatchesTags(e *installEntry, wanted []uint) bool {
	for _, bit := range wanted {
		if e.tags&(1<<bit) == 0 {
			return false
		}
	}
	return true
}

// GetByName resolves the entry for a name; no tag filter is applied.
func (in *Install) GetByName(name string) (*keyindex.Entry, bool) {
	ie, ok := in.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return ie.e, true
}

// GetByID always fails: Install has no file-data-id space.
func (in *Install) GetByID(fileDataID uint32) (*keyindex.Entry, bool) {
	return nil, false
}

// Insert appends a new install entry with no tags set.
func (in *Install) Insert(name string, fileDataID uint32, e *keyindex.Entry) error {
	ie := &installEntry{name: name, e: e}
	in.entries = append(in.entries, ie)
	in.byName[strings.ToLower(name)] = ie
	return nil
}

// Iterate calls fn for every install entry.
func (in *Install) Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) {
	for _, ie := range in.entries {
		if !fn(ie.name, 0, ie.e) {
			return
		}
	}
}

// Close is a no-op.
func (in *Install) Close() error { return nil }
