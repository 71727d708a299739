package root

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

// d3Key is the composite (asset_id, snoID) key Diablo III buckets its
// root entries under.
type d3Key struct {
	AssetID uint32
	SnoID   int32
}

// D3 is the root.Handler for Diablo III's named-bucket root format, with
// paths resolved through a CoreToc.dat (type,id) -> path table.
type D3 struct {
	byKey map[d3Key]*keyindex.Entry
	byID  map[uint32]*keyindex.Entry // keyed by SnoID alone, for CoreToc lookups
	paths map[d3Key]string
	names map[string]*keyindex.Entry
}

// ParseD3Root parses the bucketed root entry stream: repeated
// (assetID uint32, snoID int32, CKey) records terminated by EOF.
func ParseD3Root(r io.Reader, tbl *keyindex.Table) (*D3, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading root file")
	}

	d := &D3{
		byKey: make(map[d3Key]*keyindex.Entry),
		byID:  make(map[uint32]*keyindex.Entry),
		paths: make(map[d3Key]string),
		names: make(map[string]*keyindex.Entry),
	}

	buf := bytes.NewReader(data)
	for buf.Len() > 0 {
		var rec struct {
			AssetID uint32
			SnoID   int32
			CKey    keyindex.CKey
		}
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, errors.Wrap(err, "reading bucket entry")
		}
		ent := tbl.Insert(rec.CKey)
		k := d3Key{AssetID: rec.AssetID, SnoID: rec.SnoID}
		d.byKey[k] = ent
		d.byID[uint32(rec.SnoID)] = ent
	}

	return d, nil
}

// LoadCoreToc applies CoreToc.dat's "type id path" lines, building the
// (asset-type, sno-id) -> path resolution the original game client
// performs against its own in-memory copy of the same table.
func (d *D3) LoadCoreToc(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		assetType, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		snoID, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			continue
		}
		path := strings.Join(fields[2:], " ")

		k := d3Key{AssetID: uint32(assetType), SnoID: int32(snoID)}
		d.paths[k] = path
		if ent, ok := d.byKey[k]; ok {
			d.names[strings.ToLower(path)] = ent
		}
	}
	return sc.Err()
}

// GetByName resolves a CoreToc-derived path. Bare-CKey literals are left
// to the caller, which holds the shared keyindex.Table this handler
// doesn't.
func (d *D3) GetByName(name string) (*keyindex.Entry, bool) {
	if _, ok := ParseLiteralCKey(name); ok {
		return nil, false
	}
	e, ok := d.names[strings.ToLower(name)]
	return e, ok
}

// GetByID resolves by snoID alone (D3 has no single linear file-data-id
// space, so this treats fileDataID as a snoID).
func (d *D3) GetByID(fileDataID uint32) (*keyindex.Entry, bool) {
	e, ok := d.byID[fileDataID]
	return e, ok
}

// Insert binds an external name directly to a snoID bucket.
func (d *D3) Insert(name string, fileDataID uint32, e *keyindex.Entry) error {
	d.names[strings.ToLower(name)] = e
	d.byID[fileDataID] = e
	return nil
}

// Iterate calls fn for every known (path, entry) pair.
func (d *D3) Iterate(fn func(name string, fileDataID uint32, e *keyindex.Entry) bool) {
	for k, path := range d.paths {
		ent, ok := d.byKey[k]
		if !ok {
			continue
		}
		if !fn(path, uint32(k.SnoID), ent) {
			return
		}
	}
	for k, ent := range d.byKey {
		if _, ok := d.paths[k]; ok {
			continue
		}
		if !fn(fmt.Sprintf("FILE%08X", uint32(k.SnoID)), uint32(k.SnoID), ent) {
			return
		}
	}
}

// Close is a no-op.
func (d *D3) Close() error { return nil }
