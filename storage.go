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

// Package casc is a read-only content-addressable storage library for
// Blizzard's CASC game-client distribution format: it mounts a local
// install (or a CDN build, given a Fetcher) and resolves names,
// file-data-ids, CKeys or EKeys to random-access file content.
package casc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/lukegb/casc/blte"
	"github.com/lukegb/casc/config"
	encodingpkg "github.com/lukegb/casc/encoding"
	"github.com/lukegb/casc/idx"
	"github.com/lukegb/casc/internal/xcipher"
	"github.com/lukegb/casc/keyindex"
	"github.com/lukegb/casc/root"
	"github.com/lukegb/casc/span"
	"github.com/pkg/errors"
)

// A Storage is an opened CASC install: a frozen keyindex.Table, a root
// handler, and an archive opener, shared by every FileHandle opened from
// it. Per spec.md §5, Storage is conceptually immutable once Open
// returns; only the reference count (handles outstanding) and the key
// ring (explicitly documented as mutable via SetKey/ImportKeys) change
// afterward.
type Storage struct {
	tbl     *keyindex.Table
	rootH   root.Handler
	keyRing *xcipher.KeyRing
	opener  span.ArchiveOpener

	buildConfig *config.BuildConfig
	cdnConfig   *config.CDNConfig
	catalogRow  config.BuildInfoEntry
	online      bool

	opts storageOptions

	refCount int32 // handles outstanding, plus 1 for the caller's own reference
	closed   int32
}

// Open mounts a local CASC install rooted at path (a directory containing
// ".build.info", "Data/config", "Data/data" and "Data/indices", the same
// on-disk layout a retail Blizzard client uses).
func Open(path string, opts ...Option) (*Storage, error) {
	o := defaultStorageOptions()
	for _, opt := range opts {
		opt(&o)
	}

	catalogFile, err := os.Open(filepath.Join(path, ".build.info"))
	if err != nil {
		return nil, errors.Wrap(ErrFileNotFound, err.Error())
	}
	rows, err := config.ParseCatalog(catalogFile)
	catalogFile.Close()
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}

	row, ok := config.ActiveEntry(rows, string(o.program))
	if !ok && len(rows) > 0 {
		row, ok = rows[0], true
	}
	if !ok {
		return nil, errors.Wrapf(ErrBadFormat, "casc: no catalog entry for product %q", o.program)
	}

	configDir := filepath.Join(path, "Data", "config")
	buildConfigR, err := os.Open(shardedPath(configDir, row.BuildKey))
	if err != nil {
		return nil, errors.Wrap(ErrFileNotFound, err.Error())
	}
	buildConfig, err := config.ParseBuildConfig(buildConfigR)
	buildConfigR.Close()
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}

	cdnConfigR, err := os.Open(shardedPath(configDir, row.CDNKey))
	if err != nil {
		return nil, errors.Wrap(ErrFileNotFound, err.Error())
	}
	cdnConfig, err := config.ParseCDNConfig(cdnConfigR)
	cdnConfigR.Close()
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}

	tbl := keyindex.New(keyindex.FileOffsetBits)
	opener := newFileArchiveOpener(filepath.Join(path, "Data", "data"), o.cloneStreams)

	if err := loadIndices(filepath.Join(path, "Data", "indices"), tbl); err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}

	keyRing := xcipher.NewKeyRing()
	blteOpts := blte.Options{StrictDataCheck: o.strictDataCheck, OvercomeEncrypted: true, KeyRing: keyRing}

	encodingEKey := keyindex.EKeyFromBytes(buildConfig.Encoding.EncodedKey[:])
	encodingBytes, err := readThroughIndex(tbl, opener, encodingEKey, blteOpts)
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, errors.Wrap(err, "reading encoding table").Error())
	}
	if _, err := encodingpkg.Parse(bytes.NewReader(encodingBytes), tbl); err != nil {
		return nil, errors.Wrap(ErrBadFormat, errors.Wrap(err, "parsing encoding table").Error())
	}

	rootCKey := keyindex.CKeyFromBytes(buildConfig.Root[:])
	rootEntry, ok := tbl.Lookup(rootCKey)
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "casc: root CKey %s not in encoding table", rootCKey)
	}
	rootBytes, err := readEntry(rootEntry, tbl, opener, blteOpts)
	if err != nil {
		return nil, errors.Wrap(ErrFileCorrupt, errors.Wrap(err, "reading root file").Error())
	}

	// The root parsers call keyindex.Table.Insert to add placeholder
	// entries for CKeys their own format references, so the table stays
	// mutable until parsing the root file is done; only then is it safe
	// to Freeze for concurrent FileHandle reads.
	rootH, err := root.Decorate(bytes.NewReader(rootBytes), tbl, root.DecorateOptions{
		Program:         o.program,
		LocaleMask:      o.localeMask,
		OverrideArchive: o.overrideArchive,
		AudioLocale:     o.audioLocale,
		KeyRing:         keyRing,
		CompanionAPM:    byteReaderOrNil(o.companionAPM),
		CoreToc:         byteReaderOrNil(o.coreToc),
	})
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}

	tbl.Freeze()

	glog.Infof("casc: opened storage %q, product %q, %d entries", path, row.Product, tbl.Len())

	return &Storage{
		tbl:         tbl,
		rootH:       rootH,
		keyRing:     keyRing,
		opener:      opener,
		buildConfig: buildConfig,
		cdnConfig:   cdnConfig,
		catalogRow:  row,
		opts:        o,
		refCount:    1,
	}, nil
}

// catalogRowFromConfigs synthesizes the catalog-row fields Info needs for
// an OpenOnline-mounted Storage, which has no ".build.info" to parse:
// buildConfig.BuildName (e.g. "WOW-36827patch9.0.5") is the closest
// equivalent OpenOnline has to the local catalog's "Version" column.
func catalogRowFromConfigs(buildConfig *config.BuildConfig) config.BuildInfoEntry {
	return config.BuildInfoEntry{Version: buildConfig.BuildName}
}

// OpenOnline mounts a build pulled live from a CDN through f, instead of
// from local disk. Config/archive-index/archive bytes are all fetched on
// demand rather than read from files.
func OpenOnline(ctx context.Context, buildConfigHash, cdnConfigHash [16]byte, f Fetcher, opts ...Option) (*Storage, error) {
	o := defaultStorageOptions()
	for _, opt := range opts {
		opt(&o)
	}

	bcr, err := f.FetchConfig(ctx, buildConfigHash)
	if err != nil {
		return nil, errors.Wrap(ErrFileNotFound, err.Error())
	}
	buildConfig, err := config.ParseBuildConfig(bcr)
	bcr.Close()
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}

	ccr, err := f.FetchConfig(ctx, cdnConfigHash)
	if err != nil {
		return nil, errors.Wrap(ErrFileNotFound, err.Error())
	}
	cdnConfig, err := config.ParseCDNConfig(ccr)
	ccr.Close()
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}

	tbl := keyindex.New(keyindex.FileOffsetBits)
	opener := newOnlineArchiveOpener(ctx, f, cdnConfig.Archives)

	for _, archiveHash := range cdnConfig.Archives {
		ir, err := f.FetchIndex(ctx, archiveHash)
		if err != nil {
			return nil, errors.Wrapf(ErrFileNotFound, "fetching archive index: %v", err)
		}
		err = idx.Parse(ir, tbl, keyindex.FileOffsetBits)
		ir.Close()
		if err != nil {
			return nil, errors.Wrap(ErrBadFormat, err.Error())
		}
	}

	keyRing := xcipher.NewKeyRing()
	blteOpts := blte.Options{StrictDataCheck: o.strictDataCheck, OvercomeEncrypted: true, KeyRing: keyRing}

	encodingEKey := keyindex.EKeyFromBytes(buildConfig.Encoding.EncodedKey[:])
	encodingBytes, err := readThroughIndex(tbl, opener, encodingEKey, blteOpts)
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, errors.Wrap(err, "reading encoding table").Error())
	}
	if _, err := encodingpkg.Parse(bytes.NewReader(encodingBytes), tbl); err != nil {
		return nil, errors.Wrap(ErrBadFormat, errors.Wrap(err, "parsing encoding table").Error())
	}

	rootCKey := keyindex.CKeyFromBytes(buildConfig.Root[:])
	rootEntry, ok := tbl.Lookup(rootCKey)
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "casc: root CKey %s not in encoding table", rootCKey)
	}
	rootBytes, err := readEntry(rootEntry, tbl, opener, blteOpts)
	if err != nil {
		return nil, errors.Wrap(ErrFileCorrupt, err.Error())
	}

	rootH, err := root.Decorate(bytes.NewReader(rootBytes), tbl, root.DecorateOptions{
		Program:         o.program,
		LocaleMask:      o.localeMask,
		OverrideArchive: o.overrideArchive,
		AudioLocale:     o.audioLocale,
		KeyRing:         keyRing,
		CompanionAPM:    byteReaderOrNil(o.companionAPM),
		CoreToc:         byteReaderOrNil(o.coreToc),
	})
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}

	tbl.Freeze()

	return &Storage{
		tbl:         tbl,
		rootH:       rootH,
		keyRing:     keyRing,
		opener:      opener,
		buildConfig: buildConfig,
		cdnConfig:   cdnConfig,
		catalogRow:  catalogRowFromConfigs(buildConfig),
		online:      true,
		opts:        o,
		refCount:    1,
	}, nil
}

// Info returns one piece of storage metadata.
func (s *Storage) Info(field InfoField) (interface{}, error) {
	switch field {
	case InfoLocalFileCount:
		return s.tbl.Len(), nil
	case InfoProduct:
		return s.catalogRow.Product, nil
	case InfoBuildName:
		return s.buildConfig.BuildName, nil
	case InfoInstalledLocales:
		return s.opts.localeMask, nil
	case InfoTags:
		return s.catalogRow.Tags, nil
	case InfoBuildNumber:
		return s.catalogRow.Version, nil
	case InfoFeatures:
		var f StorageFeatures
		if s.online {
			f |= FeatureOnline
		}
		return f, nil
	default:
		return nil, ErrInvalidParameter
	}
}

// SetKey installs or replaces a single decryption key, used to decode
// encrypted BLTE frames whose key-name matches keyName.
func (s *Storage) SetKey(keyName uint64, key []byte) {
	s.keyRing.Set(keyName, key)
}

// ImportKeys bulk-loads "keyName hexkey" pairs from a text file at path.
func (s *Storage) ImportKeys(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(ErrFileNotFound, err.Error())
	}
	defer f.Close()
	if err := s.keyRing.Import(f); err != nil {
		return errors.Wrap(ErrBadFormat, err.Error())
	}
	return nil
}

// OpenFile resolves ref against the storage and returns a random-access
// handle over its decoded content.
func (s *Storage) OpenFile(ref FileRef, flags OpenFlags) (*FileHandle, error) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return nil, ErrInvalidHandle
	}

	entry, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	blteOpts := blte.Options{
		StrictDataCheck:   s.opts.strictDataCheck || flags&StrictDataCheck != 0,
		OvercomeEncrypted: flags&OvercomeEncrypted != 0,
		KeyRing:           s.keyRing,
	}

	sr, err := span.Open(entry, s.tbl, s.opener, span.Options{Strategy: span.LastFrame, BLTE: blteOpts})
	if err != nil {
		return nil, errors.Wrap(ErrFileCorrupt, err.Error())
	}

	atomic.AddInt32(&s.refCount, 1)
	return &FileHandle{storage: s, entry: entry, r: sr}, nil
}

func (s *Storage) resolve(ref FileRef) (*keyindex.Entry, error) {
	switch ref.kind {
	case refByCKey:
		e, ok := s.tbl.Lookup(ref.ckey)
		if !ok {
			return nil, ErrFileNotFound
		}
		return e, nil
	case refByEKey:
		e, ok := s.tbl.LookupEKey(ref.ekey)
		if !ok {
			return nil, ErrFileNotFound
		}
		return e, nil
	case refByName:
		if ck, ok := root.ParseLiteralCKey(ref.name); ok {
			if e, ok := s.tbl.Lookup(ck); ok {
				return e, nil
			}
			if e, ok := s.tbl.LookupEKey(keyindex.EKeyFromBytes(ck[:])); ok {
				return e, nil
			}
		}
		if id, ok := root.ParseLiteralFileDataID(ref.name); ok {
			if e, ok := s.rootH.GetByID(id); ok {
				return e, nil
			}
		}
		e, ok := s.rootH.GetByName(ref.name)
		if !ok {
			return nil, ErrFileNotFound
		}
		return e, nil
	case refByID:
		e, ok := s.rootH.GetByID(ref.id)
		if !ok {
			return nil, ErrFileNotFound
		}
		return e, nil
	default:
		return nil, ErrInvalidParameter
	}
}

// Find returns an Iterator over every name the root handler knows that
// matches mask (a path.Match-style glob); pass "*" to enumerate
// everything.
func (s *Storage) Find(mask string) *Iterator {
	return newIterator(s.rootH, mask)
}

// Close releases the caller's own reference to s. The underlying tables
// and archive handles are freed once every FileHandle opened from s has
// also been closed, the explicit shared-ownership model spec.md §9 asks
// for in place of manual reference counting.
func (s *Storage) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	return s.release()
}

func (s *Storage) release() error {
	if atomic.AddInt32(&s.refCount, -1) != 0 {
		return nil
	}
	if c, ok := s.opener.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func byteReaderOrNil(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

// readEntry fully reads a single entry's decoded content, used for the
// small, always-fully-read bootstrap files (root, encoding).
func readEntry(entry *keyindex.Entry, tbl *keyindex.Table, opener span.ArchiveOpener, opts blte.Options) ([]byte, error) {
	sr, err := span.Open(entry, tbl, opener, span.Options{Strategy: span.InternalBuffer, BLTE: opts})
	if err != nil {
		return nil, err
	}
	return readAllSpan(sr)
}

// readThroughIndex looks ekey up in tbl (already populated from .idx
// parsing) and reads its decoded content; used for the encoding table,
// which is addressed by EKey rather than CKey since it has no entry of
// its own in the encoding table it builds.
func readThroughIndex(tbl *keyindex.Table, opener span.ArchiveOpener, ekey keyindex.EKey, opts blte.Options) ([]byte, error) {
	entry, ok := tbl.LookupEKey(ekey)
	if !ok {
		return nil, errors.Errorf("casc: encoding EKey %s not present in any .idx", ekey)
	}
	return readEntry(entry, tbl, opener, opts)
}

func readAllSpan(sr *span.Reader) ([]byte, error) {
	var out []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := sr.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, err
		}
	}
}

func loadIndices(dir string, tbl *keyindex.Table) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "casc: reading indices directory")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range idx.SelectLatest(names) {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		err = idx.Parse(f, tbl, keyindex.FileOffsetBits)
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "casc: parsing %s", name)
		}
	}
	return nil
}

func shardedPath(base string, hash [16]byte) string {
	hx := fmt.Sprintf("%032x", hash)
	return filepath.Join(base, hx[0:2], hx[2:4], hx)
}

// fileArchiveOpener serves local ".../Data/data/data.NNN" archives,
// sharing one *os.File per archive index by default (reads go through
// ReadAt, and the mutex guards only the files map), or opening a fresh
// descriptor per call when cloneStreams is set.
type fileArchiveOpener struct {
	dir          string
	cloneStreams bool

	mu    sync.Mutex
	files map[uint32]*os.File
}

func newFileArchiveOpener(dir string, cloneStreams bool) *fileArchiveOpener {
	return &fileArchiveOpener{dir: dir, cloneStreams: cloneStreams, files: make(map[uint32]*os.File)}
}

func (o *fileArchiveOpener) OpenArchive(index uint32) (io.ReaderAt, error) {
	path := filepath.Join(o.dir, fmt.Sprintf("data.%03d", index))
	if o.cloneStreams {
		return os.Open(path)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if f, ok := o.files[index]; ok {
		return f, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	o.files[index] = f
	return f, nil
}

func (o *fileArchiveOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var first error
	for _, f := range o.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	o.files = nil
	return first
}

// onlineArchiveOpener fetches archive bytes by Range request against a
// Fetcher, keyed by the archive's position in the CDN config's Archives
// list, mirroring the teacher's Range-GET-over-CDN-archive approach in
// highlevel.go's Fetch.
type onlineArchiveOpener struct {
	ctx      context.Context
	fetcher  Fetcher
	archives [][16]byte
}

func newOnlineArchiveOpener(ctx context.Context, f Fetcher, archives [][16]byte) *onlineArchiveOpener {
	return &onlineArchiveOpener{ctx: ctx, fetcher: f, archives: archives}
}

func (o *onlineArchiveOpener) OpenArchive(index uint32) (io.ReaderAt, error) {
	if int(index) >= len(o.archives) {
		return nil, errors.Errorf("casc: archive index %d out of range", index)
	}
	return &onlineArchiveReaderAt{ctx: o.ctx, fetcher: o.fetcher, hash: o.archives[index]}, nil
}

type onlineArchiveReaderAt struct {
	ctx     context.Context
	fetcher Fetcher
	hash    [16]byte
}

func (r *onlineArchiveReaderAt) ReadAt(p []byte, off int64) (int, error) {
	rc, err := r.fetcher.FetchDataRange(r.ctx, r.hash, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return io.ReadFull(rc, p)
}
