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

// Package span stitches a CKey entry's spans (and each span's BLTE
// frames) into a single contiguous logical file, servicing random-access
// reads through a small frame cache.
package span

import (
	"io"
	"sort"

	"github.com/lukegb/casc/blte"
	"github.com/lukegb/casc/keyindex"
	"github.com/pkg/errors"
)

// archiveEntryHeaderSize is the fixed header preceding each BLTE blob
// packed into a .data.NNN archive: EKey[16], size[4 LE], flags[2],
// checksum[8].
const archiveEntryHeaderSize = 16 + 4 + 2 + 8

// An ArchiveOpener resolves an archive index to a random-access handle,
// letting Reader stay agnostic of whether archives are local files or
// something else entirely.
type ArchiveOpener interface {
	OpenArchive(index uint32) (io.ReaderAt, error)
}

// CacheStrategy controls how much decoded content Reader keeps around
// between reads.
type CacheStrategy int

const (
	// LastFrame keeps only the most recently decoded frame, optimal for
	// sequential streaming.
	LastFrame CacheStrategy = iota

	// InternalBuffer grows the cache to cover arbitrary byte ranges,
	// suited to small files read randomly.
	InternalBuffer
)

// Options configures a Reader.
type Options struct {
	Strategy CacheStrategy
	BLTE     blte.Options
}

type spanInfo struct {
	entry        *keyindex.Entry
	logicalStart int64
	logicalEnd   int64

	frames    []blte.Frame
	frameBase int64 // archive byte offset where this span's BLTE stream begins

	// frameOffsets[i] is the archive byte offset of frame i's own raw
	// encoded bytes (frameBase plus the header and every prior frame's
	// EncodedSize), letting decodedFrame seek straight to any frame
	// instead of re-streaming the span from the start.
	frameOffsets []int64
}

// frameKey identifies one decoded frame in a Reader's cache.
type frameKey struct {
	si  *spanInfo
	idx int
}

// Reader is an io.ReaderAt (and io.Reader) over the logical content of a
// multi-span CKey entry.
type Reader struct {
	opener ArchiveOpener
	opts   Options
	spans  []*spanInfo
	size   int64

	pos int64 // for the io.Reader cursor

	// frameCache holds decoded frames keyed by span+index. LastFrame
	// keeps at most the single most recently decoded frame; InternalBuffer
	// keeps every frame decoded so far, for callers expected to touch
	// most of a (typically small) file across scattered offsets.
	frameCache map[frameKey][]byte
}

// Open builds a Reader over entry's spans, resolving each additional
// span's location by looking its EKey back up in tbl.
func Open(entry *keyindex.Entry, tbl *keyindex.Table, opener ArchiveOpener, opts Options) (*Reader, error) {
	if len(entry.EKeys) == 0 {
		return nil, errors.New("span: entry has no EKeys")
	}

	r := &Reader{opener: opener, opts: opts}
	var logical int64
	for i, ekey := range entry.EKeys {
		spanEntry := entry
		if i > 0 {
			se, ok := tbl.LookupEKey(ekey)
			if !ok {
				return nil, errors.Errorf("span: no location known for span %d EKey %s", i, ekey)
			}
			spanEntry = se
		}

		si := &spanInfo{
			entry:        spanEntry,
			logicalStart: logical,
			frameBase:    int64(spanEntry.Offset()) + archiveEntryHeaderSize,
		}
		// A single-span entry's length comes from ContentSize when known,
		// or from its frame table on first touch. ContentSize covers all
		// spans together, so for a multi-span entry each span's frame
		// table is parsed here to learn where the next span starts.
		if len(entry.EKeys) == 1 {
			if entry.ContentSize > 0 {
				si.logicalEnd = logical + entry.ContentSize
			}
		} else if err := r.ensureFrames(si); err != nil {
			return nil, err
		}
		r.spans = append(r.spans, si)
		logical = si.logicalEnd
	}

	if entry.ContentSize > 0 {
		r.size = entry.ContentSize
	}

	return r, nil
}

func (r *Reader) ensureFrames(si *spanInfo) error {
	if si.frames != nil {
		return nil
	}

	ra, err := r.opener.OpenArchive(si.entry.Archive())
	if err != nil {
		return errors.Wrap(err, "span: opening archive")
	}

	sr := io.NewSectionReader(ra, si.frameBase, si.entry.EncodedSize)
	br := blte.NewReader(sr, r.opts.BLTE)
	frames, err := br.Frames()
	if err != nil {
		return errors.Wrap(err, "span: reading frame table")
	}
	si.frames = frames
	si.frameOffsets = frameOffsets(si.frameBase, frames)

	var total int64
	for _, f := range frames {
		if f.ContentSize < 0 {
			continue
		}
		total += f.ContentSize
	}
	if si.logicalEnd == 0 {
		si.logicalEnd = si.logicalStart + total
	}
	return nil
}

// frameOffsets computes each frame's archive byte offset from the
// on-disk BLTE header layout readHeader itself produces: magic(4) +
// header-length field(4), then, unless this is the single-implicit-frame
// shortcut (a zero header length with one frame of unknown size), a
// flags+count word(4) and a 24-byte table entry per frame.
func frameOffsets(base int64, frames []blte.Frame) []int64 {
	headerSize := int64(8)
	if !(len(frames) == 1 && frames[0].EncodedSize < 0) {
		headerSize = 8 + 4 + 24*int64(len(frames))
	}

	offsets := make([]int64, len(frames))
	pos := base + headerSize
	for i, f := range frames {
		offsets[i] = pos
		if f.EncodedSize > 0 {
			pos += f.EncodedSize
		}
	}
	return offsets
}

// Size returns the logical content length, parsing every span's frame
// table if it hasn't already been determined from ContentSize.
func (r *Reader) Size() (int64, error) {
	if r.size > 0 {
		return r.size, nil
	}
	for _, si := range r.spans {
		if err := r.ensureFrames(si); err != nil {
			return 0, err
		}
	}
	r.size = r.spans[len(r.spans)-1].logicalEnd
	return r.size, nil
}

// spanFor returns the span covering logical offset off.
func (r *Reader) spanFor(off int64) (*spanInfo, error) {
	for _, si := range r.spans {
		if err := r.ensureFrames(si); err != nil {
			return nil, err
		}
		if off >= si.logicalStart && off < si.logicalEnd {
			return si, nil
		}
	}
	return nil, io.EOF
}

// frameFor finds the index of the frame within si covering logical
// offset off, O(log n) via binary search on frame end-offsets.
func frameFor(si *spanInfo, off int64) (int, bool) {
	rel := off - si.logicalStart
	n := len(si.frames)
	i := sort.Search(n, func(i int) bool {
		return si.frames[i].LogicalEnd > rel
	})
	if i == n {
		return 0, false
	}
	return i, true
}

// decodedFrame returns si's frame idx's decoded bytes, from the frame
// cache if present. On a miss it reads and decodes exactly that one
// frame from its own computed archive offset: BLTE frames are encoded
// independently of one another, so unlike a plain sequential blte.Reader
// there is no need to stream (and so re-decode) every earlier frame in
// the span just to reach this one.
func (r *Reader) decodedFrame(si *spanInfo, idx int) ([]byte, error) {
	key := frameKey{si, idx}
	if data, ok := r.frameCache[key]; ok {
		return data, nil
	}

	f := si.frames[idx]
	ra, err := r.opener.OpenArchive(si.entry.Archive())
	if err != nil {
		return nil, errors.Wrap(err, "span: opening archive")
	}

	size := f.EncodedSize
	if size < 0 {
		size = si.entry.EncodedSize - (si.frameOffsets[idx] - si.frameBase)
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(ra, si.frameOffsets[idx], size), raw); err != nil {
		return nil, errors.Wrap(err, "span: reading frame")
	}

	data, err := blte.DecodeFrame(raw, f, r.opts.BLTE)
	if err != nil {
		return nil, errors.Wrap(err, "span: decoding frame")
	}

	if r.opts.Strategy == LastFrame {
		r.frameCache = nil
	}
	if r.frameCache == nil {
		r.frameCache = make(map[frameKey][]byte)
	}
	r.frameCache[key] = data
	return data, nil
}

// ReadAt implements io.ReaderAt over the logical content.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	size, err := r.Size()
	if err != nil {
		return 0, err
	}
	if off >= size {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) {
		cur := off + int64(total)
		if cur >= size {
			break
		}

		si, err := r.spanFor(cur)
		if err != nil {
			break
		}
		idx, ok := frameFor(si, cur)
		if !ok {
			break
		}
		data, err := r.decodedFrame(si, idx)
		if err != nil {
			return total, err
		}

		frameLogicalStart := si.logicalStart + si.frames[idx].LogicalStart
		relOff := cur - frameLogicalStart
		if relOff < 0 || relOff >= int64(len(data)) {
			break
		}
		n := copy(p[total:], data[relOff:])
		total += n
		if n == 0 {
			break
		}
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Read implements io.Reader, advancing an internal cursor.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

// Close releases the Reader's cache. Archive handles are owned by the
// ArchiveOpener, not the Reader.
func (r *Reader) Close() error {
	r.frameCache = nil
	return nil
}
