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

// Package blte decodes the BLTE frame container: a header describing one
// or more frames, each independently compressed, recursively
// BLTE-wrapped, or encrypted, and (when Options.StrictDataCheck is set)
// MD5-verified against the header's per-frame checksum.
package blte

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"encoding/binary"
	"io"

	"github.com/lukegb/casc/internal/xcipher"
	"github.com/pkg/errors"
)

var (
	// ErrBadMagic is returned when a blob doesn't start with "BLTE".
	ErrBadMagic = errors.New("blte: header had bad magic")

	// ErrChecksumMismatch is returned when StrictDataCheck is set and a
	// frame's computed MD5 doesn't match the header's recorded value.
	ErrChecksumMismatch = errors.New("blte: checksum mismatch")

	// ErrUnsupportedMode is returned for a frame mode byte other than
	// 'N', 'Z', 'F', or 'E'.
	ErrUnsupportedMode = errors.New("blte: unsupported frame mode")

	// ErrHeaderLengthMismatch is returned when the frame table doesn't
	// exactly fill the declared header size.
	ErrHeaderLengthMismatch = errors.New("blte: header length mismatch")
)

// A Frame describes one entry of the frame table: its encoded and
// decoded sizes, checksum, and (once known) its logical byte range
// within the fully decoded content, so span.Reader can binary-search
// frames by logical offset.
type Frame struct {
	EncodedSize int64
	ContentSize int64
	Checksum    [md5.Size]byte

	// LogicalStart/LogicalEnd are the half-open [start, end) byte range
	// this frame's decoded content occupies within the overall decoded
	// stream.
	LogicalStart int64
	LogicalEnd   int64
}

// Options controls frame decoding policy.
type Options struct {
	// StrictDataCheck enables per-frame MD5 verification against the
	// frame table's recorded checksum. Off by default to match callers
	// that only want best-effort reads of possibly-partial archives.
	StrictDataCheck bool

	// OvercomeEncrypted causes frames whose decryption key is missing
	// from KeyRing to decode as a run of zero bytes the frame's declared
	// content size long, instead of failing the read outright.
	OvercomeEncrypted bool

	// KeyRing resolves encryption key names for 'E' frames. Required if
	// any frame may be encrypted.
	KeyRing *xcipher.KeyRing
}

// Reader decodes a BLTE-framed stream into its plain content, advancing
// frame by frame as Read is called.
type Reader struct {
	r    io.Reader
	opts Options

	seenHeader bool
	frames     []Frame

	currentFrame int
	logicalPos   int64
	pending      []byte
}

// NewReader returns a Reader over r using the given Options.
func NewReader(r io.Reader, opts Options) *Reader {
	return &Reader{r: r, opts: opts}
}

// Frames returns the frame table, valid once the header has been read
// (the first call to Read, or an explicit call to Frames itself).
func (r *Reader) Frames() ([]Frame, error) {
	if err := r.readHeader(); err != nil {
		return nil, err
	}
	return r.frames, nil
}

func (r *Reader) Read(b []byte) (int, error) {
	if err := r.readHeader(); err != nil {
		return 0, err
	}

	if len(r.pending) == 0 {
		if r.currentFrame >= len(r.frames) {
			return 0, io.EOF
		}
		data, err := r.decodeFrame(r.currentFrame)
		if err != nil {
			return 0, err
		}
		r.pending = data
		r.currentFrame++
	}

	n := copy(b, r.pending)
	r.pending = r.pending[n:]
	r.logicalPos += int64(n)
	return n, nil
}

func (r *Reader) readHeader() error {
	if r.seenHeader {
		return nil
	}
	r.seenHeader = true

	magic, err := readBytes(r.r, 4)
	if err != nil {
		return err
	}
	if string(magic) != "BLTE" {
		return ErrBadMagic
	}

	hdrLenBuf, err := readBytes(r.r, 4)
	if err != nil {
		return err
	}
	hdrLen := binary.BigEndian.Uint32(hdrLenBuf)
	if hdrLen == 0 {
		// single implicit frame; content size is unknown up front.
		r.frames = []Frame{{EncodedSize: -1, ContentSize: -1}}
		return nil
	}

	// hdrLen counts the whole header from the start of the blob, including
	// the 4-byte magic and the 4-byte hdrLen field itself, both already
	// consumed above.
	remaining := int64(hdrLen) - 8

	fcBuf, err := readBytes(r.r, 4)
	if err != nil {
		return err
	}
	remaining -= 4
	// fcBuf[0] is a flags byte; the remaining 3 bytes are a 24-bit
	// big-endian frame count.
	count := binary.BigEndian.Uint32([]byte{0, fcBuf[1], fcBuf[2], fcBuf[3]})

	frames := make([]Frame, count)
	var logical int64
	for i := uint32(0); i < count; i++ {
		entry, err := readBytes(r.r, 24)
		if err != nil {
			return err
		}
		remaining -= 24

		f := Frame{
			EncodedSize: int64(binary.BigEndian.Uint32(entry[0:4])),
			ContentSize: int64(binary.BigEndian.Uint32(entry[4:8])),
		}
		copy(f.Checksum[:], entry[8:24])
		f.LogicalStart = logical
		f.LogicalEnd = logical + f.ContentSize
		logical = f.LogicalEnd

		frames[i] = f
	}
	r.frames = frames

	if remaining != 0 {
		return errors.Wrapf(ErrHeaderLengthMismatch, "%d bytes left over", remaining)
	}
	return nil
}

// decodeFrame reads frame i's encoded bytes from the underlying stream
// (frames must be consumed in order on a plain io.Reader; there is no
// seeking on the raw reader) and decodes them via DecodeFrame.
func (r *Reader) decodeFrame(i int) ([]byte, error) {
	f := r.frames[i]

	var raw []byte
	var err error
	if f.EncodedSize >= 0 {
		raw = make([]byte, f.EncodedSize)
		_, err = io.ReadFull(r.r, raw)
	} else {
		raw, err = io.ReadAll(r.r)
	}
	if err != nil {
		return nil, err
	}

	data, err := DecodeFrame(raw, f, r.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "frame %d", i)
	}
	return data, nil
}

// DecodeFrame decodes one frame's already-read raw encoded bytes into
// its plain content, verifying the checksum (when StrictDataCheck is
// set and the frame table recorded a real size for it) and dispatching
// on its mode byte exactly as streaming decode does. Since every BLTE
// frame is encoded independently, a caller that already knows a frame's
// exact archive offset (span.Reader's random-access cache, in
// particular) can decode it directly instead of re-decoding every frame
// before it in the stream.
func DecodeFrame(raw []byte, f Frame, opts Options) ([]byte, error) {
	if opts.StrictDataCheck && f.EncodedSize >= 0 {
		sum := md5.Sum(raw)
		if !bytes.Equal(sum[:], f.Checksum[:]) {
			return nil, errors.Wrapf(ErrChecksumMismatch, "got %x want %x", sum, f.Checksum)
		}
	}
	r := &Reader{opts: opts}
	return r.decodeFrameBytes(raw, f)
}

// decodeFrameBytes dispatches on the frame's mode byte, recursing for
// 'F' (nested BLTE) and 'E' (encrypted, itself mode-dispatched again
// after decryption).
func (r *Reader) decodeFrameBytes(raw []byte, f Frame) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	mode := raw[0]
	body := raw[1:]

	switch mode {
	case 'N':
		return body, nil

	case 'Z':
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "blte: zlib")
		}
		defer zr.Close()
		return io.ReadAll(zr)

	case 'F':
		nested := NewReader(bytes.NewReader(body), r.opts)
		return io.ReadAll(nested)

	case 'E':
		return r.decodeEncrypted(body, f)

	default:
		return nil, errors.Wrapf(ErrUnsupportedMode, "%q", mode)
	}
}

func (r *Reader) decodeEncrypted(body []byte, f Frame) ([]byte, error) {
	if len(body) < 1 {
		return nil, io.ErrUnexpectedEOF
	}
	keyNameLen := int(body[0])
	body = body[1:]
	if len(body) < keyNameLen+1 {
		return nil, io.ErrUnexpectedEOF
	}
	keyNameBytes := body[:keyNameLen]
	body = body[keyNameLen:]

	ivLen := int(body[0])
	body = body[1:]
	if len(body) < ivLen+1 {
		return nil, io.ErrUnexpectedEOF
	}
	ivBytes := body[:ivLen]
	body = body[ivLen:]

	cipherType := xcipher.CipherType(body[0])
	ciphertext := body[1:]

	var keyName uint64
	for i := 0; i < keyNameLen && i < 8; i++ {
		keyName |= uint64(keyNameBytes[i]) << (8 * uint(i))
	}
	var iv [8]byte
	copy(iv[:], ivBytes)

	if r.opts.KeyRing == nil {
		return nil, xcipher.ErrKeyMissing
	}
	key, err := r.opts.KeyRing.Get(keyName)
	if err != nil {
		if errors.Is(err, xcipher.ErrKeyMissing) && r.opts.OvercomeEncrypted {
			if f.ContentSize < 0 {
				return nil, err
			}
			return make([]byte, f.ContentSize), nil
		}
		return nil, err
	}

	plain, err := xcipher.Decrypt(cipherType, key, iv, uint64(f.LogicalStart), ciphertext)
	if err != nil {
		return nil, err
	}

	return r.decodeFrameBytes(plain, f)
}

func readBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
