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

package casc

import (
	"io"
	"sync/atomic"

	"github.com/lukegb/casc/keyindex"
	"github.com/lukegb/casc/span"
)

// A FileHandle is a random-access view over one entry's decoded content.
// Per spec.md §5, a FileHandle is not safe for concurrent use: the
// underlying span.Reader's cache and cursor are mutable state a caller
// must serialize itself.
type FileHandle struct {
	storage *Storage
	entry   *keyindex.Entry
	r       *span.Reader

	closed int32
}

// ReadAt reads from the file's full decoded content at off. A read that
// runs past the end returns the bytes available with a nil error; a read
// starting at or past the end returns ErrHandleEOF rather than io.EOF.
func (h *FileHandle) ReadAt(buf []byte, off int64) (int, error) {
	if atomic.LoadInt32(&h.closed) != 0 {
		return 0, ErrInvalidHandle
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := h.r.ReadAt(buf, off)
	if err == io.EOF && n > 0 {
		err = nil
	} else if err == io.EOF {
		err = ErrHandleEOF
	}
	return n, err
}

// Read reads at an internal cursor and advances it. Once the cursor is
// at the end, Read returns 0 and ErrHandleEOF rather than io.EOF.
func (h *FileHandle) Read(buf []byte) (int, error) {
	if atomic.LoadInt32(&h.closed) != 0 {
		return 0, ErrInvalidHandle
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := h.r.Read(buf)
	if err == io.EOF && n == 0 {
		err = ErrHandleEOF
	} else if err == io.EOF {
		err = nil
	}
	return n, err
}

// Size returns the file's decoded (content) size and its BLTE-encoded
// (on-disk) size.
func (h *FileHandle) Size() (content, encoded int64) {
	size, _ := h.r.Size()
	return size, h.entry.EncodedSize
}

// Close releases h and its share of the owning Storage's reference
// count.
func (h *FileHandle) Close() error {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return nil
	}
	h.r.Close()
	return h.storage.release()
}
