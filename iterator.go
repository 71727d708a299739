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
	"path"
	"strings"

	"github.com/lukegb/casc/keyindex"
	"github.com/lukegb/casc/root"
)

// A FoundFile is one entry Find's Iterator yielded.
type FoundFile struct {
	Name       string
	FileDataID uint32
	Entry      *keyindex.Entry
}

// An Iterator walks the names find_first/find_next enumerates, carrying
// its own position so the caller can hold several in flight
// simultaneously.
type Iterator struct {
	matches []FoundFile
	pos     int
	cur     FoundFile
}

// newIterator eagerly collects every name matching mask, since
// root.Handler.Iterate is a synchronous callback rather than something
// that can be paused and resumed mid-walk.
func newIterator(h root.Handler, mask string) *Iterator {
	it := &Iterator{}
	normMask := strings.ToLower(mask)
	h.Iterate(func(name string, fileDataID uint32, e *keyindex.Entry) bool {
		if name != "" {
			ok, err := path.Match(normMask, strings.ToLower(name))
			if err != nil || !ok {
				return true
			}
		} else if normMask != "*" {
			return true
		}
		it.matches = append(it.matches, FoundFile{Name: name, FileDataID: fileDataID, Entry: e})
		return true
	})
	return it
}

// Next advances the iterator, returning false once exhausted.
func (it *Iterator) Next() bool {
	if it.pos >= len(it.matches) {
		return false
	}
	it.cur = it.matches[it.pos]
	it.pos++
	return true
}

// Entry returns the match Next just positioned on.
func (it *Iterator) Entry() FoundFile {
	return it.cur
}
