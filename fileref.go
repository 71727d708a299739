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

import "github.com/lukegb/casc/keyindex"

// refKind discriminates FileRef's closed set of forms. FileRef replaces
// the OpenByName/OpenByCKey/OpenByEKey/OpenByFileId open-flag bits: Go's
// type system expresses "exactly one of these" more directly than a
// bitmask of mutually-exclusive flags.
type refKind int

const (
	refByName refKind = iota
	refByID
	refByCKey
	refByEKey
)

// A FileRef names the file to open, by exactly one of name, file-data-id,
// CKey, or EKey.
type FileRef struct {
	kind refKind

	name string
	id   uint32
	ckey keyindex.CKey
	ekey keyindex.EKey
}

// ByName resolves through the storage's root handler.
func ByName(name string) FileRef { return FileRef{kind: refByName, name: name} }

// ByID resolves via numeric file-data-id, through the root handler.
func ByID(fileDataID uint32) FileRef { return FileRef{kind: refByID, id: fileDataID} }

// ByCKey resolves through the content-key map directly, bypassing the
// root handler.
func ByCKey(ckey keyindex.CKey) FileRef { return FileRef{kind: refByCKey, ckey: ckey} }

// ByEKey resolves through the encoded-key map directly, bypassing both
// the root handler and the CKey map.
func ByEKey(ekey keyindex.EKey) FileRef { return FileRef{kind: refByEKey, ekey: ekey} }
