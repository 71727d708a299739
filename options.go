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

import "github.com/lukegb/casc/ngdp"

// An OpenFlags bit controls per-read behavior. StrictDataCheck and
// OvercomeEncrypted remain bit flags (rather than folded into FileRef)
// because they're independent toggles orthogonal to how the file is
// named.
type OpenFlags uint32

const (
	// StrictDataCheck verifies every frame's MD5 on read; a mismatch is
	// fatal.
	StrictDataCheck OpenFlags = 1 << iota

	// OvercomeEncrypted zero-fills frames whose decryption key is
	// unknown instead of failing the read.
	OvercomeEncrypted
)

// StorageFeatures reports which capabilities a mounted Storage has,
// mirroring CascOpenFile.cpp's hs->dwFeatures bitmask. Only the bits this
// implementation can answer honestly are defined; the rest of the
// original's CASC_FEATURE_* space (file-data-id presence, name hashes,
// locale/content flag support) isn't surfaced here — see SPEC_FULL.md's
// get_storage_info notes.
type StorageFeatures uint32

const (
	// FeatureOnline is set when the Storage was mounted via OpenOnline
	// (archives and config fetched through a Fetcher) rather than Open
	// (a local on-disk install).
	FeatureOnline StorageFeatures = 1 << iota
)

// An InfoField selects one piece of storage metadata for Info.
type InfoField int

const (
	InfoLocalFileCount InfoField = iota
	InfoFeatures
	InfoProduct
	InfoBuildName
	InfoBuildNumber
	InfoInstalledLocales
	InfoTags
)

// storageOptions collects the functional Options below.
type storageOptions struct {
	localeMask      ngdp.Locale
	overrideArchive bool
	audioLocale     bool
	program         ngdp.ProgramCode

	cloneStreams    bool
	strictDataCheck bool

	coreToc      []byte
	companionAPM []byte
}

func defaultStorageOptions() storageOptions {
	return storageOptions{
		localeMask: ngdp.LocaleEnUS,
	}
}

// An Option configures Open/OpenOnline.
type Option func(*storageOptions)

// WithLocaleMask restricts WoW6 root parsing to the given locale mask.
func WithLocaleMask(mask ngdp.Locale) Option {
	return func(o *storageOptions) { o.localeMask = mask }
}

// WithOverrideArchive keeps WoW6 blocks flagged "archive" (0x80) instead
// of skipping them.
func WithOverrideArchive(v bool) Option {
	return func(o *storageOptions) { o.overrideArchive = v }
}

// WithAudioLocale selects the audio-locale-flagged WoW6 blocks instead of
// the text-locale ones.
func WithAudioLocale(v bool) Option {
	return func(o *storageOptions) { o.audioLocale = v }
}

// WithProgram tells Open which root-file variant to expect; Decorate uses
// it to pick the matching parser.
func WithProgram(p ngdp.ProgramCode) Option {
	return func(o *storageOptions) { o.program = p }
}

// WithCloneStreams opens one archive file descriptor per span per handle
// instead of sharing a single descriptor read through ReadAt.
func WithCloneStreams(v bool) Option {
	return func(o *storageOptions) { o.cloneStreams = v }
}

// WithStrictDataCheck verifies every BLTE frame's MD5 for every read
// through this storage, not just reads explicitly opened with
// StrictDataCheck.
func WithStrictDataCheck(v bool) Option {
	return func(o *storageOptions) { o.strictDataCheck = v }
}

// WithCoreToc supplies a Diablo III CoreToc.dat for (type,id)->path
// resolution.
func WithCoreToc(b []byte) Option {
	return func(o *storageOptions) { o.coreToc = b }
}

// WithCompanionAPM supplies an Overwatch APM package table alongside the
// CMF content manifest.
func WithCompanionAPM(b []byte) Option {
	return func(o *storageOptions) { o.companionAPM = b }
}
