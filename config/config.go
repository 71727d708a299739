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

// Package config loads a build's description: the product catalog
// (".build.info"/".agent.db") naming which build is active, and the two
// text files it points at ("build config" and "CDN config") describing
// where the root/encoding/install/download files and archives live.
package config

import (
	"io"

	"github.com/lukegb/casc/config/configtable"
	"github.com/lukegb/casc/config/keyvalue"
	"github.com/pkg/errors"
)

// A BuildInfoEntry is one row of a ".build.info"/".agent.db" catalog: one
// product installed under a given install root, naming the build and CDN
// configs currently active for it.
type BuildInfoEntry struct {
	Branch        string   `configtable:"Branch"`
	Active        int      `configtable:"Active"`
	BuildKey      [16]byte `configtable:"Build Key"`
	CDNKey        [16]byte `configtable:"CDN Key"`
	InstallKey    [16]byte `configtable:"Install Key"`
	IMSize        uint64   `configtable:"IM Size"`
	CDNPath       string   `configtable:"CDN Path"`
	CDNHosts      []string `configtable:"CDN Hosts, "`
	CDNServers    []string `configtable:"CDN Servers, "`
	Tags          string   `configtable:"Tags"`
	Armadillo     string   `configtable:"Armadillo"`
	LastActivated string   `configtable:"Last Activated"`
	Version       string   `configtable:"Version"`
	KeyRing       [16]byte `configtable:"KeyRing"`
	Product       string   `configtable:"Product"`
}

// ParseCatalog reads every row of a ".build.info"/".agent.db" catalog.
func ParseCatalog(r io.Reader) ([]BuildInfoEntry, error) {
	d := configtable.NewDecoder(r)
	var out []BuildInfoEntry
	for {
		var e BuildInfoEntry
		if err := d.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "config: decoding catalog row")
		}
		out = append(out, e)
	}
	return out, nil
}

// ActiveEntry returns the catalog row for product, preferring the row
// marked Active, falling back to the first match if none is.
func ActiveEntry(rows []BuildInfoEntry, product string) (BuildInfoEntry, bool) {
	var fallback BuildInfoEntry
	haveFallback := false
	for _, e := range rows {
		if e.Product != product {
			continue
		}
		if e.Active != 0 {
			return e, true
		}
		if !haveFallback {
			fallback = e
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

// EncodingKeys holds the content and encoded hash pair the "encoding"
// build config key carries: the encoding file's own CKey, followed by
// its EKey (both full-width MD5s at this layer; callers
// truncate to keyindex.EKeySize when indexing).
type EncodingKeys struct {
	ContentKey [16]byte
	EncodedKey [16]byte
}

// EncodingSizes holds the uncompressed/compressed size pair the
// "encoding-size" build config key carries.
type EncodingSizes struct {
	ContentSize  uint64
	EncodedSize  uint64
}

// BuildConfig is the strongly-typed form of a build config text file:
// "key = value value ..." records naming the root, install, download and
// encoding files plus the currently available patch.
type BuildConfig struct {
	BuildName string `keyvalue:"build-name"`

	Root [16]byte `keyvalue:"root"`

	Install     [16]byte `keyvalue:"install"`
	InstallSize uint64   `keyvalue:"install-size"`

	Download     [16]byte `keyvalue:"download"`
	DownloadSize uint64   `keyvalue:"download-size"`

	Encoding     EncodingKeys  `keyvalue:"encoding"`
	EncodingSize EncodingSizes `keyvalue:"encoding-size"`

	Patch       [16]byte `keyvalue:"patch"`
	PatchSize   uint64   `keyvalue:"patch-size"`
	PatchConfig [16]byte `keyvalue:"patch-config"`

	VFSRoot [16]byte `keyvalue:"vfs-root"`
}

// CDNConfig is the strongly-typed form of a CDN config text file: the
// archive list a storage's .idx files are scanned against, plus the
// optional patch archive list.
type CDNConfig struct {
	Archives     [][16]byte `keyvalue:"archives"`
	ArchiveGroup [16]byte   `keyvalue:"archive-group"`

	PatchArchives     [][16]byte `keyvalue:"patch-archives"`
	PatchArchiveGroup [16]byte   `keyvalue:"patch-archive-group"`
}

// ParseBuildConfig decodes a build config text file.
func ParseBuildConfig(r io.Reader) (*BuildConfig, error) {
	var bc BuildConfig
	if err := keyvalue.Decode(r, &bc); err != nil {
		return nil, errors.Wrap(err, "config: decoding build config")
	}
	return &bc, nil
}

// ParseCDNConfig decodes a CDN config text file.
func ParseCDNConfig(r io.Reader) (*CDNConfig, error) {
	var cc CDNConfig
	if err := keyvalue.Decode(r, &cc); err != nil {
		return nil, errors.Wrap(err, "config: decoding cdn config")
	}
	return &cc, nil
}
