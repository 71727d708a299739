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
	"context"
	"io"
)

// A Fetcher is the external collaborator OpenOnline uses to pull config,
// index and archive bytes from a CDN instead of local disk. ngdp/cdn.Client
// is the concrete, network-backed implementation; tests can supply any
// other Fetcher.
type Fetcher interface {
	// FetchConfig retrieves a "config"-type CDN object (build config, CDN
	// config, key ring, patch config) by its CDN hash.
	FetchConfig(ctx context.Context, hash [16]byte) (io.ReadCloser, error)

	// FetchData retrieves a whole "data"-type CDN object (an encoding
	// file, an unarchived loose file) by its CDN hash.
	FetchData(ctx context.Context, hash [16]byte) (io.ReadCloser, error)

	// FetchDataRange retrieves a byte range of a "data"-type CDN object,
	// used to pull individual spans out of an archive without
	// downloading the whole thing.
	FetchDataRange(ctx context.Context, hash [16]byte, offset, length int64) (io.ReadCloser, error)

	// FetchIndex retrieves one archive's .index listing by CDN hash.
	FetchIndex(ctx context.Context, hash [16]byte) (io.ReadCloser, error)
}
