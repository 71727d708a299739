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

// Package cdn fetches CASC config/data/index objects from a Blizzard CDN
// host over HTTP, implementing the casc.Fetcher interface that backs
// casc.OpenOnline.
package cdn

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// contentType names the CDN's storage bucket for a given kind of object,
// mirroring ngdp.ContentType.
type contentType string

const (
	contentTypeConfig contentType = "config"
	contentTypeData   contentType = "data"
)

var (
	// ErrNoHosts is returned when a Client has no CDN hosts configured.
	ErrNoHosts = errors.New("cdn: no hosts configured")

	errBadStatusFmt = "cdn: server status was %q; wanted %d"
)

// A Client fetches CASC objects from one CDN, identified by a set of
// candidate hosts (the first is tried; ngdp/client's teacher code picked
// Hosts[0] unconditionally, which this keeps) and the path prefix the
// patch server's "cdns" response names.
type Client struct {
	Hosts      []string
	Path       string
	HTTPClient *http.Client
}

// New returns a Client for the given hosts/path, e.g. from an
// ngdp.CDNInfo looked up via the patch.battle.net discovery endpoints.
func New(hosts []string, path string) *Client {
	return &Client{Hosts: hosts, Path: path}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) url(ct contentType, hash [16]byte, suffix string) (string, error) {
	if len(c.Hosts) == 0 {
		return "", ErrNoHosts
	}
	return fmt.Sprintf("http://%s/%s/%s/%02x/%02x/%032x%s", c.Hosts[0], c.Path, ct, hash[0], hash[1], hash, suffix), nil
}

func (c *Client) get(ctx context.Context, ct contentType, hash [16]byte, suffix string, rang *httpRange) (*http.Response, error) {
	u, err := c.url(ct, hash, suffix)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cdn: building request")
	}
	if rang != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rang.offset, rang.offset+rang.length-1))
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "cdn: performing request")
	}

	wantStatus := http.StatusOK
	if rang != nil {
		wantStatus = http.StatusPartialContent
	}
	if resp.StatusCode != wantStatus {
		resp.Body.Close()
		return nil, errors.Errorf(errBadStatusFmt, resp.Status, wantStatus)
	}
	return resp, nil
}

type httpRange struct {
	offset, length int64
}

// FetchConfig retrieves a config-bucket object (build config, CDN
// config, key ring, patch config) by CDN hash.
func (c *Client) FetchConfig(ctx context.Context, hash [16]byte) (io.ReadCloser, error) {
	resp, err := c.get(ctx, contentTypeConfig, hash, "", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchData retrieves a whole data-bucket object (an encoding file, a
// loose unarchived file) by CDN hash.
func (c *Client) FetchData(ctx context.Context, hash [16]byte) (io.ReadCloser, error) {
	resp, err := c.get(ctx, contentTypeData, hash, "", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchDataRange retrieves a byte range of a data-bucket object, used to
// pull a single span out of an archive without downloading the whole
// thing.
func (c *Client) FetchDataRange(ctx context.Context, hash [16]byte, offset, length int64) (io.ReadCloser, error) {
	resp, err := c.get(ctx, contentTypeData, hash, "", &httpRange{offset, length})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchIndex retrieves one archive's ".index" listing by CDN hash.
func (c *Client) FetchIndex(ctx context.Context, hash [16]byte) (io.ReadCloser, error) {
	resp, err := c.get(ctx, contentTypeData, hash, ".index", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
