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

package cdn

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/lukegb/casc/config/configtable"
	"github.com/lukegb/casc/ngdp"
	"github.com/pkg/errors"
)

// patchURL builds a patch.battle.net discovery URL for the given
// program/region/suffix ("cdns" or "versions").
func patchURL(program ngdp.ProgramCode, region ngdp.Region, suffix string) string {
	return fmt.Sprintf("http://%s.patch.battle.net:1119/%s/%s", region, program, suffix)
}

func discoveryGet(ctx context.Context, hc *http.Client, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cdn: building discovery request")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "cdn: performing discovery request")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf(errBadStatusFmt, resp.Status, http.StatusOK)
	}
	return resp.Body, nil
}

// DiscoverCDNs retrieves the list of CDNs serving a program/region,
// the same "|"-delimited configtable grammar the build-info catalog
// uses, read from patch.battle.net instead of local disk.
func DiscoverCDNs(ctx context.Context, hc *http.Client, program ngdp.ProgramCode, region ngdp.Region) ([]ngdp.CDNInfo, error) {
	body, err := discoveryGet(ctx, hc, patchURL(program, region, "cdns"))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	d := configtable.NewDecoder(body)
	var out []ngdp.CDNInfo
	for {
		var c ngdp.CDNInfo
		if err := d.Decode(&c); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "cdn: decoding cdns table")
		}
		out = append(out, c)
	}
	return out, nil
}

// DiscoverVersions retrieves the current build/CDN config hashes for
// every region of a program.
func DiscoverVersions(ctx context.Context, hc *http.Client, program ngdp.ProgramCode, region ngdp.Region) ([]ngdp.VersionInfo, error) {
	body, err := discoveryGet(ctx, hc, patchURL(program, region, "versions"))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	d := configtable.NewDecoder(body)
	var out []ngdp.VersionInfo
	for {
		var v ngdp.VersionInfo
		if err := d.Decode(&v); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "cdn: decoding versions table")
		}
		out = append(out, v)
	}
	return out, nil
}

// ForRegion finds cdn's entry for region.
func ForRegion(cdns []ngdp.CDNInfo, region ngdp.Region) (ngdp.CDNInfo, bool) {
	for _, c := range cdns {
		if c.Name == region {
			return c, true
		}
	}
	return ngdp.CDNInfo{}, false
}

// VersionForRegion finds versions' entry for region.
func VersionForRegion(versions []ngdp.VersionInfo, region ngdp.Region) (ngdp.VersionInfo, bool) {
	for _, v := range versions {
		if v.Region == region {
			return v, true
		}
	}
	return ngdp.VersionInfo{}, false
}
