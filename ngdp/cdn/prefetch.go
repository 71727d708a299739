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
	"io"

	"golang.org/x/sync/errgroup"
)

const concurrentIndexFetches = 20

// WarmIndices fetches every archive's .index listing concurrently,
// handing each to onIndex as it completes, and returns the first error
// encountered (cancelling the rest). It exists so callers with many
// archives (a typical retail build has hundreds) aren't stuck fetching
// indices one at a time the way a single casc.Fetcher call would.
func (c *Client) WarmIndices(ctx context.Context, hashes [][16]byte, onIndex func(hash [16]byte, body io.ReadCloser) error) error {
	workerCount := concurrentIndexFetches
	if workerCount > len(hashes) {
		workerCount = len(hashes)
	}
	if workerCount == 0 {
		return nil
	}

	workChan := make(chan [16]byte)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(workChan)
		for _, h := range hashes {
			select {
			case workChan <- h:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for n := 0; n < workerCount; n++ {
		g.Go(func() error {
			for hash := range workChan {
				body, err := c.FetchIndex(ctx, hash)
				if err != nil {
					return err
				}
				if err := onIndex(hash, body); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}
