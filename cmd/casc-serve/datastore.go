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

package main

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/lukegb/casc"
	"github.com/pkg/errors"
)

// ErrUnknownStorage is returned by datastore.Storage for an id that was
// never Tracked.
var ErrUnknownStorage = errors.New("casc-serve: unknown storage id")

// A datastore owns a set of opened Storages, keyed by the id under which
// they're exposed over HTTP. It mirrors the teacher's region/program
// tracking datastore, but tracks local install directories instead of
// remote CDN builds.
type datastore struct {
	mu      sync.RWMutex
	paths   map[string]string
	opts    map[string][]casc.Option
	storage map[string]*casc.Storage
}

func newDatastore() *datastore {
	return &datastore{
		paths:   make(map[string]string),
		opts:    make(map[string][]casc.Option),
		storage: make(map[string]*casc.Storage),
	}
}

// Track registers a local CASC install to be opened under id on the next
// Update.
func (d *datastore) Track(id, path string, opts ...casc.Option) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths[id] = path
	d.opts[id] = opts
}

// IDs returns every tracked storage id, in no particular order.
func (d *datastore) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.paths))
	for id := range d.paths {
		out = append(out, id)
	}
	return out
}

// Update (re)opens every tracked storage that isn't already open. It
// doesn't refresh already-open storages: a local install doesn't change
// build under us the way a tracked remote build does.
func (d *datastore) Update() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, path := range d.paths {
		if _, ok := d.storage[id]; ok {
			continue
		}
		s, err := casc.Open(path, d.opts[id]...)
		if err != nil {
			glog.Errorf("casc-serve: opening storage %q at %q: %v", id, path, err)
			continue
		}
		d.storage[id] = s
	}
}

// Storage returns the opened Storage for id.
func (d *datastore) Storage(id string) (*casc.Storage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.storage[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownStorage, fmt.Sprintf("id %q", id))
	}
	return s, nil
}
