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

// Command casc-serve exposes one or more local CASC installs over HTTP
// for introspection: a JSON directory listing and a raw file fetch,
// keyed by an arbitrary storage id.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"sort"
	"strings"

	"github.com/NYTimes/gziphandler"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/lukegb/casc"
)

var (
	listen = flag.String("listen", ":8080", "HTTP listen address")
)

// storageFlag accumulates repeated -storage id=path flags.
type storageFlag struct {
	ds *datastore
}

func (f storageFlag) String() string { return "" }

func (f storageFlag) Set(v string) error {
	id, path, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("casc-serve: -storage value %q must be id=path", v)
	}
	f.ds.Track(id, path)
	return nil
}

var ds *datastore

type storageInfo struct {
	ID        string `json:"id"`
	Product   string `json:"product"`
	BuildName string `json:"build_name"`
	FileCount int    `json:"file_count"`
}

func infoFor(id string, s *casc.Storage) storageInfo {
	si := storageInfo{ID: id}
	if v, err := s.Info(casc.InfoProduct); err == nil {
		si.Product, _ = v.(string)
	}
	if v, err := s.Info(casc.InfoBuildName); err == nil {
		si.BuildName, _ = v.(string)
	}
	if v, err := s.Info(casc.InfoLocalFileCount); err == nil {
		si.FileCount, _ = v.(int)
	}
	return si
}

func storagesHandler(w http.ResponseWriter, r *http.Request) {
	ids := ds.IDs()
	sort.Strings(ids)

	out := make([]storageInfo, 0, len(ids))
	for _, id := range ids {
		s, err := ds.Storage(id)
		if err != nil {
			continue
		}
		out = append(out, infoFor(id, s))
	}

	writeJSON(w, out)
}

// fileDirectory mirrors the teacher's FileDirectory shape, rebuilt here
// from casc.Storage.Find's flat glob results rather than a handler's own
// tree type, since root.Handler only exposes a flat iterator.
type fileDirectory struct {
	Directories map[string]*fileDirectory `json:"directories,omitempty"`
	Files       []string                  `json:"files,omitempty"`
}

func buildDirectory(s *casc.Storage, prefix string, recurse bool) *fileDirectory {
	fd := &fileDirectory{Directories: make(map[string]*fileDirectory)}

	mask := prefix + "*"
	it := s.Find(mask)
	seen := make(map[string]bool)
	for it.Next() {
		name := it.Entry().Name
		if name == "" || !strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
			continue
		}
		rest := name[len(prefix):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			dirName := rest[:idx]
			if seen[dirName] {
				continue
			}
			seen[dirName] = true
			if !recurse {
				fd.Directories[dirName] = &fileDirectory{}
				continue
			}
			fd.Directories[dirName] = buildDirectory(s, prefix+dirName+"/", recurse)
		} else if rest != "" {
			fd.Files = append(fd.Files, rest)
		}
	}
	return fd
}

func filesHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	fp := vars["filePath"]

	s, err := ds.Storage(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	glog.Infof("%s: request file %q", id, fp)

	if fp != "" {
		h, err := s.OpenFile(casc.ByName(fp), 0)
		if err == nil {
			defer h.Close()
			contentSize, _ := h.Size()
			w.Header().Set("Content-Length", fmt.Sprintf("%d", contentSize))
			io.Copy(w, &fileHandleReader{h: h})
			return
		}
		if !errors.Is(err, casc.ErrFileNotFound) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fp += "/"
	}

	recurse := r.FormValue("recurse") == "true"
	writeJSON(w, buildDirectory(s, fp, recurse))
}

// fileHandleReader adapts casc.FileHandle.Read's ErrHandleEOF-on-empty-read
// convention to the plain io.Reader io.Copy expects.
type fileHandleReader struct {
	h *casc.FileHandle
}

func (r *fileHandleReader) Read(p []byte) (int, error) {
	n, err := r.h.Read(p)
	if errors.Is(err, casc.ErrHandleEOF) {
		return n, io.EOF
	}
	return n, err
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	ds = newDatastore()
	flag.Var(storageFlag{ds}, "storage", "storage to serve, as id=path; may be repeated")
	flag.Parse()

	if len(ds.IDs()) == 0 {
		glog.Exit("casc-serve: no -storage flags given")
	}

	glog.Info("casc-serve: opening tracked storages...")
	ds.Update()

	rtr := mux.NewRouter()
	r := rtr.Methods("GET").Subrouter()
	r.HandleFunc("/storages", storagesHandler)
	r.Handle("/storages/{id}/files", gziphandler.GzipHandler(http.HandlerFunc(filesHandler)))
	r.Handle("/storages/{id}/files/{filePath:.+}", gziphandler.GzipHandler(http.HandlerFunc(filesHandler)))

	glog.Infof("casc-serve: listening on %q", *listen)
	glog.Exit(http.ListenAndServe(*listen, rtr))
}
