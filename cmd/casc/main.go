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

// Command casc is a read-only command-line client for a local CASC
// install: it prints storage metadata, lists files, and extracts file
// contents to stdout or disk.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/lukegb/casc"
	"github.com/lukegb/casc/ngdp"
)

var (
	storagePath = flag.String("storage", "", "path to a local CASC install")
	program     = flag.String("program", "", "product code to select from the install's catalog, e.g. wow")
	locale      = flag.Uint("locale", uint(1<<0), "locale bitmask to request from the root handler")
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s -storage PATH COMMAND [ARGS]

commands:
  info               print storage metadata
  ls MASK            list files matching MASK (a path.Match glob, default "*")
  cat NAME           write a file's content to stdout
  extract NAME DEST  write a file's content to the DEST path

`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *storagePath == "" || flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	opts := []casc.Option{casc.WithLocaleMask(ngdp.Locale(*locale))}
	if *program != "" {
		opts = append(opts, casc.WithProgram(ngdp.ProgramCode(*program)))
	}

	s, err := casc.Open(*storagePath, opts...)
	if err != nil {
		glog.Exitf("opening storage: %v", err)
	}
	defer s.Close()

	args := flag.Args()
	cmd, rest := args[0], args[1:]

	var cmdErr error
	switch cmd {
	case "info":
		cmdErr = runInfo(s)
	case "ls":
		mask := "*"
		if len(rest) > 0 {
			mask = rest[0]
		}
		cmdErr = runLs(s, mask)
	case "cat":
		if len(rest) != 1 {
			usage()
			os.Exit(2)
		}
		cmdErr = runCat(s, rest[0])
	case "extract":
		if len(rest) != 2 {
			usage()
			os.Exit(2)
		}
		cmdErr = runExtract(s, rest[0], rest[1])
	default:
		usage()
		os.Exit(2)
	}
	if cmdErr != nil {
		glog.Exitf("%s: %v", cmd, cmdErr)
	}
}

func runInfo(s *casc.Storage) error {
	fields := []struct {
		name  string
		field casc.InfoField
	}{
		{"product", casc.InfoProduct},
		{"build-name", casc.InfoBuildName},
		{"local-file-count", casc.InfoLocalFileCount},
		{"installed-locales", casc.InfoInstalledLocales},
		{"tags", casc.InfoTags},
	}
	for _, f := range fields {
		v, err := s.Info(f.field)
		if err != nil {
			continue
		}
		fmt.Printf("%s: %v\n", f.name, v)
	}
	return nil
}

func runLs(s *casc.Storage, mask string) error {
	it := s.Find(mask)
	for it.Next() {
		e := it.Entry()
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("#%d", e.FileDataID)
		}
		fmt.Println(name)
	}
	return nil
}

func runCat(s *casc.Storage, name string) error {
	h, err := s.OpenFile(casc.ByName(name), 0)
	if err != nil {
		return err
	}
	defer h.Close()
	return copyHandle(os.Stdout, h)
}

func runExtract(s *casc.Storage, name, dest string) error {
	h, err := s.OpenFile(casc.ByName(name), 0)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	return copyHandle(f, h)
}

func copyHandle(w io.Writer, h *casc.FileHandle) error {
	buf := make([]byte, 256*1024)
	for {
		n, err := h.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, casc.ErrHandleEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
