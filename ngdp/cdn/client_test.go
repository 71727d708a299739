package cdn

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/tpr/wow/config/") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte("build-name = WOW-1\n"))
	}))
	defer srv.Close()

	c := New([]string{srv.Listener.Addr().String()}, "tpr/wow")
	var hash [16]byte
	hash[0] = 0xab

	rc, err := c.FetchConfig(context.Background(), hash)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "build-name = WOW-1\n" {
		t.Errorf("body = %q", body)
	}
}

func TestFetchDataRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "bytes=10-19" {
			t.Errorf("Range = %q, want bytes=10-19", got)
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := New([]string{srv.Listener.Addr().String()}, "tpr/wow")
	var hash [16]byte

	rc, err := c.FetchDataRange(context.Background(), hash, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "0123456789" {
		t.Errorf("body = %q", body)
	}
}

func TestFetchConfigNoHosts(t *testing.T) {
	c := New(nil, "tpr/wow")
	if _, err := c.FetchConfig(context.Background(), [16]byte{}); err != ErrNoHosts {
		t.Errorf("err = %v, want ErrNoHosts", err)
	}
}
