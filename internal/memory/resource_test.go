package memory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResourceLoader_LocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("remember the milk"), 0o600); err != nil {
		t.Fatal(err)
	}

	l := newResourceLoader(nil)
	got, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != "remember the milk" {
		t.Errorf("Load() = %q", got)
	}

	got, err = l.Load(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Load(file://) error: %v", err)
	}
	if got != "remember the milk" {
		t.Errorf("Load(file://) = %q", got)
	}
}

func TestResourceLoader_MissingFile(t *testing.T) {
	l := newResourceLoader(nil)
	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist, got: %v", err)
	}
}

func TestResourceLoader_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.txt")
	if err := os.WriteFile(path, []byte("  \n\t"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := newResourceLoader(nil).Load(context.Background(), path)
	if !errors.Is(err, ErrEmptyResource) {
		t.Fatalf("expected ErrEmptyResource, got %v", err)
	}
}

func TestResourceLoader_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("fetched body"))
	}))
	defer srv.Close()

	l := newResourceLoader(srv.Client())
	got, err := l.Load(context.Background(), srv.URL+"/doc")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != "fetched body" {
		t.Errorf("Load() = %q", got)
	}

	_, err = l.Load(context.Background(), srv.URL+"/missing")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestResourceLoader_SizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0o600); err != nil {
		t.Fatal(err)
	}
	l := newResourceLoader(nil)
	l.maxBytes = 16
	if _, err := l.Load(context.Background(), path); err == nil {
		t.Fatal("expected error for oversized resource")
	}
}
