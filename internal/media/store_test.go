package media

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestSaveAndRemove(t *testing.T) {
	t.Parallel()
	store, err := NewStore(filepath.Join(t.TempDir(), "media"), "media")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	uri, err := store.Save(bytes.NewReader(append(append([]byte{}, pngHeader...), make([]byte, 64)...)))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(uri, "/media/") || !strings.HasSuffix(uri, ".png") {
		t.Fatalf("unexpected uri %q", uri)
	}
	path := filepath.Join(store.Root(), filepath.Base(uri))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(len(pngHeader)+64) {
		t.Fatalf("expected full image on disk, got %d bytes", info.Size())
	}

	if err := store.Remove(uri); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected file removed, got %v", err)
	}
	if err := store.Remove("https://elsewhere.example/x.png"); err != nil {
		t.Fatalf("expected foreign uri to be ignored, got %v", err)
	}
}

func TestSaveRejectsNonImages(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir(), "/media/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Save(strings.NewReader("#!/bin/sh\necho hi\n")); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected nothing written, got %d entries", len(entries))
	}
}

func TestSaveRejectsOversizedImages(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir(), "media")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	payload := append(append([]byte{}, pngHeader...), make([]byte, MaxImageBytes)...)
	if _, err := store.Save(bytes.NewReader(payload)); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestNewStoreRequiresRoot(t *testing.T) {
	t.Parallel()
	if _, err := NewStore(" ", "media"); !errors.Is(err, ErrInvalidStore) {
		t.Fatalf("expected ErrInvalidStore, got %v", err)
	}
}

func TestManagesOnlyStoreURIs(t *testing.T) {
	t.Parallel()
	store, err := NewStore(t.TempDir(), "/media/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	testCases := map[string]bool{
		"/media/3f2a.png":                 true,
		" /media/3f2a.png ":               true,
		"/media/nested/3f2a.png":          true,
		"/mediafile.png":                  false,
		"https://cdn.example.com/a.png":   false,
		"https://cdn.example.com/media/a": false,
		"":                                false,
	}
	for uri, want := range testCases {
		if got := store.Manages(uri); got != want {
			t.Fatalf("Manages(%q) = %v, want %v", uri, got, want)
		}
	}
}
