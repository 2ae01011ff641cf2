// Package media stores uploaded listing images on local disk.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	// MaxImageBytes bounds a single uploaded image.
	MaxImageBytes = 5 << 20
	sniffBytes    = 3072
	filePerm      = 0o644
	dirPerm       = 0o755
)

var (
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image too large")
	ErrInvalidStore     = errors.New("invalid media store config")
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Store writes images under a root directory and hands back public URIs.
type Store struct {
	root      string
	urlPrefix string
}

// NewStore creates root when missing. urlPrefix is the route the directory is served under.
func NewStore(root string, urlPrefix string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: root directory is required", ErrInvalidStore)
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	return &Store{root: root, urlPrefix: "/" + strings.Trim(urlPrefix, "/")}, nil
}

// Root returns the directory images are written to.
func (store *Store) Root() string {
	return store.root
}

// Save sniffs the content type, writes the image under a random name, and returns its URI.
func (store *Store) Save(reader io.Reader) (string, error) {
	head := make([]byte, sniffBytes)
	read, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:read]
	detected := mimetype.Detect(head)
	extension, ok := allowedTypes[detected.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, detected.String())
	}

	name := uuid.NewString() + extension
	path := filepath.Join(store.root, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return "", err
	}
	limited := io.LimitReader(io.MultiReader(bytes.NewReader(head), reader), MaxImageBytes+1)
	written, err := io.Copy(file, limited)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > MaxImageBytes {
		err = ErrImageTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return store.urlPrefix + "/" + name, nil
}

// Manages reports whether uri points into this store.
func (store *Store) Manages(uri string) bool {
	return strings.HasPrefix(strings.TrimSpace(uri), store.urlPrefix+"/")
}

// Remove deletes a previously saved image by URI. Unknown URIs are ignored.
func (store *Store) Remove(uri string) error {
	if !store.Manages(uri) {
		return nil
	}
	uri = strings.TrimSpace(uri)
	name := filepath.Base(strings.TrimPrefix(uri, store.urlPrefix+"/"))
	err := os.Remove(filepath.Join(store.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
