package imaging

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Store keeps image files addressed by opaque refs.
type Store interface {
	// Save writes data under prefix and returns its ref. Equal content under
	// the same prefix yields the same ref.
	Save(prefix string, data []byte) (string, error)
	// CopyToBin copies a staged image into a bin's directory and returns the
	// new ref.
	CopyToBin(ref, binID string) (string, error)
	Read(ref string) ([]byte, error)
	// Delete removes the file behind ref, reporting whether one existed.
	Delete(ref string) (bool, error)
}

// FS is a Store on the local filesystem.
type FS struct {
	root string
}

// NewFS returns a Store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &FS{root: dir}, nil
}

// Root returns the directory the store writes to.
func (s *FS) Root() string {
	return s.root
}

func (s *FS) Save(prefix string, data []byte) (string, error) {
	sum := blake2b.Sum256(data)
	ref := path.Join(prefix, hex.EncodeToString(sum[:])+".jpg")
	full, err := s.path(ref)
	if err != nil {
		return "", err
	}
	if err := writeFile(full, data); err != nil {
		return "", err
	}
	return ref, nil
}

// CopyToBin copies ref to bins/<binID>/<flattened ref>. The flattened name
// keeps copies of different staged files apart inside one bin.
func (s *FS) CopyToBin(ref, binID string) (string, error) {
	if binID == "" || strings.ContainsAny(binID, `/\`) {
		return "", fmt.Errorf("invalid bin id %q", binID)
	}
	data, err := s.Read(ref)
	if err != nil {
		return "", err
	}
	dst := path.Join("bins", binID, strings.ReplaceAll(ref, "/", "_"))
	full, err := s.path(dst)
	if err != nil {
		return "", err
	}
	if err := writeFile(full, data); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *FS) Read(ref string) ([]byte, error) {
	full, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", ref, err)
	}
	return data, nil
}

func (s *FS) Delete(ref string) (bool, error) {
	full, err := s.path(ref)
	if err != nil {
		return false, err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting image %s: %w", ref, err)
	}
	return true, nil
}

// path resolves ref inside the root, rejecting refs that escape it.
func (s *FS) path(ref string) (string, error) {
	local := filepath.FromSlash(ref)
	if ref == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid image ref %q", ref)
	}
	return filepath.Join(s.root, local), nil
}

// writeFile writes through a temporary file so readers never see a partial
// image.
func writeFile(full string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating image directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing image: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming image: %w", err)
	}
	return nil
}
