package imageencoder

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/menu-labeler/internal/labels"
)

// Image is a photo read from the source folder, ready to be sent for inference.
type Image struct {
	Filename string
	Base64   string
	SHA1     string
}

// ExtensionFilter decides which directory entries are eligible.
type ExtensionFilter struct {
	Extensions      []string
	CaseInsensitive bool
}

// Match reports whether name ends with one of the accepted extensions.
func (f ExtensionFilter) Match(name string) bool {
	for _, ext := range f.Extensions {
		if ext == "" {
			continue
		}
		if f.CaseInsensitive {
			if strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
				return true
			}
			continue
		}
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Encoder reads eligible images from a single folder.
type Encoder struct {
	folder string
	filter ExtensionFilter
}

// NewEncoder creates an encoder rooted at folder.
func NewEncoder(folder string, filter ExtensionFilter) *Encoder {
	return &Encoder{folder: folder, filter: filter}
}

// Folder returns the source folder.
func (e *Encoder) Folder() string {
	return e.folder
}

// Filter returns the eligibility filter.
func (e *Encoder) Filter() ExtensionFilter {
	return e.filter
}

// List returns eligible filenames in directory listing order. Subdirectories
// are not descended into.
func (e *Encoder) List() ([]string, error) {
	entries, err := os.ReadDir(e.folder)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", labels.ErrRead, e.folder, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !e.filter.Match(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Encode reads <folder>/<filename> and returns its base64 form.
func (e *Encoder) Encode(filename string) (*Image, error) {
	f, err := os.Open(filepath.Join(e.folder, filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", labels.ErrRead, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", labels.ErrRead, err)
	}
	return EncodeBytes(filename, data), nil
}

// EncodeBytes encodes image bytes already held in memory.
func EncodeBytes(filename string, data []byte) *Image {
	sum := sha1.Sum(data)
	return &Image{
		Filename: filename,
		Base64:   base64.StdEncoding.EncodeToString(data),
		SHA1:     hex.EncodeToString(sum[:]),
	}
}
