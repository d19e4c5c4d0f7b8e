// Package extractor turns uploaded documents into plain text for scanning.
package extractor

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for binaries, media and archives
var ErrUnsupported = errors.New("unsupported file type")

// Extractor reads a document and returns its text
type Extractor interface {
	Extract(r io.Reader) (string, error)
}

// Factory picks an Extractor from a file name
type Factory struct{}

// NewFactory creates a new extractor factory
func NewFactory() *Factory {
	return &Factory{}
}

// ForFile returns the extractor for name and its lower-cased extension
func (f *Factory) ForFile(name string) (Extractor, string, error) {
	ext := strings.ToLower(filepath.Ext(name))

	if !f.IsSupported(ext) {
		return nil, ext, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}

	switch ext {
	case ".pdf":
		return &PDFExtractor{}, ext, nil
	case ".xlsx":
		return &ExcelExtractor{}, ext, nil
	default:
		return &TextExtractor{}, ext, nil
	}
}

// Extract is ForFile followed by Extract
func (f *Factory) Extract(name string, r io.Reader) (string, error) {
	ex, _, err := f.ForFile(name)
	if err != nil {
		return "", err
	}

	text, err := ex.Extract(r)
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", filepath.Base(name), err)
	}
	return text, nil
}

// IsSupported checks if the file extension can be read as a document
func (f *Factory) IsSupported(ext string) bool {
	switch ext {
	case ".exe", ".dll", ".so", ".dylib", ".bin":
		return false
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp":
		return false
	case ".mp3", ".mp4", ".wav", ".avi", ".mov", ".mkv":
		return false
	case ".zip", ".tar", ".gz", ".rar", ".7z", ".iso":
		return false
	default:
		return true
	}
}

// sanitize replaces control characters (other than tab and line breaks) and
// invalid UTF-8 with spaces.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteByte(' ')
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(r)
		case r < 32 || r == 127:
			b.WriteByte(' ')
		default:
			b.WriteString(s[:size])
		}
		s = s[size:]
	}
	return b.String()
}
