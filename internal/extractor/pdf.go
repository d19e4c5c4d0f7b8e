package extractor

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads the text layer of PDF documents
type PDFExtractor struct{}

func (e *PDFExtractor) Extract(r io.Reader) (string, error) {
	// ledongthuc/pdf needs an io.ReaderAt and the size
	var readerAt io.ReaderAt
	var size int64

	switch v := r.(type) {
	case *os.File:
		stat, err := v.Stat()
		if err != nil {
			return "", err
		}
		readerAt, size = v, stat.Size()
	case *bytes.Reader:
		readerAt, size = v, int64(v.Len())
	default:
		data, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		readerAt, size = bytes.NewReader(data), int64(len(data))
	}

	doc, err := pdf.NewReader(readerAt, size)
	if err != nil {
		return "", err
	}

	pages := make([]string, 0, doc.NumPage())
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}

		content, err := page.GetPlainText(nil)
		if err != nil {
			continue // unreadable page
		}
		pages = append(pages, strings.TrimSpace(content))
	}

	return sanitize(strings.Join(pages, "\n\n")), nil
}
