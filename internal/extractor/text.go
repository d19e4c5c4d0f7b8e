package extractor

import "io"

// TextExtractor reads plain text documents (.txt, .md, .csv, ...)
type TextExtractor struct{}

func (e *TextExtractor) Extract(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return sanitize(string(data)), nil
}
