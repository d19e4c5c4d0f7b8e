package extractor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestFactoryForFile(t *testing.T) {
	f := NewFactory()

	tests := []struct {
		name string
		want Extractor
	}{
		{"contract.PDF", &PDFExtractor{}},
		{"payroll.xlsx", &ExcelExtractor{}},
		{"notes.txt", &TextExtractor{}},
		{"README", &TextExtractor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, _, err := f.ForFile(tt.name)
			require.NoError(t, err)
			assert.IsType(t, tt.want, ex)
		})
	}

	_, ext, err := f.ForFile("scan.png")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, ".png", ext)
}

func TestTextExtractor(t *testing.T) {
	text, err := NewFactory().Extract("a.txt", strings.NewReader("Email:\x00 a.b@example.org\r\n\tok \xff end"))
	require.NoError(t, err)
	assert.Equal(t, "Email:  a.b@example.org\r\n\tok   end", text)
}

func TestExcelExtractor(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()

	require.NoError(t, book.SetCellValue("Sheet1", "A1", "Nom"))
	require.NoError(t, book.SetCellValue("Sheet1", "B1", "Email"))
	require.NoError(t, book.SetCellValue("Sheet1", "A2", "Dupont"))
	require.NoError(t, book.SetCellValue("Sheet1", "B2", "jean.dupont@example.com"))

	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	text, err := NewFactory().Extract("people.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "Nom\tEmail\nDupont\tjean.dupont@example.com", text)
}

func TestPDFExtractorRejectsGarbage(t *testing.T) {
	_, err := NewFactory().Extract("broken.pdf", strings.NewReader("not a pdf"))
	assert.Error(t, err)
}
