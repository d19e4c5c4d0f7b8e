package extractor

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxColumns caps very wide sheets
const maxColumns = 1000

// ExcelExtractor reads .xlsx workbooks. Cells are tab separated, rows are
// lines and sheets are separated by a blank line.
type ExcelExtractor struct{}

func (e *ExcelExtractor) Extract(r io.Reader) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.Rows(sheet)
		if err != nil {
			continue
		}

		var lines []string
		for rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				break
			}
			if len(cols) > maxColumns {
				cols = cols[:maxColumns]
			}
			line := strings.TrimRight(strings.Join(cols, "\t"), "\t")
			if line != "" {
				lines = append(lines, line)
			}
		}
		_ = rows.Close()

		if len(lines) > 0 {
			sheets = append(sheets, strings.Join(lines, "\n"))
		}
	}

	return sanitize(strings.Join(sheets, "\n\n")), nil
}
