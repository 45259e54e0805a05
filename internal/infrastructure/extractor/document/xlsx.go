package document

import (
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXLSX flattens every sheet into tab separated lines.
func extractXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", err
		}
		b.WriteString(sheet)
		b.WriteByte('\n')
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
			if b.Len() > maxTextBytes {
				return b.String(), nil
			}
		}
	}
	return b.String(), nil
}
