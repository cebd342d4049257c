package loaders

import (
	"context"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXLoader flattens every sheet of a workbook. Each sheet starts with a
// "## Sheet: <name>" line followed by its rows with cells separated by tabs.
type XLSXLoader struct{}

func (l *XLSXLoader) Load(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", loadError(path, err)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", loadError(path, err)
		}
		var b strings.Builder
		b.WriteString("## Sheet: " + name + "\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		sheets = append(sheets, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(sheets, "\n\n"), nil
}

func (l *XLSXLoader) SupportedExtensions() []string {
	return []string{".xlsx", ".xlsm"}
}

func (l *XLSXLoader) Priority() int {
	return 50
}
