package loaders

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFLoader extracts the plain text of every page. Pages are joined by a
// single newline.
type PDFLoader struct{}

func (l *PDFLoader) Load(ctx context.Context, path string) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", loadError(path, fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", loadError(path, err)
	}
	defer f.Close()

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", loadError(path, fmt.Errorf("page %d: %w", i, err))
		}
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n"), nil
}

func (l *PDFLoader) SupportedExtensions() []string {
	return []string{".pdf"}
}

func (l *PDFLoader) Priority() int {
	return 50
}
