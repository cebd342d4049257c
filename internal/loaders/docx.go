package loaders

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// DOCXLoader reads the main document part of a Word file and returns its
// paragraphs separated by newlines.
type DOCXLoader struct{}

func (l *DOCXLoader) Load(ctx context.Context, path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", loadError(path, err)
	}
	defer r.Close()

	text, err := wordprocessingText(r.Editable().GetContent())
	if err != nil {
		return "", loadError(path, err)
	}
	return text, nil
}

func (l *DOCXLoader) SupportedExtensions() []string {
	return []string{".docx"}
}

func (l *DOCXLoader) Priority() int {
	return 50
}

// wordprocessingText walks WordprocessingML and keeps run text (w:t),
// turning tabs and breaks into whitespace and paragraphs into lines.
func wordprocessingText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var b strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
