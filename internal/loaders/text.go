package loaders

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"
)

// TextLoader reads plain text files as-is, normalising line endings.
type TextLoader struct{}

func (l *TextLoader) Load(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", loadError(path, err)
	}
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}
	return normaliseNewlines(string(data)), nil
}

func (l *TextLoader) SupportedExtensions() []string {
	return []string{".txt", ".text", ".csv", ".log"}
}

func (l *TextLoader) Priority() int {
	return 10
}

func normaliseNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
