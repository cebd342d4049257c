package loaders

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestTextLoader(t *testing.T) {
	path := writeFile(t, "notes.txt", "line one\r\nline two\rline three")

	text, err := (&TextLoader{}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\nline three", text)
}

func TestTextLoader_MissingFile(t *testing.T) {
	_, err := (&TextLoader{}).Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.True(t, errors.Is(err, domain.ErrLoad))
}

func TestMarkdownLoader(t *testing.T) {
	src := "# Title\n\nSome *emphasis* and a [link](https://example.com).\n\n- item one\n- item two\n\n```go\nfmt.Println(\"hi\")\n```\n"
	path := writeFile(t, "readme.md", src)

	text, err := (&MarkdownLoader{}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Contains(t, text, "Title\n")
	assert.Contains(t, text, "Some emphasis and a link.")
	assert.Contains(t, text, "item one")
	assert.Contains(t, text, "item two")
	assert.Contains(t, text, "fmt.Println(\"hi\")")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "https://example.com")
	assert.NotContains(t, text, "*")
}

func TestXLSXLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "apples"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 3))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	text, err := (&XLSXLoader{}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "## Sheet: Sheet1\nname\tqty\napples\t3", text)
}

func TestPDFLoader_Corrupt(t *testing.T) {
	path := writeFile(t, "broken.pdf", "%PDF-1.4\nthis is not really a pdf")

	_, err := (&PDFLoader{}).Load(context.Background(), path)
	assert.True(t, errors.Is(err, domain.ErrLoad), "got %v", err)
}

func TestDOCXLoader_Corrupt(t *testing.T) {
	path := writeFile(t, "broken.docx", "not a zip archive")

	_, err := (&DOCXLoader{}).Load(context.Background(), path)
	assert.True(t, errors.Is(err, domain.ErrLoad), "got %v", err)
}

func TestWordprocessingText(t *testing.T) {
	xmlDoc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world &amp; friends</w:t></w:r></w:p>
<w:p><w:r><w:t>Second</w:t><w:tab/><w:t>para</w:t></w:r></w:p>
</w:body>
</w:document>`

	text, err := wordprocessingText(xmlDoc)
	require.NoError(t, err)
	assert.Equal(t, "Hello world & friends\nSecond\tpara", text)
}

func TestPPTXLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)

	slides := map[string]string{
		"ppt/slides/slide2.xml":  `<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>Second slide</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide10.xml": `<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>Tenth slide</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide1.xml":  `<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>First</a:t></a:r><a:r><a:t> slide</a:t></a:r></a:p></p:sld>`,
		"ppt/presentation.xml":   `<p:presentation xmlns:p="p"/>`,
	}
	for name, body := range slides {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	text, err := (&PPTXLoader{}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "First slide\n\nSecond slide\n\nTenth slide", text)
}

func TestDefaultRegistry_LoadsText(t *testing.T) {
	path := writeFile(t, "a.csv", "a,b\n1,2\n")

	text, err := DefaultRegistry().Load(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "a,b"))
}
