// Package extract pulls plain text out of uploaded files for the local
// processing pipeline. PDFs report a real page count; everything else
// counts as a single page.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Result is the outcome of text extraction.
type Result struct {
	Text  string
	Pages int
}

// imageExts are the extensions routed through OCR instead of direct
// text extraction.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImage reports whether the file needs OCR, judged by MIME type with
// the extension as fallback.
func IsImage(fileName, mimeType string) bool {
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	return imageExts[strings.ToLower(filepath.Ext(fileName))]
}

// Text extracts plain text from data, dispatching on the file
// extension. Image formats return an empty result; their text comes
// from the OCR step.
func Text(fileName string, data []byte) (Result, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case ext == ".pdf":
		return pdfText(data)
	case ext == ".html" || ext == ".htm":
		text, err := HTMLText(bytes.NewReader(data))
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, Pages: 1}, nil
	case imageExts[ext]:
		return Result{Pages: pageEstimate(data)}, nil
	default:
		return Result{Text: string(data), Pages: 1}, nil
	}
}

func pdfText(data []byte) (Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("opening pdf: %w", err)
	}

	pages := r.NumPage()
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return Result{Text: b.String(), Pages: pages}, nil
}

// HTMLText returns the visible text of an HTML document, skipping
// script and style subtrees.
func HTMLText(r io.Reader) (string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.TrimSpace(b.String()), nil
}

// pageEstimate sizes OCR work for an image: one page per 512KiB,
// minimum one. Real page detection belongs to the backend OCR service.
func pageEstimate(data []byte) int {
	pages := len(data)/(512<<10) + 1
	return pages
}
