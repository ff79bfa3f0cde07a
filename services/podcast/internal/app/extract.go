package app

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"podpdf/pkg/podcast"
)

// TextExtractor pulls plain text out of an uploaded document.
type TextExtractor func(ctx context.Context, filename string, r io.Reader) (string, error)

// ExtractText spools the upload to a temp file and extracts its text by file
// extension. PDFs go through pdftotext when installed, then the pure Go
// reader. Pages and sections are separated by blank lines.
func ExtractText(ctx context.Context, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	tmp, err := os.CreateTemp("", "podpdf-upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: read upload: %w", podcast.ErrExtraction, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	var text string
	switch ext {
	case ".pdf":
		text, err = extractPDF(ctx, path)
	case ".epub":
		text, err = extractEPUB(path)
	default:
		text, err = extractPlain(path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", podcast.ErrExtraction, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", podcast.ErrExtraction
	}
	return text, nil
}

func extractPDF(ctx context.Context, path string) (string, error) {
	text, err := extractPDFWithPdftotext(ctx, path)
	if err == nil && text != "" {
		return text, nil
	}
	return extractPDFWithGoLib(path)
}

func extractPDFWithPdftotext(ctx context.Context, path string) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", fmt.Errorf("pdftotext not found: %w", err)
	}
	output, err := exec.CommandContext(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	// pdftotext separates pages with form feeds
	return joinSections(strings.Split(string(output), "\f")), nil
}

func extractPDFWithGoLib(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages
			continue
		}
		pages = append(pages, text)
	}
	return joinSections(pages), nil
}

func extractEPUB(path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}
	defer reader.Close()
	var sections []string
	for _, file := range reader.File {
		name := strings.ToLower(file.Name)
		if !(strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("read epub file: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read epub content: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("parse epub html: %w", err)
		}
		sections = append(sections, htmlText(doc))
	}
	return joinSections(sections), nil
}

func extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return joinSections(strings.Split(string(data), "\n\n")), nil
}

// joinSections normalizes each section and joins the non-empty ones with a
// blank line.
func joinSections(sections []string) string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if s = normalizeText(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func htmlText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "head" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return buf.String()
}
