package knowledge

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	apperrors "portfolio-oracle/errors"
	"portfolio-oracle/web/format"
)

// MinContentLength is the shortest extracted text worth indexing.
const MinContentLength = 10

type contentKind int

const (
	kindUnsupported contentKind = iota
	kindPlain
	kindMarkdown
	kindPDF
)

func detectKind(mimeType, filename string) contentKind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "application/pdf":
		return kindPDF
	case "text/markdown", "text/x-markdown":
		return kindMarkdown
	case "text/plain":
		if isMarkdownName(filename) {
			return kindMarkdown
		}
		return kindPlain
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return kindPDF
	case ".md", ".markdown":
		return kindMarkdown
	case ".txt", ".text":
		return kindPlain
	}
	return kindUnsupported
}

func isMarkdownName(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".md" || ext == ".markdown"
}

// ExtractText returns the clean plain text of an uploaded file. Markdown is
// rendered to text, PDFs are read page by page, and plain text is normalized.
func ExtractText(data []byte, mimeType, filename string) (string, error) {
	var text string
	switch detectKind(mimeType, filename) {
	case kindPDF:
		extracted, err := extractPDF(data)
		if err != nil {
			return "", apperrors.WrapError(apperrors.ErrInvalidInput, err.Error())
		}
		text = format.CleanPlainText(extracted)
	case kindMarkdown:
		if !utf8.Valid(data) {
			return "", apperrors.InvalidInputf("markdown upload is not valid UTF-8")
		}
		text = format.MarkdownToText(string(data))
	case kindPlain:
		if !utf8.Valid(data) {
			return "", apperrors.InvalidInputf("text upload is not valid UTF-8")
		}
		text = format.CleanPlainText(string(data))
	default:
		return "", apperrors.InvalidInputf("unsupported file type %q", mimeType)
	}

	if utf8.RuneCountInString(text) < MinContentLength {
		return "", apperrors.ErrEmptyDocument
	}
	return text, nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var fullText strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read PDF page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fullText.WriteString(text)
		fullText.WriteString("\n\n")
	}
	return fullText.String(), nil
}
