package document

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxChars = 16000
	maxTextBytes    = 1 << 20
)

// Extractor turns a document into a plain text snippet. Formats it does
// not understand produce an empty snippet.
type Extractor struct {
	maxChars int
}

func NewExtractor(maxChars int) *Extractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Extractor{maxChars: maxChars}
}

func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv", ".json", ".log", ".eml", ".xml", ".html", ".htm":
		text, err = extractPlain(path)
	case ".pdf":
		text, err = extractPDF(path)
	case ".xlsx", ".xlsm":
		text, err = extractXLSX(path)
	case ".docx", ".odt", ".rtf":
		text, err = extractWordProcessing(path)
	default:
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	return truncateRunes(strings.TrimSpace(text), e.maxChars), nil
}

func extractPlain(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxTextBytes))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", nil
	}
	return string(raw), nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
