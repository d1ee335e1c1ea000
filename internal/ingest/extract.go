package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractedPage is a unit of extracted text together with provenance
// metadata carried onto the chunks it produces.
type extractedPage struct {
	Text     string
	Metadata map[string]string
}

// ExtractText pulls plain text out of an uploaded document. Only PDF and
// plain text are accepted at upload time, so anything else here is a bug
// upstream and reported as an ExtractionError.
func ExtractText(filename string, data []byte) ([]extractedPage, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		pages, err := extractPDF(data)
		if err != nil {
			return nil, &ExtractionError{Filename: filename, Err: err}
		}
		return pages, nil
	case ".txt", ".md":
		text := normalizeText(string(data))
		if text == "" {
			return nil, &ExtractionError{Filename: filename, Err: fmt.Errorf("file is empty")}
		}
		return []extractedPage{{Text: text, Metadata: map[string]string{}}}, nil
	default:
		return nil, &ExtractionError{Filename: filename, Err: fmt.Errorf("unsupported file type")}
	}
}

func extractPDF(data []byte) ([]extractedPage, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	totalPages := reader.NumPage()
	var pages []extractedPage
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		text = normalizeText(text)
		if text == "" {
			continue
		}
		pages = append(pages, extractedPage{
			Text:     text,
			Metadata: map[string]string{"page": strconv.Itoa(i)},
		})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no text extracted from PDF")
	}
	return pages, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
