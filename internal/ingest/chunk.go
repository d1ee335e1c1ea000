package ingest

import (
	"strconv"
	"strings"
)

// Piece is one chunk of extracted text before embedding.
type Piece struct {
	Content    string
	TokenCount int
	Position   int
	Metadata   map[string]string
}

// Chunker splits text into overlapping word windows. Sizes are counted in
// whitespace-separated tokens.
type Chunker struct {
	Size    int
	Overlap int
}

// Split chunks the extracted pages in order, assigning global positions.
func (c Chunker) Split(pages []extractedPage) []Piece {
	size := c.Size
	if size <= 0 {
		size = 500
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	var pieces []Piece
	position := 0
	for _, page := range pages {
		words := strings.Fields(page.Text)
		for start := 0; start < len(words); start += step {
			end := start + size
			if end > len(words) {
				end = len(words)
			}
			window := words[start:end]
			meta := map[string]string{"chunk": strconv.Itoa(position)}
			for k, v := range page.Metadata {
				meta[k] = v
			}
			pieces = append(pieces, Piece{
				Content:    strings.Join(window, " "),
				TokenCount: len(window),
				Position:   position,
				Metadata:   meta,
			})
			position++
			if end == len(words) {
				break
			}
		}
	}
	return pieces
}
