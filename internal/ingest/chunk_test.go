package ingest

import (
	"strings"
	"testing"
)

func TestChunkerSplitOverlappingWindows(t *testing.T) {
	words := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	pages := []extractedPage{{Text: strings.Join(words, " "), Metadata: map[string]string{}}}

	pieces := Chunker{Size: 4, Overlap: 1}.Split(pages)

	if len(pieces) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(pieces))
	}
	wantContents := []string{"a b c d", "d e f g", "g h i j"}
	for i, piece := range pieces {
		if piece.Content != wantContents[i] {
			t.Errorf("piece %d content = %q, want %q", i, piece.Content, wantContents[i])
		}
		if piece.Position != i {
			t.Errorf("piece %d position = %d", i, piece.Position)
		}
		if piece.TokenCount != 4 {
			t.Errorf("piece %d tokenCount = %d, want 4", i, piece.TokenCount)
		}
	}
}

func TestChunkerSplitShortTextSinglePiece(t *testing.T) {
	pages := []extractedPage{{Text: "hello world", Metadata: map[string]string{}}}

	pieces := Chunker{Size: 500, Overlap: 50}.Split(pages)

	if len(pieces) != 1 {
		t.Fatalf("expected 1 piece, got %d", len(pieces))
	}
	if pieces[0].Content != "hello world" || pieces[0].TokenCount != 2 {
		t.Fatalf("unexpected piece: %+v", pieces[0])
	}
}

func TestChunkerSplitCarriesPageMetadata(t *testing.T) {
	pages := []extractedPage{
		{Text: "one two three", Metadata: map[string]string{"page": "1"}},
		{Text: "four five six", Metadata: map[string]string{"page": "2"}},
	}

	pieces := Chunker{Size: 2, Overlap: 0}.Split(pages)

	if len(pieces) != 4 {
		t.Fatalf("expected 4 pieces, got %d", len(pieces))
	}
	if pieces[0].Metadata["page"] != "1" || pieces[3].Metadata["page"] != "2" {
		t.Fatalf("page metadata not carried: %+v", pieces)
	}
	// Positions are global across pages.
	for i, piece := range pieces {
		if piece.Position != i {
			t.Errorf("piece %d position = %d", i, piece.Position)
		}
	}
}

func TestChunkerSplitEmptyPages(t *testing.T) {
	if got := (Chunker{Size: 10}).Split(nil); len(got) != 0 {
		t.Fatalf("expected no pieces, got %d", len(got))
	}
}

func TestNormalizeTextCollapsesWhitespace(t *testing.T) {
	got := normalizeText("  hello\n\tworld\x00 again  ")
	if got != "hello world again" {
		t.Fatalf("normalizeText = %q", got)
	}
}
