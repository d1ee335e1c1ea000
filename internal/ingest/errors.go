package ingest

import "fmt"

// ExtractionError reports that text could not be pulled out of a document.
type ExtractionError struct {
	Filename string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract text from %s: %v", e.Filename, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports a failed embedding for one chunk. Any embedding
// failure aborts the whole ingestion.
type EmbeddingError struct {
	Position int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed chunk %d: %v", e.Position, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
