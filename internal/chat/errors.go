package chat

import "fmt"

// GenerationError reports an assistant response failure. By the time it is
// returned, the user message has already been persisted.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate response: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
