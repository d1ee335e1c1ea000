package ai

import "context"

// ChatMessage is one turn of a chat exchange sent to a completion provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatGenerator produces an assistant reply from a full message history.
// All completion providers (Ollama, OpenAI-compatible) implement this
// interface.
type ChatGenerator interface {
	GenerateChat(ctx context.Context, messages []ChatMessage) (string, error)
}
