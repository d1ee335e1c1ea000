package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatClient calls any OpenAI-compatible API (/v1/chat/completions
// and /v1/embeddings). Works with vLLM, LiteLLM, LocalAI, OpenRouter,
// GitHub Models, self-hosted gateways, etc.
type OpenAICompatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAICompatClient builds a client. baseURL should include the /v1
// prefix, e.g. "https://models.github.ai/inference/v1". apiKey can be empty
// for local models that do not require authentication.
func NewOpenAICompatClient(baseURL, apiKey string) *OpenAICompatClient {
	return &OpenAICompatClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// GenerateChat calls the chat completions endpoint with the full history.
func (c *OpenAICompatClient) GenerateChat(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("chat messages required")
	}
	reqBody := oaiChatRequest{Model: model, Messages: messages}
	var chatResp oaiChatResponse
	if err := c.doJSON(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	return text, nil
}

// Embed calls the embeddings endpoint for one or more inputs.
func (c *OpenAICompatClient) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openai-compat embedding model required")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	reqBody := oaiEmbedRequest{Model: model, Input: inputs}
	var embedResp oaiEmbedResponse
	if err := c.doJSON(ctx, "/embeddings", reqBody, &embedResp); err != nil {
		return nil, err
	}
	if len(embedResp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai-compat embeddings count mismatch: got %d, want %d", len(embedResp.Data), len(inputs))
	}
	out := make([][]float32, len(inputs))
	for _, item := range embedResp.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, fmt.Errorf("openai-compat embeddings index out of range: %d", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}

func (c *OpenAICompatClient) doJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("openai-compat api error: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai-compat decode: %w", err)
	}
	return nil
}

// OpenAICompatGenerator binds a client to a fixed generation model.
type OpenAICompatGenerator struct {
	client *OpenAICompatClient
	model  string
}

// NewOpenAICompatGenerator builds an OpenAI-compatible ChatGenerator.
func NewOpenAICompatGenerator(client *OpenAICompatClient, model string) *OpenAICompatGenerator {
	return &OpenAICompatGenerator{client: client, model: model}
}

// GenerateChat implements ChatGenerator.
func (g *OpenAICompatGenerator) GenerateChat(ctx context.Context, messages []ChatMessage) (string, error) {
	return g.client.GenerateChat(ctx, g.model, messages)
}

// OpenAICompatEmbedder binds a client to a fixed embedding model.
type OpenAICompatEmbedder struct {
	client *OpenAICompatClient
	model  string
}

// NewOpenAICompatEmbedder builds an OpenAI-compatible Embedder.
func NewOpenAICompatEmbedder(client *OpenAICompatClient, model string) *OpenAICompatEmbedder {
	return &OpenAICompatEmbedder{client: client, model: model}
}

// EmbedText implements Embedder.
func (e *OpenAICompatEmbedder) EmbedText(ctx context.Context, text, taskType string) ([]float32, error) {
	out, err := e.client.Embed(ctx, e.model, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("openai-compat embeddings response empty")
	}
	return out[0], nil
}

// EmbedTexts implements BatchEmbedder.
func (e *OpenAICompatEmbedder) EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	return e.client.Embed(ctx, e.model, texts)
}

// OpenAI-compatible request/response types.

type oaiChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

type oaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type oaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
