package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"companychat/internal/util"
	"companychat/pkg/ai"
	"companychat/pkg/domain"
	"companychat/pkg/store"
)

const defaultTitle = "New conversation"

const plainSystemPrompt = "You are a helpful assistant for company employees. " +
	"Answer clearly and concisely. If you do not know the answer, say so."

const augmentedSystemPrompt = "You are a helpful assistant for company employees. " +
	"Use the company documents below to answer. Cite passages by their [n] label " +
	"when you rely on them. If the documents do not contain the answer, say so " +
	"and answer from general knowledge.\n\n--- COMPANY DOCUMENTS ---\n%s--- END DOCUMENTS ---"

// ContextRetriever finds supporting chunks for a user query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error)
}

// Config wires engine dependencies.
type Config struct {
	Store        store.Store
	Generator    ai.ChatGenerator
	Retriever    ContextRetriever
	Logger       *slog.Logger
	HistoryLimit int
	TitleRunes   int
}

// Engine drives conversations: it persists messages, optionally augments
// prompts with retrieved company data, and calls the generation model.
// Whether a conversation uses company data is fixed at creation and never
// changed by later requests.
type Engine struct {
	store        store.Store
	generator    ai.ChatGenerator
	retriever    ContextRetriever
	logger       *slog.Logger
	historyLimit int
	titleRunes   int
	locks        util.KeyedMutex
}

// PostResult is the outcome of one exchange.
type PostResult struct {
	Conversation     domain.Conversation `json:"conversation"`
	UserMessage      domain.Message      `json:"userMessage"`
	AssistantMessage domain.Message      `json:"assistantMessage"`
	UsedCompanyData  bool                `json:"usedCompanyData"`
	RetrievedChunks  int                 `json:"retrievedChunks"`
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("chat: generator is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("chat: retriever is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 50
	}
	titleRunes := cfg.TitleRunes
	if titleRunes <= 0 {
		titleRunes = 60
	}
	return &Engine{
		store:        cfg.Store,
		generator:    cfg.Generator,
		retriever:    cfg.Retriever,
		logger:       logger,
		historyLimit: historyLimit,
		titleRunes:   titleRunes,
	}, nil
}

// CreateConversation starts an empty conversation.
func (e *Engine) CreateConversation(useCompanyData bool) (domain.Conversation, error) {
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:             util.NewID(),
		Title:          defaultTitle,
		UseCompanyData: useCompanyData,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateConversation(conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// PostMessage appends a user message and produces the assistant reply.
// When conversationID is empty a new conversation is created with the
// requested useCompanyData flag; on an existing conversation the flag in
// the request is ignored in favor of the stored one.
func (e *Engine) PostMessage(ctx context.Context, conversationID, content string, useCompanyData bool) (PostResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return PostResult{}, domain.Validationf("message content is required")
	}

	var conv domain.Conversation
	if conversationID == "" {
		now := time.Now().UTC()
		conv = domain.Conversation{
			ID:             util.NewID(),
			Title:          e.deriveTitle(content),
			UseCompanyData: useCompanyData,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.CreateConversation(conv); err != nil {
			return PostResult{}, fmt.Errorf("create conversation: %w", err)
		}
	} else {
		existing, ok, err := e.store.GetConversation(conversationID)
		if err != nil {
			return PostResult{}, fmt.Errorf("load conversation: %w", err)
		}
		if !ok {
			return PostResult{}, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
		}
		conv = existing
	}

	unlock := e.locks.Lock(conv.ID)
	defer unlock()

	userMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AppendMessage(userMsg); err != nil {
		return PostResult{}, fmt.Errorf("append user message: %w", err)
	}

	var (
		chunks          []domain.ScoredChunk
		retrievalMillis int64
	)
	if conv.UseCompanyData {
		start := time.Now()
		retrieved, err := e.retriever.Retrieve(ctx, content)
		retrievalMillis = time.Since(start).Milliseconds()
		if err != nil {
			// Degrade to an unaugmented answer rather than failing the turn.
			e.logger.Error("retrieval failed, answering without company data",
				"conversationId", conv.ID, "error", err)
		} else {
			chunks = retrieved
		}
	}

	history, err := e.store.ListMessages(conv.ID, 0)
	if err != nil {
		return PostResult{}, fmt.Errorf("load history: %w", err)
	}
	if len(history) > e.historyLimit {
		history = history[len(history)-e.historyLimit:]
	}

	messages := make([]ai.ChatMessage, 0, len(history)+1)
	messages = append(messages, ai.ChatMessage{
		Role:    domain.RoleSystem,
		Content: buildSystemPrompt(chunks),
	})
	for _, msg := range history {
		messages = append(messages, ai.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	genStart := time.Now()
	answer, err := e.generator.GenerateChat(ctx, messages)
	generationMillis := time.Since(genStart).Milliseconds()
	if err != nil {
		_ = e.store.TouchConversation(conv.ID, time.Now().UTC())
		return PostResult{Conversation: conv, UserMessage: userMsg, UsedCompanyData: conv.UseCompanyData},
			&GenerationError{Err: err}
	}

	assistantMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        answer,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.AppendMessage(assistantMsg); err != nil {
		return PostResult{}, fmt.Errorf("append assistant message: %w", err)
	}
	now := time.Now().UTC()
	if err := e.store.TouchConversation(conv.ID, now); err != nil {
		e.logger.Error("touch conversation", "conversationId", conv.ID, "error", err)
	}
	conv.UpdatedAt = now

	if conv.UseCompanyData && len(chunks) > 0 {
		entry := domain.QueryLog{
			ID:               util.NewID(),
			ConversationID:   conv.ID,
			Query:            content,
			Response:         answer,
			RetrievedChunks:  len(chunks),
			RetrievalMillis:  retrievalMillis,
			GenerationMillis: generationMillis,
			CreatedAt:        now,
		}
		if err := e.store.AppendQueryLog(entry); err != nil {
			e.logger.Error("append query log", "conversationId", conv.ID, "error", err)
		}
	}

	return PostResult{
		Conversation:     conv,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		UsedCompanyData:  conv.UseCompanyData,
		RetrievedChunks:  len(chunks),
	}, nil
}

// GetConversation loads a conversation with its messages and counts.
func (e *Engine) GetConversation(id string) (domain.Conversation, error) {
	conv, ok, err := e.store.GetConversation(id)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	messages, err := e.store.ListMessages(id, 0)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load messages: %w", err)
	}
	feedbackCount, err := e.store.CountFeedback(id)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("count feedback: %w", err)
	}
	conv.Messages = messages
	conv.MessageCount = len(messages)
	conv.FeedbackCount = feedbackCount
	return conv, nil
}

// ListConversations returns recent conversations with counts, newest first.
func (e *Engine) ListConversations(limit int) ([]domain.Conversation, error) {
	convs, err := e.store.ListConversations(limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for i := range convs {
		count, err := e.store.CountMessages(convs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
		convs[i].MessageCount = count
		feedbackCount, err := e.store.CountFeedback(convs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("count feedback: %w", err)
		}
		convs[i].FeedbackCount = feedbackCount
	}
	return convs, nil
}

// DeleteConversation removes a conversation and its messages and feedback.
func (e *Engine) DeleteConversation(id string) error {
	_, ok, err := e.store.GetConversation(id)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err := e.store.DeleteConversation(id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (e *Engine) deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) == 0 {
		return defaultTitle
	}
	if len(runes) <= e.titleRunes {
		return content
	}
	return strings.TrimSpace(string(runes[:e.titleRunes]))
}

func buildSystemPrompt(chunks []domain.ScoredChunk) string {
	if len(chunks) == 0 {
		return plainSystemPrompt
	}
	var b strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, chunk.SourceID, chunk.Content)
	}
	return fmt.Sprintf(augmentedSystemPrompt, b.String())
}
