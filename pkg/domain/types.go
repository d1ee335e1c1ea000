package domain

import "time"

type SourceStatus string

const (
	StatusPending    SourceStatus = "pending"
	StatusProcessing SourceStatus = "processing"
	StatusCompleted  SourceStatus = "completed"
	StatusFailed     SourceStatus = "failed"
)

type SourceType string

const (
	SourceTypeDocument SourceType = "document"
)

type FeedbackKind string

const (
	FeedbackThumbsUp   FeedbackKind = "thumbs_up"
	FeedbackThumbsDown FeedbackKind = "thumbs_down"
	FeedbackRating     FeedbackKind = "rating"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	UseCompanyData bool      `json:"useCompanyData"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Messages       []Message `json:"messages,omitempty"`
	MessageCount   int       `json:"messageCount"`
	FeedbackCount  int       `json:"feedbackCount"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Feedback struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	MessageID      string       `json:"messageId"`
	Kind           FeedbackKind `json:"kind"`
	Rating         *int         `json:"rating,omitempty"`
	Comment        string       `json:"comment,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type DataSource struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	SourceType            SourceType   `json:"sourceType"`
	OriginalFilename      string       `json:"originalFilename"`
	StorageKey            string       `json:"-"`
	Status                SourceStatus `json:"status"`
	ErrorMessage          string       `json:"errorMessage,omitempty"`
	IsActive              bool         `json:"isActive"`
	TotalChunks           int          `json:"totalChunks"`
	TotalTokens           int          `json:"totalTokens"`
	SizeBytes             int64        `json:"sizeBytes"`
	ProcessingStartedAt   *time.Time   `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time   `json:"processingCompletedAt,omitempty"`
	CreatedAt             time.Time    `json:"createdAt"`
	UpdatedAt             time.Time    `json:"updatedAt"`
}

type Chunk struct {
	ID         string            `json:"id"`
	SourceID   string            `json:"sourceId"`
	Content    string            `json:"content"`
	TokenCount int               `json:"tokenCount"`
	Position   int               `json:"position"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ScoredChunk is a chunk paired with its similarity score for one query.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

type SourceStats struct {
	TotalSources     int `json:"totalSources"`
	ActiveSources    int `json:"activeSources"`
	TotalChunks      int `json:"totalChunks"`
	TotalTokens      int `json:"totalTokens"`
	RetrievalQueries int `json:"retrievalQueries"`
}

// QueryLog records one retrieval-augmented exchange for quality analysis.
type QueryLog struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversationId"`
	Query            string    `json:"query"`
	Response         string    `json:"response"`
	RetrievedChunks  int       `json:"retrievedChunks"`
	RetrievalMillis  int64     `json:"retrievalMillis"`
	GenerationMillis int64     `json:"generationMillis"`
	CreatedAt        time.Time `json:"createdAt"`
}
