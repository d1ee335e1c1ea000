package store

import (
	"time"

	"companychat/pkg/domain"
)

// SearchOptions controls a vector search over the chunk index.
type SearchOptions struct {
	// ActiveOnly restricts candidates to chunks of active, completed sources.
	ActiveOnly bool
	TopK       int
	MinScore   float64
}

// Store defines persistence operations for conversations, messages, feedback,
// data sources, and the chunk index.
type Store interface {
	// conversations
	CreateConversation(c domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversations(limit int) ([]domain.Conversation, error)
	TouchConversation(id string, at time.Time) error
	DeleteConversation(id string) error

	// messages
	AppendMessage(msg domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	ListMessages(conversationID string, limit int) ([]domain.Message, error)
	CountMessages(conversationID string) (int, error)

	// feedback
	AppendFeedback(fb domain.Feedback) error
	CountFeedback(conversationID string) (int, error)

	// query log
	AppendQueryLog(entry domain.QueryLog) error
	CountQueryLogs() (int, error)

	// data sources
	SaveDataSource(src domain.DataSource) error
	GetDataSource(id string) (domain.DataSource, bool, error)
	ListDataSources() ([]domain.DataSource, error)
	ListDataSourcesByStatus(status domain.SourceStatus) ([]domain.DataSource, error)
	SetSourceStatus(id string, status domain.SourceStatus, errMsg string) error
	FinishSourceIngest(id string, totalChunks, totalTokens int, active bool) error
	SetSourceActive(id string, active bool) error
	DeleteDataSource(id string) error
	SourceStats() (domain.SourceStats, error)

	// chunk index
	ReplaceChunks(sourceID string, chunks []domain.Chunk) error
	DeleteChunksBySource(sourceID string) error
	SearchChunks(embedding []float32, opts SearchOptions) ([]domain.ScoredChunk, error)
}
