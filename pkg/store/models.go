package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ConversationModel struct {
	ID             string    `gorm:"primaryKey"`
	Title          string    `gorm:"not null"`
	UseCompanyData bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

type FeedbackModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null;index"`
	MessageID      string `gorm:"not null;index"`
	Kind           string `gorm:"not null"`
	Rating         *int
	Comment        string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
}

type DataSourceModel struct {
	ID                    string `gorm:"primaryKey"`
	Name                  string `gorm:"not null"`
	SourceType            string `gorm:"not null"`
	OriginalFilename      string `gorm:"not null"`
	StorageKey            string
	Status                string `gorm:"not null;index"`
	ErrorMessage          string
	IsActive              bool  `gorm:"not null"`
	TotalChunks           int   `gorm:"not null"`
	TotalTokens           int   `gorm:"not null"`
	SizeBytes             int64 `gorm:"not null"`
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	SourceID   string           `gorm:"not null;index"`
	Content    string           `gorm:"type:text;not null"`
	TokenCount int              `gorm:"not null"`
	Position   int              `gorm:"not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt  time.Time        `gorm:"not null;index"`
}

type QueryLogModel struct {
	ID               string    `gorm:"primaryKey"`
	ConversationID   string    `gorm:"not null;index"`
	Query            string    `gorm:"type:text;not null"`
	Response         string    `gorm:"type:text"`
	RetrievedChunks  int       `gorm:"not null"`
	RetrievalMillis  int64     `gorm:"not null"`
	GenerationMillis int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
}
