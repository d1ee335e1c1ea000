package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"companychat/pkg/domain"
)

const migrateLockID int64 = 52815281

const defaultEmbeddingDim = 768

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim := opts.EmbeddingDim
	if embeddingDim <= 0 {
		embeddingDim = defaultEmbeddingDim
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(
			&ConversationModel{},
			&MessageModel{},
			&FeedbackModel{},
			&DataSourceModel{},
			&ChunkModel{},
			&QueryLogModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'feedback_models'
					AND constraint_name = 'feedback_models_conversation_id_fkey'
				) THEN
					ALTER TABLE feedback_models
					ADD CONSTRAINT feedback_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chunk_models'
					AND constraint_name = 'chunk_models_source_id_fkey'
				) THEN
					ALTER TABLE chunk_models
					ADD CONSTRAINT chunk_models_source_id_fkey
					FOREIGN KEY (source_id) REFERENCES data_source_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversations returns the most recently updated conversations.
func (s *GormStore) ListConversations(limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ConversationModel
	if err := s.db.Order("updated_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// TouchConversation bumps updated_at.
func (s *GormStore) TouchConversation(id string, at time.Time) error {
	return s.db.Model(&ConversationModel{}).Where("id = ?", id).
		Update("updated_at", at.UTC()).Error
}

// DeleteConversation removes a conversation with its messages and feedback.
func (s *GormStore) DeleteConversation(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&FeedbackModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ConversationModel{}, "id = ?", id).Error
	})
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// GetMessage returns one message by ID.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns messages for a conversation in chronological order.
func (s *GormStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	query := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// CountMessages returns the message count of a conversation.
func (s *GormStore) CountMessages(conversationID string) (int, error) {
	var count int64
	if err := s.db.Model(&MessageModel{}).
		Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// AppendFeedback records a feedback entry.
func (s *GormStore) AppendFeedback(fb domain.Feedback) error {
	model := feedbackToModel(fb)
	return s.db.Create(&model).Error
}

// CountFeedback returns the feedback count of a conversation.
func (s *GormStore) CountFeedback(conversationID string) (int, error) {
	var count int64
	if err := s.db.Model(&FeedbackModel{}).
		Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// AppendQueryLog records a retrieval-augmented exchange.
func (s *GormStore) AppendQueryLog(entry domain.QueryLog) error {
	model := QueryLogModel{
		ID:               entry.ID,
		ConversationID:   entry.ConversationID,
		Query:            entry.Query,
		Response:         entry.Response,
		RetrievedChunks:  entry.RetrievedChunks,
		RetrievalMillis:  entry.RetrievalMillis,
		GenerationMillis: entry.GenerationMillis,
		CreatedAt:        entry.CreatedAt,
	}
	return s.db.Create(&model).Error
}

// CountQueryLogs returns the total number of retrieval queries served.
func (s *GormStore) CountQueryLogs() (int, error) {
	var count int64
	if err := s.db.Model(&QueryLogModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveDataSource stores or updates a data source.
func (s *GormStore) SaveDataSource(src domain.DataSource) error {
	model := dataSourceToModel(src)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "source_type", "original_filename", "storage_key", "status",
			"error_message", "is_active", "total_chunks", "total_tokens",
			"size_bytes", "updated_at",
		}),
	}).Create(&model).Error
}

// GetDataSource retrieves a data source.
func (s *GormStore) GetDataSource(id string) (domain.DataSource, bool, error) {
	var model DataSourceModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.DataSource{}, false, nil
		}
		return domain.DataSource{}, false, err
	}
	return dataSourceFromModel(model), true, nil
}

// ListDataSources returns all data sources ordered by created_at.
func (s *GormStore) ListDataSources() ([]domain.DataSource, error) {
	return s.listDataSources()
}

// ListDataSourcesByStatus returns data sources in the given status.
func (s *GormStore) ListDataSourcesByStatus(status domain.SourceStatus) ([]domain.DataSource, error) {
	return s.listDataSources("status = ?", string(status))
}

func (s *GormStore) listDataSources(conds ...any) ([]domain.DataSource, error) {
	var models []DataSourceModel
	tx := s.db.Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.DataSource, 0, len(models))
	for _, m := range models {
		res = append(res, dataSourceFromModel(m))
	}
	return res, nil
}

// SetSourceStatus updates source status/error and the lifecycle timestamps.
func (s *GormStore) SetSourceStatus(id string, status domain.SourceStatus, errMsg string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":        string(status),
		"error_message": errMsg,
		"updated_at":    now,
	}
	switch status {
	case domain.StatusProcessing:
		updates["processing_started_at"] = now
	case domain.StatusCompleted, domain.StatusFailed:
		updates["processing_completed_at"] = now
	}
	return s.db.Model(&DataSourceModel{}).Where("id = ?", id).Updates(updates).Error
}

// FinishSourceIngest marks a source completed with its final aggregates.
func (s *GormStore) FinishSourceIngest(id string, totalChunks, totalTokens int, active bool) error {
	now := time.Now().UTC()
	return s.db.Model(&DataSourceModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":                  string(domain.StatusCompleted),
		"error_message":           "",
		"total_chunks":            totalChunks,
		"total_tokens":            totalTokens,
		"is_active":               active,
		"processing_completed_at": now,
		"updated_at":              now,
	}).Error
}

// SetSourceActive toggles the active flag.
func (s *GormStore) SetSourceActive(id string, active bool) error {
	return s.db.Model(&DataSourceModel{}).Where("id = ?", id).Updates(map[string]any{
		"is_active":  active,
		"updated_at": time.Now().UTC(),
	}).Error
}

// DeleteDataSource removes the record (chunks handled by FK cascade).
func (s *GormStore) DeleteDataSource(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "source_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DataSourceModel{}, "id = ?", id).Error
	})
}

// SourceStats returns aggregates over the data source registry.
func (s *GormStore) SourceStats() (domain.SourceStats, error) {
	var stats domain.SourceStats
	var total, active, chunks int64
	if err := s.db.Model(&DataSourceModel{}).Count(&total).Error; err != nil {
		return stats, err
	}
	if err := s.db.Model(&DataSourceModel{}).Where("is_active = ?", true).Count(&active).Error; err != nil {
		return stats, err
	}
	if err := s.db.Model(&ChunkModel{}).Count(&chunks).Error; err != nil {
		return stats, err
	}
	var tokens sql.NullInt64
	if err := s.db.Model(&ChunkModel{}).Select("SUM(token_count)").Scan(&tokens).Error; err != nil {
		return stats, err
	}
	queries, err := s.CountQueryLogs()
	if err != nil {
		return stats, err
	}
	stats.TotalSources = int(total)
	stats.ActiveSources = int(active)
	stats.TotalChunks = int(chunks)
	stats.TotalTokens = int(tokens.Int64)
	stats.RetrievalQueries = queries
	return stats, nil
}

// ReplaceChunks replaces all chunks for a source in one transaction.
func (s *GormStore) ReplaceChunks(sourceID string, chunks []domain.Chunk) error {
	for _, chunk := range chunks {
		if err := s.validateEmbeddingDim(chunk.Embedding); err != nil {
			return err
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "source_id = ?", sourceID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.SourceID = sourceID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// DeleteChunksBySource removes all chunks owned by a source.
func (s *GormStore) DeleteChunksBySource(sourceID string) error {
	return s.db.Delete(&ChunkModel{}, "source_id = ?", sourceID).Error
}

type scoredChunkRow struct {
	ChunkModel
	Score float64
}

// SearchChunks finds similar chunks by cosine similarity, highest first,
// ties broken by chunk ID for determinism.
func (s *GormStore) SearchChunks(embedding []float32, opts SearchOptions) ([]domain.ScoredChunk, error) {
	if opts.TopK <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	query := s.db.Model(&ChunkModel{}).
		Select("chunk_models.*, 1 - (embedding <=> ?) AS score", vec).
		Where("embedding IS NOT NULL").
		Where("1 - (embedding <=> ?) >= ?", vec, opts.MinScore)
	if opts.ActiveOnly {
		query = query.Where(
			"source_id IN (SELECT id FROM data_source_models WHERE is_active = ? AND status = ?)",
			true, string(domain.StatusCompleted),
		)
	}
	var rows []scoredChunkRow
	if err := query.
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Order("chunk_models.id ASC").
		Limit(opts.TopK).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]domain.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		results = append(results, domain.ScoredChunk{
			Chunk: chunkFromModel(row.ChunkModel),
			Score: row.Score,
		})
	}
	return results, nil
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:             c.ID,
		Title:          c.Title,
		UseCompanyData: c.UseCompanyData,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:             m.ID,
		Title:          m.Title,
		UseCompanyData: m.UseCompanyData,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func feedbackToModel(fb domain.Feedback) FeedbackModel {
	return FeedbackModel{
		ID:             fb.ID,
		ConversationID: fb.ConversationID,
		MessageID:      fb.MessageID,
		Kind:           string(fb.Kind),
		Rating:         fb.Rating,
		Comment:        fb.Comment,
		CreatedAt:      fb.CreatedAt,
	}
}

func dataSourceToModel(src domain.DataSource) DataSourceModel {
	return DataSourceModel{
		ID:                    src.ID,
		Name:                  src.Name,
		SourceType:            string(src.SourceType),
		OriginalFilename:      src.OriginalFilename,
		StorageKey:            src.StorageKey,
		Status:                string(src.Status),
		ErrorMessage:          src.ErrorMessage,
		IsActive:              src.IsActive,
		TotalChunks:           src.TotalChunks,
		TotalTokens:           src.TotalTokens,
		SizeBytes:             src.SizeBytes,
		ProcessingStartedAt:   src.ProcessingStartedAt,
		ProcessingCompletedAt: src.ProcessingCompletedAt,
		CreatedAt:             src.CreatedAt,
		UpdatedAt:             src.UpdatedAt,
	}
}

func dataSourceFromModel(m DataSourceModel) domain.DataSource {
	return domain.DataSource{
		ID:                    m.ID,
		Name:                  m.Name,
		SourceType:            domain.SourceType(m.SourceType),
		OriginalFilename:      m.OriginalFilename,
		StorageKey:            m.StorageKey,
		Status:                domain.SourceStatus(m.Status),
		ErrorMessage:          m.ErrorMessage,
		IsActive:              m.IsActive,
		TotalChunks:           m.TotalChunks,
		TotalTokens:           m.TotalTokens,
		SizeBytes:             m.SizeBytes,
		ProcessingStartedAt:   m.ProcessingStartedAt,
		ProcessingCompletedAt: m.ProcessingCompletedAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	meta, _ := json.Marshal(chunk.Metadata)
	model := ChunkModel{
		ID:         chunk.ID,
		SourceID:   chunk.SourceID,
		Content:    chunk.Content,
		TokenCount: chunk.TokenCount,
		Position:   chunk.Position,
		Metadata:   meta,
		CreatedAt:  chunk.CreatedAt,
	}
	if len(chunk.Embedding) > 0 {
		vec := pgvector.NewVector(chunk.Embedding)
		model.Embedding = &vec
	}
	return model
}

func chunkFromModel(model ChunkModel) domain.Chunk {
	var meta map[string]string
	if len(model.Metadata) > 0 {
		_ = json.Unmarshal(model.Metadata, &meta)
	}
	chunk := domain.Chunk{
		ID:         model.ID,
		SourceID:   model.SourceID,
		Content:    model.Content,
		TokenCount: model.TokenCount,
		Position:   model.Position,
		Metadata:   meta,
		CreatedAt:  model.CreatedAt,
	}
	if model.Embedding != nil {
		chunk.Embedding = model.Embedding.Slice()
	}
	return chunk
}
