package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"companychat/pkg/domain"
)

// MemoryStore keeps all state in-process. Used by tests and local runs
// without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	convs     map[string]domain.Conversation
	convOrder []string
	msgs      map[string][]domain.Message // conversation ID -> ordered messages
	msgIndex  map[string]domain.Message   // message ID -> message
	feedback  map[string][]domain.Feedback
	sources   map[string]domain.DataSource
	srcOrder  []string
	chunks    map[string][]domain.Chunk // source ID -> chunks
	queryLogs []domain.QueryLog
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[string]domain.Conversation),
		msgs:     make(map[string][]domain.Message),
		msgIndex: make(map[string]domain.Message),
		feedback: make(map[string][]domain.Feedback),
		sources:  make(map[string]domain.DataSource),
		chunks:   make(map[string][]domain.Chunk),
	}
}

func (m *MemoryStore) CreateConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.convs[c.ID]; !exists {
		m.convOrder = append(m.convOrder, c.ID)
	}
	m.convs[c.ID] = c
	return nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	return c, ok, nil
}

func (m *MemoryStore) ListConversations(limit int) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	items := make([]domain.Conversation, 0, len(m.convs))
	for _, id := range m.convOrder {
		if c, ok := m.convs[id]; ok {
			items = append(items, c)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) TouchConversation(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil
	}
	c.UpdatedAt = at.UTC()
	m.convs[id] = c
	return nil
}

func (m *MemoryStore) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs[id] {
		delete(m.msgIndex, msg.ID)
	}
	delete(m.convs, id)
	delete(m.msgs, id)
	delete(m.feedback, id)
	filtered := m.convOrder[:0]
	for _, item := range m.convOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.convOrder = filtered
	return nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[msg.ConversationID] = append(m.msgs[msg.ConversationID], msg)
	m.msgIndex[msg.ID] = msg
	return nil
}

func (m *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.msgIndex[id]
	return msg, ok, nil
}

func (m *MemoryStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.msgs[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) CountMessages(conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.msgs[conversationID]), nil
}

func (m *MemoryStore) AppendFeedback(fb domain.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback[fb.ConversationID] = append(m.feedback[fb.ConversationID], fb)
	return nil
}

func (m *MemoryStore) CountFeedback(conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.feedback[conversationID]), nil
}

func (m *MemoryStore) AppendQueryLog(entry domain.QueryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryLogs = append(m.queryLogs, entry)
	return nil
}

func (m *MemoryStore) CountQueryLogs() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queryLogs), nil
}

func (m *MemoryStore) SaveDataSource(src domain.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[src.ID]; !exists {
		m.srcOrder = append(m.srcOrder, src.ID)
	}
	m.sources[src.ID] = src
	return nil
}

func (m *MemoryStore) GetDataSource(id string) (domain.DataSource, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	return src, ok, nil
}

func (m *MemoryStore) ListDataSources() ([]domain.DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.DataSource, 0, len(m.srcOrder))
	for _, id := range m.srcOrder {
		if src, ok := m.sources[id]; ok {
			res = append(res, src)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListDataSourcesByStatus(status domain.SourceStatus) ([]domain.DataSource, error) {
	all, _ := m.ListDataSources()
	res := all[:0]
	for _, src := range all {
		if src.Status == status {
			res = append(res, src)
		}
	}
	return res, nil
}

func (m *MemoryStore) SetSourceStatus(id string, status domain.SourceStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	src.Status = status
	src.ErrorMessage = errMsg
	src.UpdatedAt = now
	switch status {
	case domain.StatusProcessing:
		src.ProcessingStartedAt = &now
	case domain.StatusCompleted, domain.StatusFailed:
		src.ProcessingCompletedAt = &now
	}
	m.sources[id] = src
	return nil
}

func (m *MemoryStore) FinishSourceIngest(id string, totalChunks, totalTokens int, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	src.Status = domain.StatusCompleted
	src.ErrorMessage = ""
	src.TotalChunks = totalChunks
	src.TotalTokens = totalTokens
	src.IsActive = active
	src.ProcessingCompletedAt = &now
	src.UpdatedAt = now
	m.sources[id] = src
	return nil
}

func (m *MemoryStore) SetSourceActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil
	}
	src.IsActive = active
	src.UpdatedAt = time.Now().UTC()
	m.sources[id] = src
	return nil
}

func (m *MemoryStore) DeleteDataSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, id)
	delete(m.chunks, id)
	filtered := m.srcOrder[:0]
	for _, item := range m.srcOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.srcOrder = filtered
	return nil
}

func (m *MemoryStore) SourceStats() (domain.SourceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.SourceStats{RetrievalQueries: len(m.queryLogs)}
	for _, src := range m.sources {
		stats.TotalSources++
		if src.IsActive {
			stats.ActiveSources++
		}
	}
	for _, chunks := range m.chunks {
		stats.TotalChunks += len(chunks)
		for _, chunk := range chunks {
			stats.TotalTokens += chunk.TokenCount
		}
	}
	return stats, nil
}

func (m *MemoryStore) ReplaceChunks(sourceID string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]domain.Chunk, len(chunks))
	copy(copied, chunks)
	m.chunks[sourceID] = copied
	return nil
}

func (m *MemoryStore) DeleteChunksBySource(sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, sourceID)
	return nil
}

func (m *MemoryStore) SearchChunks(embedding []float32, opts SearchOptions) ([]domain.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if opts.TopK <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	var candidates []domain.ScoredChunk
	for sourceID, chunks := range m.chunks {
		if opts.ActiveOnly {
			src, ok := m.sources[sourceID]
			if !ok || !src.IsActive || src.Status != domain.StatusCompleted {
				continue
			}
		} else if _, ok := m.sources[sourceID]; !ok {
			continue
		}
		for _, chunk := range chunks {
			if len(chunk.Embedding) == 0 {
				continue
			}
			score := cosineSimilarity(embedding, chunk.Embedding)
			if score < opts.MinScore {
				continue
			}
			candidates = append(candidates, domain.ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > opts.TopK {
		candidates = candidates[:opts.TopK]
	}
	if candidates == nil {
		candidates = []domain.ScoredChunk{}
	}
	return candidates, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
