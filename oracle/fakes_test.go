package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"portfolio-oracle/llmclient"
	"portfolio-oracle/rag"
	"portfolio-oracle/web/types"
)

var errStoreDown = errors.New("connection refused")

// memoryStore is an in-memory ConversationStore.
type memoryStore struct {
	mu            sync.Mutex
	conversations map[string]types.Conversation
	messages      map[uuid.UUID][]types.OracleMessage

	conversationErr error
	appendErr       error
	recentErr       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string]types.Conversation),
		messages:      make(map[uuid.UUID][]types.OracleMessage),
	}
}

func (s *memoryStore) GetOrCreateConversation(ctx context.Context, sessionID string, userID *string, ip string) (types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationErr != nil {
		return types.Conversation{}, s.conversationErr
	}
	if c, ok := s.conversations[sessionID]; ok {
		return c, nil
	}
	c := types.Conversation{ID: uuid.New(), SessionID: sessionID, UserID: userID, IPAddress: ip, CreatedAt: time.Now()}
	s.conversations[sessionID] = c
	return c, nil
}

func (s *memoryStore) AppendMessage(ctx context.Context, msg types.OracleMessage) (types.OracleMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return types.OracleMessage{}, s.appendErr
	}
	msg.ID = uuid.New()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

func (s *memoryStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]types.OracleMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	all := s.messages[conversationID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]types.OracleMessage(nil), all...), nil
}

func (s *memoryStore) messagesFor(sessionID string) []types.OracleMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[s.conversations[sessionID].ID]
}

// scriptedCompleter returns a fixed reply or error and records each call.
type scriptedCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]types.Turn
}

func (c *scriptedCompleter) Complete(ctx context.Context, turns []types.Turn, params llmclient.Params) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, turns)
	return c.reply, c.err
}

func (c *scriptedCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *scriptedCompleter) LastTurns() []types.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

// fixedAssembler returns the same assembly for every question.
type fixedAssembler struct {
	assembly rag.Assembly
}

func (a fixedAssembler) Assemble(ctx context.Context, query string) rag.Assembly {
	return a.assembly
}

// textSource is a rag.Source over a constant string.
type textSource struct {
	name, label, text string
}

func (s textSource) Name() string  { return s.name }
func (s textSource) Label() string { return s.label }
func (s textSource) Fetch(ctx context.Context) (rag.Material, error) {
	return rag.Material{Text: s.text}, nil
}

// chunkedCorpus is a rag.Corpus holding documents chunked with rag.Chunk.
type chunkedCorpus struct {
	docs   []types.KnowledgeDocument
	chunks map[uuid.UUID][]types.Chunk
}

func newChunkedCorpus(title string, docType types.DocType, text string) *chunkedCorpus {
	doc := types.KnowledgeDocument{ID: uuid.New(), Title: title, DocType: docType, Active: true, RawContent: text}

	var chunks []types.Chunk
	for i, seg := range rag.Chunk(text, rag.DefaultChunkSize, rag.DefaultChunkOverlap) {
		chunks = append(chunks, types.Chunk{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			Content:     seg.Content,
			ChunkIndex:  i,
			StartOffset: seg.StartOffset,
			EndOffset:   seg.EndOffset,
		})
	}
	doc.ChunkCount = len(chunks)

	return &chunkedCorpus{
		docs:   []types.KnowledgeDocument{doc},
		chunks: map[uuid.UUID][]types.Chunk{doc.ID: chunks},
	}
}

func (c *chunkedCorpus) ActiveDocuments(ctx context.Context) ([]types.KnowledgeDocument, error) {
	return c.docs, nil
}

func (c *chunkedCorpus) ChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]types.Chunk, error) {
	return c.chunks[documentID], nil
}

func (c *chunkedCorpus) chunkIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, doc := range c.docs {
		for _, ch := range c.chunks[doc.ID] {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}

var caseyChunkIDs = []uuid.UUID{uuid.New(), uuid.New()}
