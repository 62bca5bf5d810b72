package knowledge

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	apperrors "portfolio-oracle/errors"
	"portfolio-oracle/rag"
	"portfolio-oracle/utils"
	"portfolio-oracle/web/types"
)

// Store persists documents and their chunks. Document and chunk writes must
// be atomic.
type Store interface {
	CreateDocumentWithChunks(ctx context.Context, doc *types.KnowledgeDocument, chunks []types.Chunk) error
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, rawContent string, chunks []types.Chunk) error
	UpdateDocument(ctx context.Context, id uuid.UUID, patch types.DocumentPatch) (types.KnowledgeDocument, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	GetDocument(ctx context.Context, id uuid.UUID) (types.KnowledgeDocument, error)
	ListDocuments(ctx context.Context, activeOnly bool) ([]types.KnowledgeDocument, error)
}

// CacheInvalidator drops cached sources after the corpus changes.
type CacheInvalidator interface {
	Invalidate(names ...string)
}

// UploadInput is one uploaded file plus its metadata.
type UploadInput struct {
	Filename    string
	Title       string
	Description string
	MimeType    string
	DocType     string
	Data        []byte
}

// Service manages the knowledge corpus. Every mutation invalidates the
// cached documents source.
type Service struct {
	store   Store
	cache   CacheInvalidator
	chunker *rag.Chunker
	logger  *zap.Logger
	maxSize int64
}

func NewService(logger *zap.Logger, store Store, cache CacheInvalidator, chunker *rag.Chunker, maxSize int64) *Service {
	if chunker == nil {
		chunker = rag.NewChunker()
	}
	return &Service{
		store:   store,
		cache:   cache,
		chunker: chunker,
		logger:  logger,
		maxSize: maxSize,
	}
}

// Upload extracts, chunks and stores a document in one transaction.
func (s *Service) Upload(ctx context.Context, in UploadInput) (types.KnowledgeDocument, error) {
	filename := utils.SanitizeFilename(in.Filename)
	if filename == "" {
		return types.KnowledgeDocument{}, apperrors.InvalidInputf("invalid or unsafe filename")
	}
	if s.maxSize > 0 && int64(len(in.Data)) > s.maxSize {
		return types.KnowledgeDocument{}, apperrors.InvalidInputf("file is larger than %d bytes", s.maxSize)
	}
	docType, err := types.ParseDocType(in.DocType)
	if err != nil {
		return types.KnowledgeDocument{}, apperrors.WrapError(apperrors.ErrInvalidInput, err.Error())
	}

	text, err := ExtractText(in.Data, in.MimeType, filename)
	if err != nil {
		return types.KnowledgeDocument{}, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = utils.TitleFromFilename(filename)
	}

	doc := types.KnowledgeDocument{
		ID:          uuid.New(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Filename:    filename,
		MimeType:    in.MimeType,
		DocType:     docType,
		Active:      true,
		RawContent:  text,
		Size:        int64(len(in.Data)),
	}
	chunks := s.Chunks(text)

	if err := s.store.CreateDocumentWithChunks(ctx, &doc, chunks); err != nil {
		return types.KnowledgeDocument{}, apperrors.WrapError(apperrors.ErrDatabaseOperation, err.Error())
	}
	s.invalidate()

	s.logger.Info("Knowledge document uploaded",
		zap.String("document_id", doc.ID.String()),
		zap.String("title", doc.Title),
		zap.String("doc_type", string(doc.DocType)),
		zap.Int("chunks", doc.ChunkCount))
	return doc, nil
}

// Chunks splits extracted text into unsaved chunks with token estimates.
func (s *Service) Chunks(text string) []types.Chunk {
	return lo.Map(s.chunker.Split(text), func(seg rag.Segment, i int) types.Chunk {
		return types.Chunk{
			Content:     seg.Content,
			ChunkIndex:  i,
			StartOffset: seg.StartOffset,
			EndOffset:   seg.EndOffset,
			TokenCount:  rag.EstimateTokens(seg.Content),
		}
	})
}

// SetActive includes or excludes a document from retrieval.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (types.KnowledgeDocument, error) {
	return s.UpdateMetadata(ctx, id, types.DocumentPatch{Active: &active})
}

// UpdateMetadata edits title, description, type or active flag.
func (s *Service) UpdateMetadata(ctx context.Context, id uuid.UUID, patch types.DocumentPatch) (types.KnowledgeDocument, error) {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return types.KnowledgeDocument{}, apperrors.InvalidInputf("title cannot be empty")
		}
		patch.Title = &title
	}
	if patch.DocType != nil {
		docType, err := types.ParseDocType(string(*patch.DocType))
		if err != nil {
			return types.KnowledgeDocument{}, apperrors.WrapError(apperrors.ErrInvalidInput, err.Error())
		}
		patch.DocType = &docType
	}

	doc, err := s.store.UpdateDocument(ctx, id, patch)
	if err != nil {
		return types.KnowledgeDocument{}, err
	}
	s.invalidate()
	return doc, nil
}

// Rechunk regenerates every chunk of a document from its stored text, for
// example after the chunk size changed.
func (s *Service) Rechunk(ctx context.Context, id uuid.UUID) (types.KnowledgeDocument, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return types.KnowledgeDocument{}, err
	}
	chunks := s.Chunks(doc.RawContent)
	if len(chunks) == 0 {
		return types.KnowledgeDocument{}, apperrors.ErrEmptyDocument
	}
	if err := s.store.ReplaceChunks(ctx, id, doc.RawContent, chunks); err != nil {
		return types.KnowledgeDocument{}, err
	}
	s.invalidate()

	doc.ChunkCount = len(chunks)
	s.logger.Info("Knowledge document rechunked", zap.String("document_id", id.String()), zap.Int("chunks", doc.ChunkCount))
	return doc, nil
}

// Delete removes a document and, by cascade, its chunks.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info("Knowledge document deleted", zap.String("document_id", id.String()))
	return nil
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]types.KnowledgeDocument, error) {
	return s.store.ListDocuments(ctx, activeOnly)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (types.KnowledgeDocument, error) {
	return s.store.GetDocument(ctx, id)
}

func (s *Service) invalidate() {
	if s.cache != nil {
		s.cache.Invalidate(rag.SourceDocuments)
	}
}
