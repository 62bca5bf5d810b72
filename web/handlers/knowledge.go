package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"portfolio-oracle/database"
	"portfolio-oracle/knowledge"
	"portfolio-oracle/rag"
	"portfolio-oracle/web/types"
)

const recentConversationsLimit = 50

// KnowledgeService manages the document corpus.
type KnowledgeService interface {
	Upload(ctx context.Context, in knowledge.UploadInput) (types.KnowledgeDocument, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (types.KnowledgeDocument, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, patch types.DocumentPatch) (types.KnowledgeDocument, error)
	Rechunk(ctx context.Context, id uuid.UUID) (types.KnowledgeDocument, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool) ([]types.KnowledgeDocument, error)
	Get(ctx context.Context, id uuid.UUID) (types.KnowledgeDocument, error)
}

// ConversationLister lists recent conversations for review.
type ConversationLister interface {
	RecentConversations(ctx context.Context, limit int) ([]database.ConversationSummary, error)
}

// SourceInvalidator drops cached knowledge sources.
type SourceInvalidator interface {
	Invalidate(names ...string)
}

type KnowledgeHandler struct {
	service       KnowledgeService
	conversations ConversationLister
	cache         SourceInvalidator
	logger        *zap.Logger
	maxUpload     int64
}

func NewKnowledgeHandler(service KnowledgeService, conversations ConversationLister, cache SourceInvalidator, maxUpload int64, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		service:       service,
		conversations: conversations,
		cache:         cache,
		logger:        logger,
		maxUpload:     maxUpload,
	}
}

// Upload accepts a multipart "file" with optional title, description and
// doc_type fields.
func (h *KnowledgeHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "A file is required.")
		return
	}
	if h.maxUpload > 0 && file.Size > h.maxUpload {
		respondWithClientError(c, http.StatusRequestEntityTooLarge, "File too large.")
		return
	}

	f, err := file.Open()
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not read the uploaded file.", h.logger)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not read the uploaded file.", h.logger)
		return
	}

	mimeType := c.PostForm("mime_type")
	if mimeType == "" {
		mimeType = file.Header.Get("Content-Type")
	}

	doc, err := h.service.Upload(c.Request.Context(), knowledge.UploadInput{
		Filename:    file.Filename,
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		MimeType:    mimeType,
		DocType:     c.PostForm("doc_type"),
		Data:        data,
	})
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("filename", file.Filename))
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *KnowledgeHandler) List(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	docs, err := h.service.List(c.Request.Context(), activeOnly)
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	if docs == nil {
		docs = []types.KnowledgeDocument{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "doc_types": types.DocTypes})
}

func (h *KnowledgeHandler) Get(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *KnowledgeHandler) Update(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	var patch types.DocumentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}
	doc, err := h.service.UpdateMetadata(c.Request.Context(), id, patch)
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("document_id", id.String()))
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *KnowledgeHandler) SetActive(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		respondWithClientError(c, http.StatusBadRequest, "Field \"active\" is required.")
		return
	}
	doc, err := h.service.SetActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("document_id", id.String()))
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *KnowledgeHandler) Rechunk(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.service.Rechunk(c.Request.Context(), id)
	if err != nil {
		respondWithAppError(c, err, h.logger, zap.String("document_id", id.String()))
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *KnowledgeHandler) Delete(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		respondWithAppError(c, err, h.logger, zap.String("document_id", id.String()))
		return
	}
	c.Status(http.StatusNoContent)
}

// InvalidateCache drops the named sources, or all of them when none are named.
func (h *KnowledgeHandler) InvalidateCache(c *gin.Context) {
	var req struct {
		Sources []string `json:"sources"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondWithClientError(c, http.StatusBadRequest, "Invalid request")
			return
		}
	}

	known := []string{rag.SourceProfile, rag.SourceSite, rag.SourceDocuments}
	if unknown := lo.Without(req.Sources, known...); len(unknown) > 0 {
		respondWithClientError(c, http.StatusBadRequest, "Unknown source: "+unknown[0])
		return
	}

	h.cache.Invalidate(req.Sources...)
	cleared := req.Sources
	if len(cleared) == 0 {
		cleared = known
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func (h *KnowledgeHandler) Conversations(c *gin.Context) {
	conversations, err := h.conversations.RecentConversations(c.Request.Context(), recentConversationsLimit)
	if err != nil {
		respondWithAppError(c, err, h.logger)
		return
	}
	if conversations == nil {
		conversations = []database.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid document ID")
		return uuid.Nil, false
	}
	return id, true
}
