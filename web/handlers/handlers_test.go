package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portfolio-oracle/database"
	apperrors "portfolio-oracle/errors"
	"portfolio-oracle/knowledge"
	"portfolio-oracle/oracle"
	"portfolio-oracle/rag"
	"portfolio-oracle/web/middleware"
	"portfolio-oracle/web/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAsker struct {
	lastReq oracle.AskRequest
	result  oracle.AskResult
	history []oracle.HistoryEntry
	err     error
}

func (f *fakeAsker) Ask(ctx context.Context, req oracle.AskRequest) (oracle.AskResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeAsker) GetHistory(ctx context.Context, sessionID string) ([]oracle.HistoryEntry, error) {
	return f.history, f.err
}

type fakeKnowledge struct {
	docs     map[uuid.UUID]types.KnowledgeDocument
	uploaded knowledge.UploadInput
	err      error
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{docs: map[uuid.UUID]types.KnowledgeDocument{}}
}

func (f *fakeKnowledge) lookup(id uuid.UUID) (types.KnowledgeDocument, error) {
	if f.err != nil {
		return types.KnowledgeDocument{}, f.err
	}
	doc, ok := f.docs[id]
	if !ok {
		return types.KnowledgeDocument{}, apperrors.ErrNotFound
	}
	return doc, nil
}

func (f *fakeKnowledge) Upload(ctx context.Context, in knowledge.UploadInput) (types.KnowledgeDocument, error) {
	if f.err != nil {
		return types.KnowledgeDocument{}, f.err
	}
	f.uploaded = in
	doc := types.KnowledgeDocument{ID: uuid.New(), Title: in.Title, Filename: in.Filename, Active: true, ChunkCount: 1}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeKnowledge) SetActive(ctx context.Context, id uuid.UUID, active bool) (types.KnowledgeDocument, error) {
	doc, err := f.lookup(id)
	if err != nil {
		return doc, err
	}
	doc.Active = active
	f.docs[id] = doc
	return doc, nil
}

func (f *fakeKnowledge) UpdateMetadata(ctx context.Context, id uuid.UUID, patch types.DocumentPatch) (types.KnowledgeDocument, error) {
	doc, err := f.lookup(id)
	if err != nil {
		return doc, err
	}
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	f.docs[id] = doc
	return doc, nil
}

func (f *fakeKnowledge) Rechunk(ctx context.Context, id uuid.UUID) (types.KnowledgeDocument, error) {
	return f.lookup(id)
}

func (f *fakeKnowledge) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := f.lookup(id); err != nil {
		return err
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeKnowledge) List(ctx context.Context, activeOnly bool) ([]types.KnowledgeDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.KnowledgeDocument
	for _, d := range f.docs {
		if !activeOnly || d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeKnowledge) Get(ctx context.Context, id uuid.UUID) (types.KnowledgeDocument, error) {
	return f.lookup(id)
}

type fakeLister struct{}

func (fakeLister) RecentConversations(ctx context.Context, limit int) ([]database.ConversationSummary, error) {
	return nil, nil
}

type recordingCache struct {
	calls [][]string
}

func (r *recordingCache) Invalidate(names ...string) {
	r.calls = append(r.calls, names)
}

func oracleRouter(asker Asker) *gin.Engine {
	h := NewOracleHandler(asker, zap.NewNop())
	r := gin.New()
	r.Use(middleware.SessionMiddleware())
	r.POST("/chat", h.Chat)
	r.GET("/history", h.History)
	return r
}

func knowledgeRouter(svc KnowledgeService, cache SourceInvalidator) *gin.Engine {
	h := NewKnowledgeHandler(svc, fakeLister{}, cache, 1024, zap.NewNop())
	r := gin.New()
	r.GET("/documents", h.List)
	r.POST("/documents", h.Upload)
	r.GET("/documents/:id", h.Get)
	r.PATCH("/documents/:id", h.Update)
	r.POST("/documents/:id/active", h.SetActive)
	r.DELETE("/documents/:id", h.Delete)
	r.POST("/cache/invalidate", h.InvalidateCache)
	r.GET("/conversations", h.Conversations)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.SessionHeader, "visitor-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChat(t *testing.T) {
	asker := &fakeAsker{result: oracle.AskResult{
		Answer:       "The stars say Casey holds the AWS certification.",
		HadGrounding: true,
		LatencyMs:    12,
		Citations:    []rag.Citation{{Source: rag.SourceProfile, Title: "Profile"}},
	}}
	w := doJSON(oracleRouter(asker), http.MethodPost, "/chat", `{"question":"Is Casey certified?","user_id":" u-9 "}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		SessionID    string         `json:"session_id"`
		Answer       string         `json:"answer"`
		HadGrounding bool           `json:"had_grounding"`
		Citations    []rag.Citation `json:"citations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "visitor-1", body.SessionID)
	assert.True(t, body.HadGrounding)
	assert.Len(t, body.Citations, 1)

	assert.Equal(t, "visitor-1", asker.lastReq.SessionID)
	assert.Equal(t, "Is Casey certified?", asker.lastReq.Question)
	require.NotNil(t, asker.lastReq.UserID)
	assert.Equal(t, "u-9", *asker.lastReq.UserID)
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "invalid input", err: apperrors.InvalidInputf("question is empty"), wantStatus: http.StatusBadRequest},
		{name: "not found", err: apperrors.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "unavailable", err: fmt.Errorf("store: %w", apperrors.ErrServiceUnavailable), wantStatus: http.StatusServiceUnavailable},
		{name: "empty document", err: apperrors.ErrEmptyDocument, wantStatus: http.StatusUnprocessableEntity},
		{name: "anything else", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(oracleRouter(&fakeAsker{err: tt.err}), http.MethodPost, "/chat", `{"question":"hello"}`)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestChatInvalidInputEchoesReason(t *testing.T) {
	w := doJSON(oracleRouter(&fakeAsker{err: apperrors.InvalidInputf("question is empty")}), http.MethodPost, "/chat", `{"question":""}`)
	assert.Contains(t, w.Body.String(), "question is empty")
}

func TestHistoryEmptyIsArray(t *testing.T) {
	w := doJSON(oracleRouter(&fakeAsker{}), http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session_id":"visitor-1","messages":[]}`, w.Body.String())
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	svc := newFakeKnowledge()
	r := knowledgeRouter(svc, &recordingCache{})

	req := multipartUpload(t, "resume.md", []byte("# Casey\n\nBackend engineer."), map[string]string{
		"title":     "Resume",
		"doc_type":  "resume",
		"mime_type": "text/markdown",
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "resume.md", svc.uploaded.Filename)
	assert.Equal(t, "text/markdown", svc.uploaded.MimeType)
	assert.Equal(t, "resume", svc.uploaded.DocType)
	assert.Contains(t, string(svc.uploaded.Data), "Backend engineer.")
}

func TestUploadRejections(t *testing.T) {
	r := knowledgeRouter(newFakeKnowledge(), &recordingCache{})

	t.Run("missing file", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/documents", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, multipartUpload(t, "big.txt", bytes.Repeat([]byte("a"), 2048), nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestDocumentLifecycle(t *testing.T) {
	svc := newFakeKnowledge()
	id := uuid.New()
	svc.docs[id] = types.KnowledgeDocument{ID: id, Title: "Bio", Active: true}
	r := knowledgeRouter(svc, &recordingCache{})
	path := "/documents/" + id.String()

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, path, "").Code)

	w := doJSON(r, http.MethodPatch, path, `{"title":"Short bio"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Short bio", svc.docs[id].Title)

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodPost, path+"/active", `{}`).Code)
	require.Equal(t, http.StatusOK, doJSON(r, http.MethodPost, path+"/active", `{"active":false}`).Code)
	assert.False(t, svc.docs[id].Active)

	w = doJSON(r, http.MethodGet, "/documents?active=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"documents":[]`)
	assert.Contains(t, w.Body.String(), `"resume"`)

	assert.Equal(t, http.StatusNoContent, doJSON(r, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/documents/not-a-uuid", "").Code)
}

func TestInvalidateCache(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCall   []string
	}{
		{name: "all sources", body: "", wantStatus: http.StatusOK, wantCall: []string{}},
		{name: "named source", body: `{"sources":["documents"]}`, wantStatus: http.StatusOK, wantCall: []string{"documents"}},
		{name: "unknown source", body: `{"sources":["weather"]}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &recordingCache{}
			w := doJSON(knowledgeRouter(newFakeKnowledge(), cache), http.MethodPost, "/cache/invalidate", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCall == nil {
				assert.Empty(t, cache.calls)
				return
			}
			require.Len(t, cache.calls, 1)
			assert.ElementsMatch(t, tt.wantCall, cache.calls[0])
		})
	}
}

func TestConversationsEmptyIsArray(t *testing.T) {
	w := doJSON(knowledgeRouter(newFakeKnowledge(), &recordingCache{}), http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conversations":[]}`, w.Body.String())
}
