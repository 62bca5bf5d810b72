package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portfolio-oracle/web/types"
)

func TestProfileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.md")
	require.NoError(t, os.WriteFile(path, []byte("# About\n\nCasey builds **data** platforms.\n"), 0o644))

	m, err := NewProfileSource("Casey Dean", path, "https://example.com/casey").Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PROFILE: Casey Dean\nURL: https://example.com/casey\n\nAbout\n\nCasey builds data platforms.", m.Text)
}

func TestProfileSourceMissingFileIsEmpty(t *testing.T) {
	m, err := NewProfileSource("Casey", filepath.Join(t.TempDir(), "nope.md"), "").Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Empty())

	m, err = NewProfileSource("Casey", "", "").Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Empty())
}

type stubSiteContent struct {
	projects    []types.Project
	posts       []types.BlogPost
	projectsErr error
	postsErr    error
}

func (s *stubSiteContent) PublishedProjects(ctx context.Context) ([]types.Project, error) {
	return s.projects, s.projectsErr
}

func (s *stubSiteContent) PublishedPosts(ctx context.Context) ([]types.BlogPost, error) {
	return s.posts, s.postsErr
}

func TestSiteSourceAggregatesContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "about-me.md"), []byte("## Hello\n\nI build things."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.json"), []byte(`{}`), 0o644))

	content := &stubSiteContent{
		projects: []types.Project{{
			Title:        "Streaming Platform",
			Description:  "Real-time ingestion.",
			Results:      []string{"10x throughput"},
			Technologies: []string{"Go", "Kafka"},
		}},
		posts: []types.BlogPost{{Title: "On Retries", Category: "Engineering", Tags: []string{"go", "reliability"}, Content: "Backoff matters."}},
	}

	m, err := NewSiteSource(zap.NewNop(), "Casey", dir, content).Fetch(context.Background())
	require.NoError(t, err)

	assert.Contains(t, m.Text, "CASEY PORTFOLIO - COMPLETE WEBSITE CONTENT")
	assert.Contains(t, m.Text, "ABOUT ME PAGE:")
	assert.Contains(t, m.Text, "I build things.")
	assert.NotContains(t, m.Text, "{}")
	assert.Contains(t, m.Text, "PROJECT: Streaming Platform")
	assert.Contains(t, m.Text, "Category: N/A")
	assert.Contains(t, m.Text, "- 10x throughput")
	assert.Contains(t, m.Text, "BLOG POST: On Retries")
	assert.Contains(t, m.Text, "Tags: go, reliability")
}

func TestSiteSourcePartialFailure(t *testing.T) {
	content := &stubSiteContent{
		projectsErr: errors.New("db down"),
		posts:       []types.BlogPost{{Title: "Still here", Content: "Body."}},
	}
	m, err := NewSiteSource(zap.NewNop(), "Casey", "", content).Fetch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, m.Text, "BLOG POST: Still here")
}

func TestSiteSourceTotalFailure(t *testing.T) {
	content := &stubSiteContent{projectsErr: errors.New("db down"), postsErr: errors.New("db down")}
	_, err := NewSiteSource(zap.NewNop(), "Casey", "", content).Fetch(context.Background())
	assert.Error(t, err)
}

type stubCorpus struct {
	docs   []types.KnowledgeDocument
	chunks map[uuid.UUID][]types.Chunk
	err    error
}

func (c *stubCorpus) ActiveDocuments(ctx context.Context) ([]types.KnowledgeDocument, error) {
	return c.docs, c.err
}

func (c *stubCorpus) ChunksByDocument(ctx context.Context, id uuid.UUID) ([]types.Chunk, error) {
	return c.chunks[id], nil
}

func TestDocumentSource(t *testing.T) {
	good := types.KnowledgeDocument{ID: uuid.New(), Title: "Resume", DocType: types.DocTypeResume, RawContent: "Ten years of Go.", ChunkCount: 1}
	broken := types.KnowledgeDocument{ID: uuid.New(), Title: "Half written", DocType: types.DocTypeOther, RawContent: "Partial.", ChunkCount: 3}
	chunkID := uuid.New()

	corpus := &stubCorpus{
		docs: []types.KnowledgeDocument{good, broken},
		chunks: map[uuid.UUID][]types.Chunk{
			good.ID:   {{ID: chunkID, DocumentID: good.ID, Content: "Ten years of Go."}},
			broken.ID: {{ID: uuid.New(), DocumentID: broken.ID, Content: "Partial."}},
		},
	}

	m, err := NewDocumentSource(zap.NewNop(), corpus).Fetch(context.Background())
	require.NoError(t, err)

	assert.Contains(t, m.Text, "--- Document: Resume (resume) ---\nTen years of Go.")
	assert.NotContains(t, m.Text, "Half written")
	require.Len(t, m.Passages, 1)
	assert.Equal(t, chunkID, m.Passages[0].ChunkID)
	assert.Equal(t, good.ID, m.Passages[0].DocumentID)
	assert.Equal(t, "Resume", m.Passages[0].Title)
}

func TestDocumentSourceListError(t *testing.T) {
	_, err := NewDocumentSource(zap.NewNop(), &stubCorpus{err: errors.New("db down")}).Fetch(context.Background())
	assert.Error(t, err)
}
