package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfolio-oracle/web/format"
	"portfolio-oracle/web/types"
)

// Corpus lists the active knowledge documents and their stored chunks.
type Corpus interface {
	ActiveDocuments(ctx context.Context) ([]types.KnowledgeDocument, error)
	ChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]types.Chunk, error)
}

// SiteContentProvider yields the published site content.
type SiteContentProvider interface {
	PublishedProjects(ctx context.Context) ([]types.Project, error)
	PublishedPosts(ctx context.Context) ([]types.BlogPost, error)
}

// ProfileSource reads the professional profile summary from a local file.
// A missing file is an empty source, not an error.
type ProfileSource struct {
	subject string
	path    string
	url     string
}

func NewProfileSource(subject, path, url string) *ProfileSource {
	return &ProfileSource{subject: subject, path: path, url: url}
}

func (s *ProfileSource) Name() string  { return SourceProfile }
func (s *ProfileSource) Label() string { return "PRIMARY SOURCE - PROFILE" }

func (s *ProfileSource) Fetch(ctx context.Context) (Material, error) {
	if err := ctx.Err(); err != nil {
		return Material{}, err
	}
	if s.path == "" {
		return Material{}, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Material{}, nil
		}
		return Material{}, fmt.Errorf("failed to read profile %s: %w", s.path, err)
	}

	body := string(raw)
	if isMarkdownFile(s.path) {
		body = format.MarkdownToText(body)
	} else {
		body = format.CleanPlainText(body)
	}
	if body == "" {
		return Material{}, nil
	}

	var b strings.Builder
	b.WriteString("PROFILE: ")
	b.WriteString(s.subject)
	b.WriteByte('\n')
	if s.url != "" {
		b.WriteString("URL: ")
		b.WriteString(s.url)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(body)
	return Material{Text: b.String()}, nil
}

// SiteSource aggregates static pages, published projects and published
// blog posts into one text.
type SiteSource struct {
	subject  string
	pagesDir string
	content  SiteContentProvider
	logger   *zap.Logger
}

func NewSiteSource(logger *zap.Logger, subject, pagesDir string, content SiteContentProvider) *SiteSource {
	return &SiteSource{subject: subject, pagesDir: pagesDir, content: content, logger: logger}
}

func (s *SiteSource) Name() string  { return SourceSite }
func (s *SiteSource) Label() string { return "WEBSITE CONTENT" }

// Fetch fails only when every part of the site failed to load.
func (s *SiteSource) Fetch(ctx context.Context) (Material, error) {
	var parts []string
	var failures []error

	pages, err := s.pages()
	if err != nil {
		failures = append(failures, err)
		s.logger.Warn("Failed to read site pages", zap.String("dir", s.pagesDir), zap.Error(err))
	}
	parts = append(parts, pages...)

	if s.content != nil {
		projects, err := s.content.PublishedProjects(ctx)
		if err != nil {
			failures = append(failures, err)
			s.logger.Warn("Failed to load published projects", zap.Error(err))
		} else if len(projects) > 0 {
			parts = append(parts, projectsText(projects))
		}

		posts, err := s.content.PublishedPosts(ctx)
		if err != nil {
			failures = append(failures, err)
			s.logger.Warn("Failed to load published blog posts", zap.Error(err))
		} else if len(posts) > 0 {
			parts = append(parts, postsText(posts))
		}
	}

	if len(parts) == 0 {
		if len(failures) > 0 {
			return Material{}, fmt.Errorf("site content unavailable: %w", failures[0])
		}
		return Material{}, nil
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(s.subject))
	b.WriteString(" PORTFOLIO - COMPLETE WEBSITE CONTENT\n")
	b.WriteString(format.Rule('='))
	b.WriteString("\n\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	return Material{Text: b.String()}, nil
}

// pages returns each markdown or text page under pagesDir as its own
// section, in file name order.
func (s *SiteSource) pages() ([]string, error) {
	if s.pagesDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.pagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !isPageFile(entry) {
			continue
		}
		path := filepath.Join(s.pagesDir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable site page", zap.String("path", path), zap.Error(err))
			continue
		}
		body := format.CleanPlainText(string(raw))
		if isMarkdownFile(path) {
			body = format.MarkdownToText(string(raw))
		}
		if body == "" {
			continue
		}
		title := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		title = strings.NewReplacer("-", " ", "_", " ").Replace(title)
		out = append(out, format.NewSection(title+" page").Text(body).String())
	}
	return out, nil
}

func projectsText(projects []types.Project) string {
	s := format.NewSection("Projects and case studies")
	for _, p := range projects {
		category := p.Category
		if category == "" {
			category = "N/A"
		}
		s.Field("PROJECT", p.Title).
			Field("Category", category).
			Block("Description", p.Description).
			Block("Challenge", p.Challenge).
			Block("Solution", p.Solution).
			Bullets("Results", p.Results).
			Bullets("Technologies used", p.Technologies).
			Break()
	}
	return s.String()
}

func postsText(posts []types.BlogPost) string {
	s := format.NewSection("Blog posts")
	for _, p := range posts {
		s.Field("BLOG POST", p.Title).
			Field("Category", p.Category).
			Field("Tags", strings.Join(p.Tags, ", ")).
			Block("Content", p.Content).
			Break()
	}
	return s.String()
}

// DocumentSource exposes active knowledge documents: their raw text for
// whole-source assembly and their stored chunks as passages.
type DocumentSource struct {
	corpus Corpus
	logger *zap.Logger
}

func NewDocumentSource(logger *zap.Logger, corpus Corpus) *DocumentSource {
	return &DocumentSource{corpus: corpus, logger: logger}
}

func (s *DocumentSource) Name() string  { return SourceDocuments }
func (s *DocumentSource) Label() string { return "KNOWLEDGE BASE DOCUMENTS" }

// Fetch skips any document whose stored chunks disagree with its recorded
// chunk count; such a document is mid-write or damaged.
func (s *DocumentSource) Fetch(ctx context.Context) (Material, error) {
	docs, err := s.corpus.ActiveDocuments(ctx)
	if err != nil {
		return Material{}, fmt.Errorf("failed to list active documents: %w", err)
	}

	var b strings.Builder
	var passages []Passage
	for _, doc := range docs {
		chunks, err := s.corpus.ChunksByDocument(ctx, doc.ID)
		if err != nil {
			return Material{}, fmt.Errorf("failed to load chunks for document %s: %w", doc.ID, err)
		}
		if len(chunks) != doc.ChunkCount {
			s.logger.Warn("Skipping document with inconsistent chunk count",
				zap.String("document_id", doc.ID.String()),
				zap.Int("expected", doc.ChunkCount),
				zap.Int("stored", len(chunks)))
			continue
		}
		if strings.TrimSpace(doc.RawContent) == "" {
			continue
		}

		fmt.Fprintf(&b, "--- Document: %s (%s) ---\n", doc.Title, doc.DocType)
		b.WriteString(strings.TrimSpace(doc.RawContent))
		b.WriteString("\n\n")

		for _, c := range chunks {
			passages = append(passages, Passage{
				ChunkID:    c.ID,
				DocumentID: doc.ID,
				Source:     SourceDocuments,
				Title:      doc.Title,
				Content:    c.Content,
			})
		}
	}

	s.logger.Debug("Loaded knowledge documents", zap.Int("documents", len(docs)), zap.Int("passages", len(passages)))
	return Material{Text: b.String(), Passages: passages}, nil
}

func isMarkdownFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func isPageFile(entry fs.DirEntry) bool {
	switch strings.ToLower(filepath.Ext(entry.Name())) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}
