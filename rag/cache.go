package rag

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "portfolio-oracle/errors"
	"portfolio-oracle/metrics"
)

// DefaultSourceTTL is how long a populated source stays fresh.
const DefaultSourceTTL = time.Hour

// Source names.
const (
	SourceProfile   = "profile"
	SourceSite      = "site"
	SourceDocuments = "documents"
)

// Passage is a scoreable span of a source. ChunkID and DocumentID are only
// set for passages backed by stored document chunks.
type Passage struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Source     string
	Title      string
	Content    string
}

// Material is what a source yields: its whole text for whole-source
// assembly and its passages for ranked assembly.
type Material struct {
	Text     string
	Passages []Passage
}

// Empty reports whether the material carries no usable content.
func (m Material) Empty() bool {
	if strings.TrimSpace(m.Text) != "" {
		return false
	}
	for _, p := range m.Passages {
		if strings.TrimSpace(p.Content) != "" {
			return false
		}
	}
	return true
}

// Source is a named knowledge feed refreshed by the SourceCache.
type Source interface {
	Name() string
	// Label introduces the source's text in whole-source context.
	Label() string
	Fetch(ctx context.Context) (Material, error)
}

type cacheEntry struct {
	material    Material
	populatedAt time.Time
}

// SourceCache holds redacted material per source, each with its own TTL clock.
//
// The lock guards the entry map only and is never held across a refresh.
// Two requests that both observe an expired entry will both refresh it and
// the last write wins. Refreshes are read-only against the corpus, so the
// redundant work is tolerated.
type SourceCache struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	chunker *Chunker
	ttl     time.Duration
	now     func() time.Time

	sources []Source
	byName  map[string]Source

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// CacheOption configures a SourceCache.
type CacheOption func(*SourceCache)

// WithTTL sets the freshness window.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *SourceCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *SourceCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *SourceCache) {
		c.metrics = m
	}
}

// WithPassageChunker sets the chunker used to derive passages for sources
// that only return text.
func WithPassageChunker(chunker *Chunker) CacheOption {
	return func(c *SourceCache) {
		if chunker != nil {
			c.chunker = chunker
		}
	}
}

// NewSourceCache creates a cache over sources. Later sources with a duplicate
// name are ignored.
func NewSourceCache(logger *zap.Logger, sources []Source, opts ...CacheOption) *SourceCache {
	c := &SourceCache{
		logger:  logger,
		chunker: NewChunker(),
		ttl:     DefaultSourceTTL,
		now:     time.Now,
		byName:  make(map[string]Source, len(sources)),
		entries: make(map[string]cacheEntry, len(sources)),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, src := range sources {
		if src == nil {
			continue
		}
		if _, dup := c.byName[src.Name()]; dup {
			logger.Warn("Duplicate source ignored", zap.String("source", src.Name()))
			continue
		}
		c.byName[src.Name()] = src
		c.sources = append(c.sources, src)
	}
	return c
}

// Sources returns the configured sources in registration order.
func (c *SourceCache) Sources() []Source {
	return slices.Clone(c.sources)
}

// Get returns the material for the named source and whether it is
// available. Failures are logged by Lookup and never returned.
func (c *SourceCache) Get(ctx context.Context, name string) (Material, bool) {
	m, err := c.Lookup(ctx, name)
	return m, err == nil
}

// Lookup returns the material for the named source, refreshing it when the
// cached entry is missing or older than the TTL. A failed refresh serves the
// stale entry if there is one. An empty refresh leaves the previous entry in
// place. Every miss wraps ErrSourceUnavailable.
func (c *SourceCache) Lookup(ctx context.Context, name string) (Material, error) {
	src, ok := c.byName[name]
	if !ok {
		return Material{}, apperrors.WrapErrorf(apperrors.ErrSourceUnavailable, "unknown source %q", name)
	}

	c.mu.RLock()
	entry, cached := c.entries[name]
	c.mu.RUnlock()

	if cached && c.now().Sub(entry.populatedAt) < c.ttl {
		return entry.material, nil
	}

	material, err := src.Fetch(ctx)
	if err != nil {
		c.metrics.SourceRefreshInc(name, "error")
		if cached {
			c.logger.Warn("Source refresh failed, serving stale entry",
				zap.String("source", name),
				zap.Time("populated_at", entry.populatedAt),
				zap.Error(err))
			return entry.material, nil
		}
		c.logger.Warn("Source refresh failed", zap.String("source", name), zap.Error(err))
		return Material{}, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnavailable, name, err)
	}

	material = c.prepare(src, material)
	if material.Empty() {
		c.metrics.SourceRefreshInc(name, "empty")
		c.logger.Debug("Source yielded no content", zap.String("source", name))
		return Material{}, apperrors.WrapErrorf(apperrors.ErrSourceUnavailable, "source %s yielded no content", name)
	}

	c.mu.Lock()
	c.entries[name] = cacheEntry{material: material, populatedAt: c.now()}
	c.mu.Unlock()

	c.metrics.SourceRefreshInc(name, "ok")
	c.logger.Debug("Source refreshed",
		zap.String("source", name),
		zap.Int("chars", len(material.Text)),
		zap.Int("passages", len(material.Passages)))
	return material, nil
}

// Invalidate drops the named entries, or every entry when no name is given.
func (c *SourceCache) Invalidate(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(names) == 0 {
		clear(c.entries)
		c.logger.Info("Cleared all source cache entries")
		return
	}
	for _, name := range names {
		delete(c.entries, name)
	}
	c.logger.Info("Cleared source cache entries", zap.Strings("sources", names))
}

// Warm refreshes every missing or expired entry and returns how many sources
// are available afterwards.
func (c *SourceCache) Warm(ctx context.Context) int {
	available := 0
	for _, src := range c.sources {
		if ctx.Err() != nil {
			break
		}
		if _, err := c.Lookup(ctx, src.Name()); err != nil {
			c.logger.Debug("Source not warmed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		available++
	}
	return available
}

// prepare redacts the fetched material and derives passages from its text
// when the source did not supply any. Nothing unredacted is ever stored.
func (c *SourceCache) prepare(src Source, m Material) Material {
	out := Material{Text: strings.TrimSpace(Redact(m.Text))}

	if len(m.Passages) > 0 {
		out.Passages = make([]Passage, 0, len(m.Passages))
		for _, p := range m.Passages {
			p.Content = strings.TrimSpace(Redact(p.Content))
			p.Title = Redact(p.Title)
			if p.Source == "" {
				p.Source = src.Name()
			}
			if p.Content != "" {
				out.Passages = append(out.Passages, p)
			}
		}
		return out
	}

	for _, seg := range c.chunker.Split(out.Text) {
		out.Passages = append(out.Passages, Passage{
			Source:  src.Name(),
			Title:   src.Label(),
			Content: seg.Content,
		})
	}
	return out
}
