package rag

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portfolio-oracle/config"
	"portfolio-oracle/metrics"
)

const (
	DefaultTopK     = 5
	DefaultMinScore = 0.05
	DefaultMaxChars = 12000

	excerptChars = 500
)

// Citation records one source or passage that contributed to a context.
type Citation struct {
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	ChunkID    uuid.UUID `json:"chunk_id,omitempty"`
	DocumentID uuid.UUID `json:"document_id,omitempty"`
	Score      float64   `json:"score"`
	Excerpt    string    `json:"excerpt"`
}

// Assembly is the bounded prompt context built for one question.
type Assembly struct {
	Context   string
	Grounded  bool
	Citations []Citation
	// ChunkIDs lists the stored document chunks that contributed.
	ChunkIDs []uuid.UUID
}

// AssemblerConfig selects the retrieval mode and its bounds.
type AssemblerConfig struct {
	Mode     string
	TopK     int
	MinScore float64
	MaxChars int
}

// Assembler builds prompt context from the cached sources.
type Assembler struct {
	logger   *zap.Logger
	cache    *SourceCache
	scorer   Scorer
	splitter SentenceSplitter
	metrics  *metrics.Metrics
	cfg      AssemblerConfig
}

func NewAssembler(logger *zap.Logger, cache *SourceCache, scorer Scorer, cfg AssemblerConfig, m *metrics.Metrics) *Assembler {
	if cfg.Mode != config.RetrievalModeWhole {
		cfg.Mode = config.RetrievalModeRanked
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MinScore < 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if scorer == nil {
		scorer = &KeywordScorer{}
	}
	return &Assembler{
		logger:   logger,
		cache:    cache,
		scorer:   scorer,
		splitter: NewProseSentenceSplitter(),
		metrics:  m,
		cfg:      cfg,
	}
}

// Mode reports the configured retrieval mode.
func (a *Assembler) Mode() string {
	return a.cfg.Mode
}

type sourceMaterial struct {
	source   Source
	material Material
}

// Assemble gathers every available source and builds the context for query.
// Unavailable sources are skipped; if none contribute, the assembly is empty
// and not grounded. Citations and ChunkIDs only name material that fit in
// the MaxChars budget.
func (a *Assembler) Assemble(ctx context.Context, query string) Assembly {
	timer := a.metrics.ContextTimer(a.cfg.Mode)
	defer timer.ObserveDuration()

	available := a.gather(ctx)
	if len(available) == 0 {
		a.logger.Debug("No knowledge sources available")
		return Assembly{}
	}

	if a.cfg.Mode == config.RetrievalModeWhole {
		return a.whole(available)
	}
	return a.ranked(query, available)
}

// gather fetches every source concurrently. The cache recovers refresh
// failures itself, so the group never sees an error.
func (a *Assembler) gather(ctx context.Context) []sourceMaterial {
	sources := a.cache.Sources()
	results := make([]*sourceMaterial, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			if m, ok := a.cache.Get(ctx, src.Name()); ok {
				results[i] = &sourceMaterial{source: src, material: m}
			}
			return nil
		})
	}
	_ = g.Wait()

	return lo.FilterMap(results, func(r *sourceMaterial, _ int) (sourceMaterial, bool) {
		if r == nil {
			return sourceMaterial{}, false
		}
		return *r, true
	})
}

func (a *Assembler) whole(available []sourceMaterial) Assembly {
	budget := newContextBudget(a.cfg.MaxChars, a.splitter)
	var out Assembly

	for _, sm := range available {
		text := strings.TrimSpace(sm.material.Text)
		if text == "" {
			continue
		}
		included, truncated, ok := budget.add(sm.source.Label()+":", text)
		if !ok {
			a.logger.Debug("Context budget exhausted", zap.String("source", sm.source.Name()))
			break
		}

		out.Citations = append(out.Citations, Citation{
			Source:  sm.source.Name(),
			Title:   sm.source.Label(),
			Score:   1.0,
			Excerpt: excerpt(strings.TrimSuffix(included, truncationMarker)),
		})

		passages := sm.material.Passages
		if truncated {
			passages = lo.Filter(passages, func(p Passage, _ int) bool {
				return strings.Contains(included, p.Content)
			})
		}
		out.ChunkIDs = append(out.ChunkIDs, chunkIDs(passages)...)
	}

	out.Context = budget.String()
	out.Grounded = len(out.Citations) > 0 && out.Context != ""
	out.ChunkIDs = lo.Uniq(out.ChunkIDs)
	return out
}

type scoredPassage struct {
	passage Passage
	score   float64
}

func (a *Assembler) ranked(query string, available []sourceMaterial) Assembly {
	var candidates []scoredPassage
	for _, sm := range available {
		for _, p := range sm.material.Passages {
			score := a.scorer.Score(query, p.Content)
			if score <= 0 || score < a.cfg.MinScore {
				continue
			}
			candidates = append(candidates, scoredPassage{passage: p, score: score})
		}
	}

	// Stable so equal scores keep source order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > a.cfg.TopK {
		candidates = candidates[:a.cfg.TopK]
	}
	if len(candidates) == 0 {
		a.metrics.ObservePassages(0)
		a.logger.Debug("No passage cleared the relevance threshold",
			zap.Float64("min_score", a.cfg.MinScore))
		return Assembly{}
	}

	budget := newContextBudget(a.cfg.MaxChars, a.splitter)
	var kept []scoredPassage
	for _, c := range candidates {
		if _, _, ok := budget.add("[Source: "+c.passage.Title+"]", c.passage.Content); !ok {
			break
		}
		kept = append(kept, c)
	}
	if len(kept) < len(candidates) {
		a.logger.Debug("Context budget dropped passages",
			zap.Int("selected", len(candidates)),
			zap.Int("kept", len(kept)))
	}
	if len(kept) == 0 {
		return Assembly{}
	}

	a.metrics.ObservePassages(len(kept))
	passages := lo.Map(kept, func(c scoredPassage, _ int) Passage { return c.passage })
	return Assembly{
		Context:  budget.String(),
		Grounded: true,
		Citations: lo.Map(kept, func(c scoredPassage, _ int) Citation {
			return Citation{
				Source:     c.passage.Source,
				Title:      c.passage.Title,
				ChunkID:    c.passage.ChunkID,
				DocumentID: c.passage.DocumentID,
				Score:      c.score,
				Excerpt:    excerpt(c.passage.Content),
			}
		}),
		ChunkIDs: lo.Uniq(chunkIDs(passages)),
	}
}

func chunkIDs(passages []Passage) []uuid.UUID {
	return lo.FilterMap(passages, func(p Passage, _ int) (uuid.UUID, bool) {
		return p.ChunkID, p.ChunkID != uuid.Nil
	})
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptChars {
		return text
	}
	return string(runes[:excerptChars]) + "..."
}

const sectionSeparator = "\n\n"

// contextBudget joins labeled sections until maxChars runes are used. The
// section that straddles the limit is cut at a sentence boundary and closes
// the budget.
type contextBudget struct {
	b        strings.Builder
	used     int
	max      int
	closed   bool
	splitter SentenceSplitter
}

func newContextBudget(maxChars int, splitter SentenceSplitter) *contextBudget {
	return &contextBudget{max: maxChars, splitter: splitter}
}

// add appends header and body and returns the part of body that was written.
// truncated reports that body was cut; ok is false when none of it fit.
func (cb *contextBudget) add(header, body string) (included string, truncated, ok bool) {
	if cb.closed {
		return "", false, false
	}

	cost := utf8.RuneCountInString(header) + 1
	if cb.used > 0 {
		cost += len(sectionSeparator)
	}
	remaining := cb.max - cb.used - cost
	if remaining <= utf8.RuneCountInString(truncationMarker) {
		cb.closed = true
		return "", false, false
	}

	included = body
	if utf8.RuneCountInString(body) > remaining {
		cb.closed = true
		included = TruncateAtSentence(body, remaining, cb.splitter)
		if strings.TrimSpace(strings.TrimSuffix(included, truncationMarker)) == "" {
			return "", false, false
		}
		truncated = true
	}

	if cb.used > 0 {
		cb.b.WriteString(sectionSeparator)
	}
	cb.b.WriteString(header)
	cb.b.WriteString("\n")
	cb.b.WriteString(included)
	cb.used += cost + utf8.RuneCountInString(included)
	return included, truncated, true
}

func (cb *contextBudget) String() string {
	return cb.b.String()
}
