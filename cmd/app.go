package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"portfolio-oracle/config"
	"portfolio-oracle/database"
	"portfolio-oracle/knowledge"
	"portfolio-oracle/llmclient"
	"portfolio-oracle/metrics"
	"portfolio-oracle/oracle"
	"portfolio-oracle/prompts"
	"portfolio-oracle/rag"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *database.PostgresStore
	metrics   *metrics.Metrics
	cache     *rag.SourceCache
	assembler *rag.Assembler
	oracle    *oracle.Oracle
	knowledge *knowledge.Service
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := database.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// --- Ensure Schema Exists ---
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	m := metrics.New(prometheus.NewRegistry())

	chunker := rag.NewChunker(rag.WithChunkSize(cfg.ChunkSize), rag.WithOverlap(cfg.ChunkOverlap))
	sources := []rag.Source{
		rag.NewProfileSource(cfg.SubjectName, cfg.ProfileFile, cfg.ProfileURL),
		rag.NewSiteSource(logger, cfg.SubjectName, cfg.SitePagesDir, store),
		rag.NewDocumentSource(logger, store),
	}
	cache := rag.NewSourceCache(logger, sources,
		rag.WithTTL(cfg.SourceCacheTTL),
		rag.WithMetrics(m),
		rag.WithPassageChunker(chunker),
	)

	scorer, err := rag.NewKeywordScorer(cfg.KeywordCacheSize)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create keyword scorer: %w", err)
	}

	assembler := rag.NewAssembler(logger, cache, scorer, rag.AssemblerConfig{
		Mode:     cfg.RetrievalMode,
		TopK:     cfg.RAGResults,
		MinScore: cfg.MinSimilarity,
		MaxChars: cfg.ContextMaxChars,
	}, m)

	llm := llmclient.New(cfg, logger)
	if !llm.Configured() {
		logger.Warn("No completion API key configured, the Oracle will answer with the not-configured message")
	}

	generator := oracle.NewGenerator(logger, llm, prompts.New(cfg.SubjectName, cfg.OracleName), oracle.GeneratorConfig{
		HistoryTurns:    cfg.HistoryTurns,
		MaxTokens:       cfg.LLMMaxTokens,
		Temperature:     cfg.LLMTemperature,
		Timeout:         cfg.LLMRequestTimeout,
		StrictGrounding: cfg.StrictGrounding,
	}, m)

	o := oracle.New(logger, store, assembler, generator, oracle.Options{
		MaxQuestionLength: cfg.MaxQuestionLength,
		HistoryFetchLimit: cfg.HistoryFetchLimit,
	}, m)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		metrics:   m,
		cache:     cache,
		assembler: assembler,
		oracle:    o,
		knowledge: knowledge.NewService(logger, store, cache, chunker, cfg.MaxUploadBytes),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}
