package oracle

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	apperrors "portfolio-oracle/errors"
	"portfolio-oracle/metrics"
	"portfolio-oracle/rag"
	"portfolio-oracle/web/types"
)

const (
	// DefaultMaxQuestionLength caps question length in characters.
	DefaultMaxQuestionLength = 1000
	// HistoryReplayLimit bounds GetHistory.
	HistoryReplayLimit = 50
)

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, sessionID string, userID *string, ip string) (types.Conversation, error)
	AppendMessage(ctx context.Context, msg types.OracleMessage) (types.OracleMessage, error)
	// RecentMessages returns the newest limit messages in chronological order.
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]types.OracleMessage, error)
}

// ContextAssembler builds prompt context for a question.
type ContextAssembler interface {
	Assemble(ctx context.Context, query string) rag.Assembly
}

type AskRequest struct {
	SessionID string
	Question  string
	UserID    *string
	IP        string
}

type AskResult struct {
	Answer       string         `json:"answer"`
	HadGrounding bool           `json:"had_grounding"`
	LatencyMs    int64          `json:"latency_ms"`
	Citations    []rag.Citation `json:"citations,omitempty"`
}

type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Options tunes validation and history loading.
type Options struct {
	MaxQuestionLength int
	HistoryFetchLimit int
}

// Oracle answers questions about the subject from the knowledge corpus.
type Oracle struct {
	store     ConversationStore
	assembler ContextAssembler
	generator *Generator
	logger    *zap.Logger
	metrics   *metrics.Metrics
	opts      Options
	now       func() time.Time
}

func New(logger *zap.Logger, store ConversationStore, assembler ContextAssembler, generator *Generator, opts Options, m *metrics.Metrics) *Oracle {
	if opts.MaxQuestionLength <= 0 {
		opts.MaxQuestionLength = DefaultMaxQuestionLength
	}
	if opts.HistoryFetchLimit <= 0 {
		opts.HistoryFetchLimit = 10
	}
	return &Oracle{
		store:     store,
		assembler: assembler,
		generator: generator,
		logger:    logger,
		metrics:   m,
		opts:      opts,
		now:       time.Now,
	}
}

// Ask answers one question. The only error it returns is ErrInvalidInput;
// assembly, generation and persistence failures are recovered internally.
func (o *Oracle) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	question := strings.TrimSpace(req.Question)
	if sessionID == "" {
		return AskResult{}, apperrors.InvalidInputf("session id is required")
	}
	if question == "" {
		return AskResult{}, apperrors.InvalidInputf("question is required")
	}
	if n := utf8.RuneCountInString(question); n > o.opts.MaxQuestionLength {
		return AskResult{}, apperrors.InvalidInputf("question is %d characters, limit is %d", n, o.opts.MaxQuestionLength)
	}

	start := o.now()
	log := o.logger.With(zap.String("session_id", sessionID))

	conversation, persist := o.conversation(ctx, log, sessionID, req.UserID, req.IP)
	history := o.history(ctx, log, conversation, persist)

	assembly := o.assembler.Assemble(ctx, question)
	answer := o.generator.Generate(ctx, question, assembly, history)

	latency := o.now().Sub(start)
	result := AskResult{
		Answer:       answer.Text,
		HadGrounding: answer.Grounded,
		LatencyMs:    latency.Milliseconds(),
	}
	if answer.Grounded {
		result.Citations = assembly.Citations
	}

	if persist {
		o.record(ctx, log, conversation.ID, question, start, answer, assembly, result.LatencyMs)
	}

	o.metrics.ObserveAsk(result.HadGrounding, latency.Seconds())
	log.Info("Question answered",
		zap.Bool("grounded", result.HadGrounding),
		zap.Int("chunks", len(assembly.ChunkIDs)),
		zap.Int64("latency_ms", result.LatencyMs))
	return result, nil
}

// GetHistory replays up to HistoryReplayLimit messages of a session, oldest
// first. A store failure is reported as ErrServiceUnavailable.
func (o *Oracle) GetHistory(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.InvalidInputf("session id is required")
	}

	conversation, err := o.store.GetOrCreateConversation(ctx, sessionID, nil, "")
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrServiceUnavailable, err.Error())
	}
	messages, err := o.store.RecentMessages(ctx, conversation.ID, HistoryReplayLimit)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrServiceUnavailable, err.Error())
	}

	return lo.Map(messages, func(m types.OracleMessage, _ int) HistoryEntry {
		return HistoryEntry{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
	}), nil
}

func (o *Oracle) conversation(ctx context.Context, log *zap.Logger, sessionID string, userID *string, ip string) (types.Conversation, bool) {
	conversation, err := o.store.GetOrCreateConversation(ctx, sessionID, userID, ip)
	if err != nil {
		log.Warn("Conversation store unavailable, answering without history", zap.Error(err))
		return types.Conversation{}, false
	}
	return conversation, true
}

func (o *Oracle) history(ctx context.Context, log *zap.Logger, conversation types.Conversation, ok bool) []types.Turn {
	if !ok {
		return nil
	}
	messages, err := o.store.RecentMessages(ctx, conversation.ID, o.opts.HistoryFetchLimit)
	if err != nil {
		log.Warn("Failed to load conversation history", zap.Error(err))
		return nil
	}
	return lo.Map(messages, func(m types.OracleMessage, _ int) types.Turn {
		if m.Role == types.RoleUser {
			return types.Turn{Role: types.TurnUser, Content: m.Content}
		}
		return types.Turn{Role: types.TurnAssistant, Content: m.Content}
	})
}

// record appends both turns. Failures are logged and dropped.
func (o *Oracle) record(ctx context.Context, log *zap.Logger, conversationID uuid.UUID, question string, askedAt time.Time, answer Answer, assembly rag.Assembly, latencyMs int64) {
	if _, err := o.store.AppendMessage(ctx, types.OracleMessage{
		ConversationID: conversationID,
		Role:           types.RoleUser,
		Content:        question,
		CreatedAt:      askedAt,
	}); err != nil {
		log.Warn("Failed to save question", zap.Error(err))
		return
	}

	reply := types.OracleMessage{
		ConversationID: conversationID,
		Role:           types.RoleOracle,
		Content:        answer.Text,
		HasKnowledge:   answer.Grounded,
		ResponseTimeMs: latencyMs,
		CreatedAt:      o.now(),
	}
	if answer.Grounded {
		reply.SourceChunkIDs = assembly.ChunkIDs
	}
	if _, err := o.store.AppendMessage(ctx, reply); err != nil {
		log.Warn("Failed to save answer", zap.Error(err))
	}
}
