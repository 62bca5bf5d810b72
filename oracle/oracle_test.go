package oracle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portfolio-oracle/config"
	apperrors "portfolio-oracle/errors"
	"portfolio-oracle/rag"
	"portfolio-oracle/web/types"
)

const caseyProfile = "Casey holds the AWS Solutions Architect certification and builds data platforms."

func newTestOracle(t *testing.T, store ConversationStore, assembler ContextAssembler, completer Completer) *Oracle {
	t.Helper()
	return New(zap.NewNop(), store, assembler, newTestGenerator(completer, true), Options{MaxQuestionLength: 100}, nil)
}

func caseyAssembler(t *testing.T) *rag.Assembler {
	t.Helper()
	cache := rag.NewSourceCache(zap.NewNop(), []rag.Source{
		textSource{name: rag.SourceProfile, label: "PRIMARY SOURCE - PROFILE", text: caseyProfile},
	})
	scorer, err := rag.NewKeywordScorer(32)
	require.NoError(t, err)
	return rag.NewAssembler(zap.NewNop(), cache, scorer, rag.AssemblerConfig{
		Mode:     config.RetrievalModeRanked,
		MinScore: rag.DefaultMinScore,
	}, nil)
}

func TestAskGroundedEndToEnd(t *testing.T) {
	store := newMemoryStore()
	completer := &scriptedCompleter{reply: "The spirits reveal that Casey holds the AWS Solutions Architect certification."}
	o := newTestOracle(t, store, caseyAssembler(t), completer)

	result, err := o.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "What certifications does Casey have?", IP: "203.0.113.7"})
	require.NoError(t, err)

	assert.True(t, result.HadGrounding)
	assert.Contains(t, result.Answer, "AWS Solutions Architect")
	require.NotEmpty(t, result.Citations)
	assert.Equal(t, rag.SourceProfile, result.Citations[0].Source)
	assert.GreaterOrEqual(t, result.LatencyMs, int64(0))

	require.Equal(t, 1, completer.Calls())
	turns := completer.LastTurns()
	assert.Contains(t, turns[1].Content, caseyProfile)

	messages := store.messagesFor("s1")
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleUser, messages[0].Role)
	assert.Equal(t, "What certifications does Casey have?", messages[0].Content)
	assert.Equal(t, types.RoleOracle, messages[1].Role)
	assert.True(t, messages[1].HasKnowledge)
}

func TestAskUngroundedRefusesWithoutModel(t *testing.T) {
	store := newMemoryStore()
	completer := &scriptedCompleter{reply: "Casey's favorite color is blue."}
	o := newTestOracle(t, store, caseyAssembler(t), completer)

	result, err := o.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "What is Casey's favorite color?"})
	require.NoError(t, err)

	assert.False(t, result.HadGrounding)
	assert.Equal(t, testPrompts.Refusal, result.Answer)
	assert.Empty(t, result.Citations)
	assert.Zero(t, completer.Calls())

	messages := store.messagesFor("s1")
	require.Len(t, messages, 2)
	assert.False(t, messages[1].HasKnowledge)
	assert.Empty(t, messages[1].SourceChunkIDs)
}

func TestAskOverDocumentCorpus(t *testing.T) {
	tests := []struct {
		name         string
		question     string
		wantGrounded bool
	}{
		{name: "certifications grounded", question: "What certifications does Casey hold?", wantGrounded: true},
		{name: "favorite color refused", question: "What is Casey's favorite color?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corpus := newChunkedCorpus("Bio", types.DocTypeBio, "Casey is an AWS Solutions Architect with FedRAMP experience.")
			require.Len(t, corpus.chunkIDs(), 1)

			cache := rag.NewSourceCache(zap.NewNop(), []rag.Source{rag.NewDocumentSource(zap.NewNop(), corpus)})
			scorer, err := rag.NewKeywordScorer(32)
			require.NoError(t, err)
			assembler := rag.NewAssembler(zap.NewNop(), cache, scorer, rag.AssemblerConfig{
				Mode:     config.RetrievalModeRanked,
				MinScore: 0.05,
			}, nil)

			store := newMemoryStore()
			completer := &scriptedCompleter{reply: "Casey is an AWS Solutions Architect."}
			o := newTestOracle(t, store, assembler, completer)

			result, err := o.Ask(context.Background(), AskRequest{SessionID: "s1", Question: tt.question})
			require.NoError(t, err)
			messages := store.messagesFor("s1")
			require.Len(t, messages, 2)

			if !tt.wantGrounded {
				assert.False(t, result.HadGrounding)
				assert.Equal(t, testPrompts.Refusal, result.Answer)
				assert.Empty(t, result.Citations)
				assert.Zero(t, completer.Calls())
				assert.Empty(t, messages[1].SourceChunkIDs)
				return
			}

			assert.True(t, result.HadGrounding)
			require.Len(t, result.Citations, 1)
			assert.Equal(t, rag.SourceDocuments, result.Citations[0].Source)
			assert.Equal(t, "Bio", result.Citations[0].Title)
			assert.Equal(t, corpus.chunkIDs()[0], result.Citations[0].ChunkID)
			require.Equal(t, 1, completer.Calls())
			assert.Contains(t, completer.LastTurns()[1].Content, "FedRAMP")
			assert.True(t, messages[1].HasKnowledge)
			assert.Equal(t, corpus.chunkIDs(), messages[1].SourceChunkIDs)
		})
	}
}

func TestAskRejectsInvalidInput(t *testing.T) {
	o := newTestOracle(t, newMemoryStore(), fixedAssembler{}, &scriptedCompleter{})

	tests := []struct {
		name string
		req  AskRequest
	}{
		{name: "missing session", req: AskRequest{Question: "hello"}},
		{name: "blank question", req: AskRequest{SessionID: "s1", Question: "  \n "}},
		{name: "too long", req: AskRequest{SessionID: "s1", Question: strings.Repeat("é", 101)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Ask(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidInput(err), "got %v", err)
		})
	}
}

func TestAskAcceptsQuestionAtLimit(t *testing.T) {
	o := newTestOracle(t, newMemoryStore(), fixedAssembler{}, &scriptedCompleter{})
	_, err := o.Ask(context.Background(), AskRequest{SessionID: "s1", Question: strings.Repeat("é", 100)})
	assert.NoError(t, err)
}

func TestAskSurvivesStoreFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memoryStore)
	}{
		{name: "conversation lookup fails", setup: func(s *memoryStore) { s.conversationErr = errStoreDown }},
		{name: "history load fails", setup: func(s *memoryStore) { s.recentErr = errStoreDown }},
		{name: "append fails", setup: func(s *memoryStore) { s.appendErr = errStoreDown }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			tt.setup(store)
			completer := &scriptedCompleter{reply: "Casey holds the AWS certification."}
			o := newTestOracle(t, store, fixedAssembler{assembly: groundedAssembly}, completer)

			result, err := o.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "Certifications?"})
			require.NoError(t, err)
			assert.True(t, result.HadGrounding)
			assert.Equal(t, "Casey holds the AWS certification.", result.Answer)
		})
	}
}

func TestAskReplaysHistory(t *testing.T) {
	store := newMemoryStore()
	completer := &scriptedCompleter{reply: "An answer from the beyond."}
	o := newTestOracle(t, store, fixedAssembler{assembly: groundedAssembly}, completer)
	ctx := context.Background()

	_, err := o.Ask(ctx, AskRequest{SessionID: "s1", Question: "First question?"})
	require.NoError(t, err)
	_, err = o.Ask(ctx, AskRequest{SessionID: "s1", Question: "Second question?"})
	require.NoError(t, err)

	turns := completer.LastTurns()
	require.Len(t, turns, 2+2+1)
	assert.Equal(t, types.Turn{Role: types.TurnUser, Content: "First question?"}, turns[2])
	assert.Equal(t, types.Turn{Role: types.TurnAssistant, Content: "An answer from the beyond."}, turns[3])
	assert.Equal(t, "Second question?", turns[4].Content)

	// Another session starts clean.
	_, err = o.Ask(ctx, AskRequest{SessionID: "s2", Question: "Third question?"})
	require.NoError(t, err)
	assert.Len(t, completer.LastTurns(), 3)
}

func TestAskRecordsGroundedChunks(t *testing.T) {
	store := newMemoryStore()
	assembly := groundedAssembly
	assembly.ChunkIDs = caseyChunkIDs
	o := newTestOracle(t, store, fixedAssembler{assembly: assembly}, &scriptedCompleter{reply: "Indeed."})

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{start, start.Add(250 * time.Millisecond), start.Add(300 * time.Millisecond)}
	o.now = func() time.Time {
		next := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return next
	}

	result, err := o.Ask(context.Background(), AskRequest{SessionID: "s1", Question: "Certifications?"})
	require.NoError(t, err)
	assert.Equal(t, int64(250), result.LatencyMs)

	messages := store.messagesFor("s1")
	require.Len(t, messages, 2)
	assert.Equal(t, start, messages[0].CreatedAt)
	assert.Equal(t, caseyChunkIDs, messages[1].SourceChunkIDs)
	assert.Equal(t, int64(250), messages[1].ResponseTimeMs)
	assert.True(t, messages[1].CreatedAt.After(messages[0].CreatedAt))
}

func TestGetHistory(t *testing.T) {
	store := newMemoryStore()
	o := newTestOracle(t, store, fixedAssembler{assembly: groundedAssembly}, &scriptedCompleter{reply: "Answer."})
	ctx := context.Background()

	entries, err := o.GetHistory(ctx, "fresh")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = o.Ask(ctx, AskRequest{SessionID: "s1", Question: "Question?"})
	require.NoError(t, err)

	entries, err = o.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.RoleUser, entries[0].Role)
	assert.Equal(t, "Question?", entries[0].Content)
	assert.Equal(t, types.RoleOracle, entries[1].Role)
	assert.Equal(t, "Answer.", entries[1].Content)
}

func TestGetHistoryErrors(t *testing.T) {
	store := newMemoryStore()
	o := newTestOracle(t, store, fixedAssembler{}, &scriptedCompleter{})

	_, err := o.GetHistory(context.Background(), " ")
	assert.True(t, apperrors.IsInvalidInput(err))

	store.recentErr = errStoreDown
	_, err = o.GetHistory(context.Background(), "s1")
	assert.True(t, apperrors.IsServiceUnavailable(err))
}
