package oracle

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"portfolio-oracle/llmclient"
	"portfolio-oracle/metrics"
	"portfolio-oracle/prompts"
	"portfolio-oracle/rag"
	"portfolio-oracle/web/format"
	"portfolio-oracle/web/types"
)

// Completer is a generative completion provider.
type Completer interface {
	Complete(ctx context.Context, turns []types.Turn, params llmclient.Params) (string, error)
}

// GeneratorConfig bounds one generation call.
type GeneratorConfig struct {
	HistoryTurns int
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	// StrictGrounding answers an ungrounded question with the refusal
	// without calling the model.
	StrictGrounding bool
}

// Answer is the user-visible reply. Grounded is false for refusals and
// every fallback.
type Answer struct {
	Text     string
	Grounded bool
	// FailureKind is set when the provider call failed.
	FailureKind llmclient.ErrorKind
}

// Generator produces answers from assembled context and recent history.
type Generator struct {
	completer Completer
	prompts   prompts.Set
	cfg       GeneratorConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewGenerator(logger *zap.Logger, completer Completer, set prompts.Set, cfg GeneratorConfig, m *metrics.Metrics) *Generator {
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 6
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Generator{
		completer: completer,
		prompts:   set,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

// Generate never fails: provider errors become themed fallback text and are
// only logged.
func (g *Generator) Generate(ctx context.Context, query string, assembly rag.Assembly, history []types.Turn) Answer {
	if !assembly.Grounded && g.cfg.StrictGrounding {
		g.logger.Debug("No grounding for question, refusing without a model call")
		return Answer{Text: g.prompts.Refusal}
	}

	turns := g.BuildTurns(query, assembly, history)

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	text, err := g.completer.Complete(callCtx, turns, llmclient.Params{
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		kind := llmclient.KindOf(err)
		if kind == "" {
			kind = llmclient.KindNetwork
		}
		g.metrics.GenerationFailureInc(string(kind))
		g.logger.Error("Answer generation failed", zap.String("kind", string(kind)), zap.Error(err))

		if kind == llmclient.KindAuth {
			return Answer{Text: g.prompts.NotConfigured, FailureKind: kind}
		}
		return Answer{Text: g.prompts.Fallback, FailureKind: kind}
	}

	text = format.PreprocessAssistantText(text)
	if text == "" {
		g.metrics.GenerationFailureInc(string(llmclient.KindMalformed))
		return Answer{Text: g.prompts.EmptyReading, FailureKind: llmclient.KindMalformed}
	}

	// A model that declines despite context has not grounded its answer.
	grounded := assembly.Grounded && !g.isRefusal(text)
	return Answer{Text: text, Grounded: grounded}
}

// BuildTurns orders the prompt: persona, context (or the no-context note),
// the most recent history oldest first, then the question.
func (g *Generator) BuildTurns(query string, assembly rag.Assembly, history []types.Turn) []types.Turn {
	turns := []types.Turn{{Role: types.TurnSystem, Content: g.prompts.System}}

	if strings.TrimSpace(assembly.Context) != "" {
		turns = append(turns, types.Turn{
			Role:    types.TurnSystem,
			Content: g.prompts.ContextHeader + "\n\n" + assembly.Context,
		})
	} else {
		turns = append(turns, types.Turn{Role: types.TurnSystem, Content: g.prompts.NoContext})
	}

	if n := len(history); n > g.cfg.HistoryTurns {
		history = history[n-g.cfg.HistoryTurns:]
	}
	for _, h := range history {
		role := types.TurnUser
		if h.Role != types.TurnUser {
			role = types.TurnAssistant
		}
		turns = append(turns, types.Turn{Role: role, Content: h.Content})
	}

	return append(turns, types.Turn{Role: types.TurnUser, Content: query})
}

func (g *Generator) isRefusal(text string) bool {
	return strings.Contains(normalizeReply(text), normalizeReply(g.prompts.Refusal))
}

func normalizeReply(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
