package compactor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/metrics"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/provider"
	log "github.com/sirupsen/logrus"
)

// Compaction tuning constants.
const (
	// MinMessagesForCompact is the minimum history length considered for compaction.
	MinMessagesForCompact = 10
	// TokenThreshold is the estimated-token level that triggers compaction.
	TokenThreshold = 40000
	// RecentMessagesToKeep is the base number of trailing messages kept verbatim.
	RecentMessagesToKeep = 6
	// summaryCharBudget caps the requested summary length (by instruction only).
	summaryCharBudget = 500
)

// Decision values for a compaction pass.
type Decision string

const (
	// DecisionNoCompact leaves the history untouched.
	DecisionNoCompact Decision = "no_compact"
	// DecisionReuseExisting injects the stored summary without regenerating it.
	DecisionReuseExisting Decision = "reuse_existing"
	// DecisionRegenerate produces a fresh summary folding in older messages.
	DecisionRegenerate Decision = "regenerate"
)

// Summary is the compact-summary metadata attached to a conversation.
type Summary struct {
	Content                    string    // Generated summary text.
	GeneratedAt                time.Time // Generation time.
	LastSummarizedMessageIndex int       // 0-based index of the last folded message.
	SummarizedMessageCount     int       // Messages folded, = index+1.
	SummaryTokens              int64     // Estimated token cost of the summary text.
}

// Result is the compaction output contract. NewSummary is set only on the
// regenerate path and must be persisted by the caller. InputTokens and
// OutputTokens report what the summary model consumed on that path.
type Result struct {
	MessagesForAPI []provider.Message
	NewSummary     *Summary
	WasCompacted   bool
	InputTokens    int64
	OutputTokens   int64
}

// EstimateTokens approximates the token cost of a text as ceil(len/4).
func EstimateTokens(content string) int64 {
	return int64((len(content) + 3) / 4)
}

// estimateTotalTokens sums the estimated token cost of all message content.
func estimateTotalTokens(messages []provider.Message) int64 {
	var total int64
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// GetCompactDecision decides whether the history needs compaction and
// whether an existing summary can be reused.
func GetCompactDecision(messages []provider.Message, existing *Summary) Decision {
	if len(messages) < MinMessagesForCompact {
		return DecisionNoCompact
	}
	if estimateTotalTokens(messages) < TokenThreshold {
		return DecisionNoCompact
	}
	if existing != nil {
		appended := len(messages) - 1 - existing.LastSummarizedMessageIndex
		if appended <= 2*RecentMessagesToKeep {
			return DecisionReuseExisting
		}
	}
	return DecisionRegenerate
}

// ComputeKeepCount returns how many trailing messages to keep verbatim. The
// retained suffix must begin with a user message: the injected summary prefix
// is itself a synthetic [user, assistant] pair, and providers reject adjacent
// assistant turns.
func ComputeKeepCount(messages []provider.Message) int {
	keep := RecentMessagesToKeep
	if keep > len(messages)-1 {
		keep = len(messages) - 1
	}
	if keep < 0 {
		keep = 0
	}
	if keep > 0 && messages[len(messages)-keep].Role == models.RoleAssistant {
		keep++
	}
	return keep
}

// BuildCompactedMessages assembles the provider-bound list: a synthetic
// summary exchange followed by the retained recent messages. The synthetic
// pair is never persisted as real conversation messages.
func BuildCompactedMessages(summaryContent string, recent []provider.Message) []provider.Message {
	out := make([]provider.Message, 0, len(recent)+2)
	out = append(out,
		provider.Message{
			Role:    models.RoleUser,
			Content: "[Summary of the earlier part of this conversation]\n" + summaryContent,
		},
		provider.Message{
			Role:    models.RoleAssistant,
			Content: "Understood. I will build on that context.",
		},
	)
	return append(out, recent...)
}

// Compactor prepares provider-bound message lists, replacing older turns with
// a generated summary once the history grows past the thresholds.
type Compactor struct {
	gen     provider.TextGenerator
	model   string
	metrics *metrics.Metrics
}

// New constructs a Compactor using the given lower-cost summary model.
func New(gen provider.TextGenerator, model string) *Compactor {
	return &Compactor{gen: gen, model: model, metrics: metrics.Get()}
}

// Model returns the summary model name.
func (c *Compactor) Model() string {
	return c.model
}

// Compact applies the compaction decision to the history. On the regenerate
// path it calls the summary model once; on provider failure the error
// propagates and the caller must fall back to the uncompacted full list.
func (c *Compactor) Compact(ctx context.Context, mode string, messages []provider.Message, existing *Summary) (Result, error) {
	decision := GetCompactDecision(messages, existing)
	c.metrics.CompactionTotal.WithLabelValues(string(decision)).Inc()

	switch decision {
	case DecisionNoCompact:
		return Result{MessagesForAPI: messages}, nil

	case DecisionReuseExisting:
		keep := ComputeKeepCount(messages)
		return Result{
			MessagesForAPI: BuildCompactedMessages(existing.Content, messages[len(messages)-keep:]),
			WasCompacted:   true,
		}, nil

	default:
		keep := ComputeKeepCount(messages)
		splitIndex := len(messages) - keep
		if splitIndex <= 0 {
			return Result{MessagesForAPI: messages}, nil
		}

		started := time.Now()
		summaryText, usage, errSummarize := c.summarize(ctx, mode, messages[:splitIndex], existing)
		c.metrics.CompactionDuration.Observe(time.Since(started).Seconds())
		if errSummarize != nil {
			return Result{}, errSummarize
		}

		lastIndex := splitIndex - 1
		if existing != nil && existing.LastSummarizedMessageIndex > lastIndex {
			// The folded index never moves backwards across regenerations.
			lastIndex = existing.LastSummarizedMessageIndex
		}
		newSummary := &Summary{
			Content:                    summaryText,
			GeneratedAt:                time.Now().UTC(),
			LastSummarizedMessageIndex: lastIndex,
			SummarizedMessageCount:     lastIndex + 1,
			SummaryTokens:              EstimateTokens(summaryText),
		}
		return Result{
			MessagesForAPI: BuildCompactedMessages(summaryText, messages[splitIndex:]),
			NewSummary:     newSummary,
			WasCompacted:   true,
			InputTokens:    usage.InputTokens,
			OutputTokens:   usage.OutputTokens,
		}, nil
	}
}

// summarize folds older messages into a single summary via the summary model.
// A prior summary is merged forward rather than discarded.
func (c *Compactor) summarize(ctx context.Context, mode string, older []provider.Message, existing *Summary) (string, provider.Result, error) {
	var sb strings.Builder
	if existing != nil && existing.Content != "" {
		sb.WriteString("Existing summary to merge forward:\n")
		sb.WriteString(existing.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Conversation to summarize:\n")
	for _, m := range older {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	result, errGenerate := c.gen.Generate(ctx, provider.Request{
		Model:     c.model,
		System:    summaryInstruction(mode),
		Messages:  []provider.Message{{Role: models.RoleUser, Content: sb.String()}},
		MaxTokens: 300,
	})
	if errGenerate != nil {
		log.WithError(errGenerate).Warn("compactor: summary generation failed")
		return "", provider.Result{}, fmt.Errorf("compactor: summarize: %w", errGenerate)
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", provider.Result{}, fmt.Errorf("compactor: empty summary")
	}
	return text, result, nil
}

// summaryInstruction returns the mode-specific instruction template.
func summaryInstruction(mode string) string {
	base := fmt.Sprintf("Summarize the conversation below in at most %d characters. Merge the existing summary forward if one is given; never drop facts it contains.", summaryCharBudget)
	switch mode {
	case models.ModeExplanation:
		return base + " Retain the concepts already explained, the learner's current understanding, and open questions."
	case models.ModeGeneration:
		return base + " Retain the requirements stated so far, the code produced, and any constraints or bugs discussed."
	case models.ModeBrainstorm:
		return base + " Retain decided-upon facts such as the target persona, the chosen tech stack, and rejected directions."
	default:
		return base
	}
}
