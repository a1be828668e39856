package compactor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/provider"
)

type stubGenerator struct {
	text  string
	err   error
	calls int
	last  provider.Request
}

func (s *stubGenerator) Generate(_ context.Context, req provider.Request) (provider.Result, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return provider.Result{}, s.err
	}
	return provider.Result{Text: s.text, InputTokens: 100, OutputTokens: 50}, nil
}

// makeHistory builds an alternating user/assistant history where each message
// carries roughly tokensEach estimated tokens.
func makeHistory(count, tokensEach int) []provider.Message {
	messages := make([]provider.Message, 0, count)
	filler := strings.Repeat("x", tokensEach*4)
	for i := 0; i < count; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		messages = append(messages, provider.Message{Role: role, Content: fmt.Sprintf("msg %d %s", i, filler)})
	}
	return messages
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		content string
		want    int64
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.content); got != tc.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tc.content), got, tc.want)
		}
	}
}

func TestDecisionShortHistoryNeverCompacts(t *testing.T) {
	// Nine messages stay untouched no matter how large they are.
	messages := makeHistory(9, 100000)
	if got := GetCompactDecision(messages, nil); got != DecisionNoCompact {
		t.Fatalf("decision = %s, want %s", got, DecisionNoCompact)
	}
}

func TestDecisionBelowTokenThreshold(t *testing.T) {
	messages := makeHistory(20, 100)
	if got := GetCompactDecision(messages, nil); got != DecisionNoCompact {
		t.Fatalf("decision = %s, want %s", got, DecisionNoCompact)
	}
}

func TestDecisionRegenerateWithoutSummary(t *testing.T) {
	messages := makeHistory(20, 5000)
	if got := GetCompactDecision(messages, nil); got != DecisionRegenerate {
		t.Fatalf("decision = %s, want %s", got, DecisionRegenerate)
	}
}

func TestDecisionReuseWhenFewAppended(t *testing.T) {
	messages := makeHistory(20, 5000)
	existing := &Summary{Content: "earlier context", LastSummarizedMessageIndex: 13}
	// 20-1-13 = 6 appended since the last fold, within the reuse window.
	if got := GetCompactDecision(messages, existing); got != DecisionReuseExisting {
		t.Fatalf("decision = %s, want %s", got, DecisionReuseExisting)
	}
}

func TestDecisionRegenerateWhenManyAppended(t *testing.T) {
	messages := makeHistory(30, 5000)
	existing := &Summary{Content: "earlier context", LastSummarizedMessageIndex: 13}
	// 30-1-13 = 16 appended, past the reuse window.
	if got := GetCompactDecision(messages, existing); got != DecisionRegenerate {
		t.Fatalf("decision = %s, want %s", got, DecisionRegenerate)
	}
}

func TestComputeKeepCountUserBoundary(t *testing.T) {
	// Index 0 is user, so with 20 messages index 14 (even) is a user turn.
	messages := makeHistory(20, 10)
	if got := ComputeKeepCount(messages); got != RecentMessagesToKeep {
		t.Fatalf("keep = %d, want %d", got, RecentMessagesToKeep)
	}
}

func TestComputeKeepCountExtendsPastAssistantBoundary(t *testing.T) {
	// With 21 messages index 15 (odd) is assistant, so keep grows by one to
	// start the retained suffix on a user turn.
	messages := makeHistory(21, 10)
	if got := ComputeKeepCount(messages); got != RecentMessagesToKeep+1 {
		t.Fatalf("keep = %d, want %d", got, RecentMessagesToKeep+1)
	}
	suffix := messages[len(messages)-(RecentMessagesToKeep+1):]
	if suffix[0].Role != models.RoleUser {
		t.Fatalf("retained suffix starts with role %q, want %q", suffix[0].Role, models.RoleUser)
	}
}

func TestBuildCompactedMessages(t *testing.T) {
	recent := makeHistory(4, 10)
	out := BuildCompactedMessages("the gist", recent)
	if len(out) != 6 {
		t.Fatalf("len = %d, want 6", len(out))
	}
	if out[0].Role != models.RoleUser || !strings.Contains(out[0].Content, "the gist") {
		t.Errorf("first synthetic message = %+v", out[0])
	}
	if out[1].Role != models.RoleAssistant {
		t.Errorf("second synthetic role = %q, want assistant", out[1].Role)
	}
	if out[2].Content != recent[0].Content {
		t.Errorf("retained messages were not appended after the synthetic pair")
	}
}

func TestCompactNoCompactPassesThrough(t *testing.T) {
	gen := &stubGenerator{text: "unused"}
	c := New(gen, "gpt-4o-mini")

	messages := makeHistory(5, 10)
	result, err := c.Compact(context.Background(), models.ModeExplanation, messages, nil)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if result.WasCompacted || result.NewSummary != nil {
		t.Fatalf("short history was compacted: %+v", result)
	}
	if len(result.MessagesForAPI) != len(messages) {
		t.Fatalf("messages were modified: %d != %d", len(result.MessagesForAPI), len(messages))
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times on the no-compact path", gen.calls)
	}
}

func TestCompactRegenerateProducesSummary(t *testing.T) {
	gen := &stubGenerator{text: "project uses Go and Postgres"}
	c := New(gen, "gpt-4o-mini")

	messages := makeHistory(20, 5000)
	result, err := c.Compact(context.Background(), models.ModeGeneration, messages, nil)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !result.WasCompacted {
		t.Fatal("expected compaction")
	}
	if result.NewSummary == nil {
		t.Fatal("expected a new summary on the regenerate path")
	}
	if result.NewSummary.Content != "project uses Go and Postgres" {
		t.Errorf("summary content = %q", result.NewSummary.Content)
	}
	keep := ComputeKeepCount(messages)
	if result.NewSummary.LastSummarizedMessageIndex != len(messages)-keep-1 {
		t.Errorf("LastSummarizedMessageIndex = %d, want %d", result.NewSummary.LastSummarizedMessageIndex, len(messages)-keep-1)
	}
	if result.NewSummary.SummarizedMessageCount != result.NewSummary.LastSummarizedMessageIndex+1 {
		t.Errorf("SummarizedMessageCount = %d", result.NewSummary.SummarizedMessageCount)
	}
	if len(result.MessagesForAPI) != keep+2 {
		t.Errorf("api messages = %d, want %d", len(result.MessagesForAPI), keep+2)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	if result.InputTokens != 100 || result.OutputTokens != 50 {
		t.Errorf("summary tokens = %d/%d, want 100/50", result.InputTokens, result.OutputTokens)
	}
}

func TestCompactReuseSkipsGenerator(t *testing.T) {
	gen := &stubGenerator{text: "unused"}
	c := New(gen, "gpt-4o-mini")

	messages := makeHistory(20, 5000)
	existing := &Summary{Content: "old summary", LastSummarizedMessageIndex: 13, SummarizedMessageCount: 14}
	result, err := c.Compact(context.Background(), models.ModeExplanation, messages, existing)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !result.WasCompacted {
		t.Fatal("expected compaction via reuse")
	}
	if result.NewSummary != nil {
		t.Fatal("reuse path must not produce a new summary")
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times on the reuse path", gen.calls)
	}
	if !strings.Contains(result.MessagesForAPI[0].Content, "old summary") {
		t.Errorf("stored summary not injected: %q", result.MessagesForAPI[0].Content)
	}
}

func TestCompactMergesPriorSummaryForward(t *testing.T) {
	gen := &stubGenerator{text: "merged summary"}
	c := New(gen, "gpt-4o-mini")

	messages := makeHistory(40, 5000)
	existing := &Summary{Content: "decided on a React front end", LastSummarizedMessageIndex: 9}
	result, err := c.Compact(context.Background(), models.ModeBrainstorm, messages, existing)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if result.NewSummary == nil {
		t.Fatal("expected regeneration")
	}
	if !strings.Contains(gen.last.Messages[0].Content, "decided on a React front end") {
		t.Error("prior summary was not handed to the generator for merging")
	}
	if !strings.Contains(gen.last.System, "persona") {
		t.Errorf("brainstorm instruction = %q", gen.last.System)
	}
}

func TestCompactProviderFailurePropagates(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("upstream timeout")}
	c := New(gen, "gpt-4o-mini")

	messages := makeHistory(20, 5000)
	_, err := c.Compact(context.Background(), models.ModeExplanation, messages, nil)
	if err == nil {
		t.Fatal("expected the provider error to propagate")
	}
	if !strings.Contains(err.Error(), "upstream timeout") {
		t.Errorf("error = %v", err)
	}
}
