package provider

import "context"

// Message is one role-tagged entry of a provider-bound message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one text-generation call.
type Request struct {
	Model     string    // Model identifier.
	System    string    // System instructions, optional.
	Messages  []Message // Ordered role-alternating message list.
	MaxTokens int       // Output token cap; 0 leaves the provider default.
}

// Result carries generated text plus token-usage counters.
type Result struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// TextGenerator is the text-generation capability consumed by the
// conversation, compaction and quiz components.
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
