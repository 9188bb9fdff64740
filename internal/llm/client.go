// Package llm provides the generation client used by the pipeline stages.
//
// The output shape of every call is explicit in the method used: Complete and
// CompleteWithSystem return free text, CompleteWithSchema enforces a JSON
// schema on the response, and CompleteWithStreaming delivers free-text deltas
// over a channel. Callers never guess the shape from prompt contents.
package llm

import "context"

// Client is the generation interface consumed by the pipeline.
type Client interface {
	// Complete sends a prompt and returns the free-text completion.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system message and returns
	// the free-text completion.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteWithSchema sends a prompt and enforces a JSON schema on the
	// response. The returned string is the raw JSON document.
	CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error)

	// CompleteWithStreaming sends a prompt and returns channels of
	// incremental free-text deltas. The content channel closes when the
	// generation finishes; at most one error is delivered on the error
	// channel.
	CompleteWithStreaming(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)
}
