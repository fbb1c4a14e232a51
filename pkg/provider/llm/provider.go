// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, a
// local Ollama instance) and exposes a uniform interface for the assistant's
// chat loop to perform completions, estimate tokens, and inspect model
// capabilities without coupling to any specific SDK. One Provider instance is
// bound to one model; the chat layer holds a fast and a deep instance and
// picks per turn.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimit marks a provider rejection due to rate limiting. The chat
// layer retries these with backoff; implementations must wrap it (errors.Is)
// when the backend signals HTTP 429 or an equivalent throttle condition.
var ErrRateLimit = errors.New("llm: rate limited")

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Provided as a
	// convenience; some providers return it directly.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Tools is the set of function/tool definitions offered to the model. The
	// model may choose to call one or more of them in its response.
	// Callers should check Capabilities().SupportsToolCalling first.
	Tools []ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0]. A value
	// of 0.0 typically requests greedy (argmax) decoding.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default (usually the model's MaxOutputTokens).
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. If the provider does not natively support a
	// dedicated system prompt, implementors should prepend it as a
	// "system"-role message.
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion. A single
// chunk may carry text, a finish signal, tool calls, an error, or any
// combination thereof.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty if the
	// chunk carries only ToolCalls, a FinishReason, or an Err.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped; see the Finish* constants. Empty for non-final chunks.
	FinishReason string

	// ToolCalls contains fully accumulated tool invocations the model is
	// requesting. Implementations assemble streaming fragments and attach the
	// complete set to the finishing chunk.
	ToolCalls []ToolCall

	// Err is set alongside FinishReason == FinishError when the stream failed
	// mid-flight. Implementations classify rate limiting by wrapping
	// [ErrRateLimit] so callers can branch with errors.Is.
	Err error
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model. The caller
	// is responsible for executing them and appending the results to the
	// conversation.
	ToolCalls []ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend, bound to one model.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason == FinishError and a non-nil Err; the initial error return
	// is non-nil only for failures that prevent the stream from starting
	// (e.g., invalid credentials, malformed request).
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response. It is
	// a convenience wrapper around StreamCompletion for callers that do not
	// need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens the given message list would
	// consume in the model's context window. Used for model-tier selection;
	// the result need not be exact but should not undercount badly.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports. The result is assumed to be constant for the
	// lifetime of the Provider instance.
	Capabilities() ModelCapabilities

	// Model returns the model identifier this provider is bound to, for
	// logging and conversation archival.
	Model() string
}
