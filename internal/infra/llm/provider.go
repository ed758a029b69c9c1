package llm

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by a provider asked for a capability it does not advertise.
var ErrUnsupported = errors.New("llm: capability not supported by provider")

// Provider is one backend the gateway can route to. Adapters (Ollama, echo) implement it
// so the gateway is never coupled to a specific LLM vendor.
type Provider interface {
	// Describe returns the provider's name, service level and capability map.
	Describe() Descriptor

	// ChatCompletion performs a non-streaming chat completion.
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatCompletionStream calls onToken for each fragment as the backend produces it and
	// returns once the completion is finished.
	ChatCompletionStream(ctx context.Context, req ChatRequest, onToken TokenFunc) error

	// Embed computes dense vector representations for a batch of texts.
	Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error)

	// HealthCheck returns nil if the provider is reachable and operational.
	HealthCheck(ctx context.Context) error
}
