// Package llm holds the provider backends the development gateway brokers.
// Types here are shared between the Provider interface and its adapters.
package llm

// Capability names a provider may advertise.
const (
	CapabilityChat      = "chat"
	CapabilityEmbedding = "embedding"
	CapabilityAgents    = "agents"
	CapabilityRAG       = "rag"
)

// Service levels, from best to most restricted.
const (
	ServiceLevel1 = "LEVEL_1"
	ServiceLevel2 = "LEVEL_2"
	ServiceLevel3 = "LEVEL_3"
)

// DefaultSystemPrompt is prepended to every single-prompt chat.
const DefaultSystemPrompt = "You are a helpful assistant."

// Descriptor is how a provider presents itself to clients.
type Descriptor struct {
	Name         string
	ServiceLevel string
	Capabilities map[string]bool
}

// Supports reports whether capability is advertised and enabled.
func (d Descriptor) Supports(capability string) bool {
	return d.Capabilities[capability]
}

// Message is a single turn in a conversation.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatRequest is the input for a chat completion, streaming or not.
type ChatRequest struct {
	// Model overrides the provider default when non-empty.
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// PromptRequest builds the two-turn conversation used for a bare prompt.
func PromptRequest(model, prompt string) ChatRequest {
	return ChatRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: DefaultSystemPrompt},
			{Role: "user", Content: prompt},
		},
	}
}

// LastUserMessage returns the content of the most recent user turn.
func (r ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ChatResponse is the output of a non-streaming chat completion.
type ChatResponse struct {
	Content    string
	StopReason string // "stop" | "length" | "error"
}

// TokenFunc receives each streamed fragment in order. Returning an error aborts the stream.
type TokenFunc func(fragment string) error

// EmbedRequest is the input for a batch embedding call.
type EmbedRequest struct {
	// Model overrides the provider default when non-empty.
	Model string
	Texts []string
}

// EmbedResponse is the output of a batch embedding call.
// Embeddings[i] corresponds to Texts[i] in the request.
type EmbedResponse struct {
	Embeddings [][]float32
}
