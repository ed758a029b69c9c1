package session

import "context"

// Gateway is the RPC surface of the remote LLM gateway. Every method blocks until the
// gateway answers or ctx ends. Implementations live in internal/infra/gateway.
type Gateway interface {
	// RegisterClient announces the client. Must succeed before any other call.
	RegisterClient(ctx context.Context, name, clientID string) (Ack, error)

	// ListProviders enumerates every provider the gateway brokers.
	ListProviders(ctx context.Context) ([]ProviderDescriptor, error)

	// GetProviderCapabilities returns one provider's descriptor as the gateway sees it.
	GetProviderCapabilities(ctx context.Context, clientID, provider string) (ProviderDescriptor, error)

	// SetPreferredProviders declares which capabilities the client wants per provider.
	SetPreferredProviders(ctx context.Context, clientID string, selection CapabilitySelection) (Ack, error)

	// SyncChat returns the full completion for req.
	SyncChat(ctx context.Context, req ChatRequest) (string, error)

	// AsyncChat starts a server-streaming completion. The stream lives as long as ctx.
	AsyncChat(ctx context.Context, req ChatRequest) (TokenStream, error)

	// GetEmbedding returns the embedding vector of text.
	GetEmbedding(ctx context.Context, clientID, text string) ([]float32, error)

	// UnregisterClient releases the client identity. Calling it twice must not fail.
	UnregisterClient(ctx context.Context, clientID string) (Ack, error)
}

// TokenStream yields completion fragments in arrival order.
//
// Next returns io.EOF once the gateway signals end-of-stream; any other error is an error
// event and also ends the stream. A stream is single-pass and cannot be restarted.
type TokenStream interface {
	Next() (string, error)
}
