// Ollama HTTP adapter.
// Endpoints used:
//   - POST /api/embeddings  single text embedding
//   - POST /api/chat        chat completion, buffered or streamed as NDJSON
//   - GET  /api/tags        health check (lists available models)

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
)

// OllamaConfig describes one Ollama-backed provider.
type OllamaConfig struct {
	Name         string // provider name clients select; "ollama" when empty
	ServiceLevel string // ServiceLevel2 when empty
	BaseURL      string
	ChatModel    string
	EmbedModel   string        // embedding is advertised only when set
	Timeout      time.Duration // per request, 0 for none; streams are bounded by ctx only
}

// OllamaProvider implements Provider against a running Ollama instance.
type OllamaProvider struct {
	desc       Descriptor
	baseURL    string
	chatModel  string
	embedModel string
	timeout    time.Duration
	httpClient *http.Client
}

// NewOllamaProvider creates an OllamaProvider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	name := cfg.Name
	if name == "" {
		name = "ollama"
	}
	level := cfg.ServiceLevel
	if level == "" {
		level = ServiceLevel2
	}
	return &OllamaProvider{
		desc: Descriptor{
			Name:         name,
			ServiceLevel: level,
			Capabilities: map[string]bool{
				CapabilityChat:      true,
				CapabilityEmbedding: cfg.EmbedModel != "",
				CapabilityAgents:    false,
				CapabilityRAG:       false,
			},
		},
		baseURL:    cfg.BaseURL,
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
	}
}

// ─── internal Ollama JSON types ──────────────────────────────────────────────

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message    ollamaChatMessage `json:"message"`
	DoneReason string            `json:"done_reason"`
	Done       bool              `json:"done"`
	Error      string            `json:"error,omitempty"`
}

// ─── Provider implementation ─────────────────────────────────────────────────

func (p *OllamaProvider) Describe() Descriptor { return p.desc }

// Embed computes embeddings for each text via POST /api/embeddings, one call per text.
func (p *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	if !p.desc.Supports(CapabilityEmbedding) {
		return nil, fmt.Errorf("ollama embed: %w", ErrUnsupported)
	}
	if len(req.Texts) == 0 {
		return &EmbedResponse{Embeddings: [][]float32{}}, nil
	}

	model := req.Model
	if model == "" {
		model = p.embedModel
	}

	embeddings := make([][]float32, 0, len(req.Texts))
	for _, text := range req.Texts {
		vec, err := p.embedOne(ctx, model, text)
		if err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		embeddings = append(embeddings, vec)
	}
	return &EmbedResponse{Embeddings: embeddings}, nil
}

func (p *OllamaProvider) embedOne(ctx context.Context, model, text string) ([]float32, error) {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, err
	}

	respBody, err := p.doPost(ctx, "/api/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var ollamaResp ollamaEmbedResponse
	if err := json.NewDecoder(respBody).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return ollamaResp.Embedding, nil
}

// ChatCompletion performs a non-streaming chat via POST /api/chat.
func (p *OllamaProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	body, err := p.chatBody(req, false)
	if err != nil {
		return nil, err
	}

	respBody, err := p.doPost(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var ollamaResp ollamaChatResponse
	if err := json.NewDecoder(respBody).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if ollamaResp.Error != "" {
		return nil, fmt.Errorf("ollama chat: %s", ollamaResp.Error)
	}
	return &ChatResponse{
		Content:    ollamaResp.Message.Content,
		StopReason: ollamaResp.DoneReason,
	}, nil
}

// ChatCompletionStream posts with stream=true and decodes one JSON object per line until
// an object with done=true arrives.
func (p *OllamaProvider) ChatCompletionStream(ctx context.Context, req ChatRequest, onToken TokenFunc) error {
	body, err := p.chatBody(req, true)
	if err != nil {
		return err
	}

	respBody, err := p.doPost(ctx, "/api/chat", body)
	if err != nil {
		return err
	}
	defer respBody.Close()

	dec := json.NewDecoder(respBody)
	for {
		var chunk ollamaChatResponse
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("ollama chat stream: ended without done")
			}
			return fmt.Errorf("ollama chat stream: decode: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama chat stream: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onToken(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}

func (p *OllamaProvider) chatBody(req ChatRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.chatModel
	}

	msgs := make([]ollamaChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollamaChatMessage(m)
	}

	return json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
		Options:  buildChatOptions(req),
	})
}

// buildChatOptions converts ChatRequest fields into Ollama options map.
func buildChatOptions(req ChatRequest) map[string]any {
	opts := map[string]any{}
	if req.Temperature != 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens != 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// HealthCheck calls GET /api/tags and returns nil if Ollama is reachable.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama healthcheck: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama healthcheck: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama healthcheck: status %d", resp.StatusCode)
	}
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (p *OllamaProvider) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// doPost sends a POST request to baseURL+path and returns the response body.
// Caller is responsible for closing the returned ReadCloser.
func (p *OllamaProvider) doPost(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama post %s: build request: %w", path, err)
	}
	req.Header.Set(headerContentType, mimeJSON)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama post %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close() //nolint:errcheck
		return nil, fmt.Errorf("ollama post %s: status %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}
