// OpenAI-compatible HTTP adapter. Works against api.openai.com and any service exposing
// the same REST surface under its own base URL:
//   - xAI Grok          https://api.x.ai/v1
//   - Google Gemini     https://generativelanguage.googleapis.com/v1beta/openai
//   - Anthropic Claude  https://api.anthropic.com/v1
//
// Endpoints used, relative to the base URL:
//   - POST /chat/completions  chat completion, buffered or streamed as SSE
//   - POST /embeddings        batch embedding
//   - GET  /models            health check

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOpenAIBaseURL is used when OpenAIConfig.BaseURL is empty.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

const sseDone = "[DONE]"

// OpenAIConfig describes one OpenAI-compatible provider.
type OpenAIConfig struct {
	Name         string // provider name clients select; "openai" when empty
	ServiceLevel string // ServiceLevel2 when empty
	BaseURL      string // API root including the version path; DefaultOpenAIBaseURL when empty
	APIKey       string // sent as a bearer token when set
	ChatModel    string
	EmbedModel   string        // embedding is advertised only when set
	Timeout      time.Duration // per request, 0 for none; streams are bounded by ctx only
}

// OpenAIProvider implements Provider against the OpenAI chat and embeddings API.
type OpenAIProvider struct {
	desc       Descriptor
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	timeout    time.Duration
	httpClient *http.Client
}

// NewOpenAIProvider creates an OpenAIProvider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	level := cfg.ServiceLevel
	if level == "" {
		level = ServiceLevel2
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAIProvider{
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
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
	}
}

// ─── wire types ──────────────────────────────────────────────────────────────

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *openAIError `json:"error,omitempty"`
}

// ─── Provider implementation ─────────────────────────────────────────────────

func (p *OpenAIProvider) Describe() Descriptor { return p.desc }

// ChatCompletion performs a buffered chat via POST /chat/completions.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	body, err := p.chatBody(req, false)
	if err != nil {
		return nil, err
	}
	respBody, err := p.doPost(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp openAIChatResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s chat: %s", p.desc.Name, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat: response has no choices", p.desc.Name)
	}
	return &ChatResponse{
		Content:    resp.Choices[0].Message.Content,
		StopReason: resp.Choices[0].FinishReason,
	}, nil
}

// ChatCompletionStream posts with stream=true and reads server-sent events until the
// "[DONE]" sentinel.
func (p *OpenAIProvider) ChatCompletionStream(ctx context.Context, req ChatRequest, onToken TokenFunc) error {
	body, err := p.chatBody(req, true)
	if err != nil {
		return err
	}
	respBody, err := p.doPost(ctx, "/chat/completions", body)
	if err != nil {
		return err
	}
	defer respBody.Close()

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 2<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == sseDone {
			return nil
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("%s chat stream: decode: %w", p.desc.Name, err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("%s chat stream: %s", p.desc.Name, chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onToken(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s chat stream: %w", p.desc.Name, err)
	}
	return fmt.Errorf("%s chat stream: ended without %s", p.desc.Name, sseDone)
}

// Embed computes all embeddings in one POST /embeddings call.
func (p *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	if !p.desc.Supports(CapabilityEmbedding) {
		return nil, fmt.Errorf("%s embed: %w", p.desc.Name, ErrUnsupported)
	}
	if len(req.Texts) == 0 {
		return &EmbedResponse{Embeddings: [][]float32{}}, nil
	}

	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	model := req.Model
	if model == "" {
		model = p.embedModel
	}
	body, err := json.Marshal(openAIEmbedRequest{Model: model, Input: req.Texts})
	if err != nil {
		return nil, err
	}
	respBody, err := p.doPost(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp openAIEmbedResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s embed: %s", p.desc.Name, resp.Error.Message)
	}
	if len(resp.Data) != len(req.Texts) {
		return nil, fmt.Errorf("%s embed: got %d embedding(s) for %d text(s)", p.desc.Name, len(resp.Data), len(req.Texts))
	}

	embeddings := make([][]float32, len(req.Texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("%s embed: index %d out of range", p.desc.Name, d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return &EmbedResponse{Embeddings: embeddings}, nil
}

// HealthCheck calls GET /models.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("%s healthcheck: build request: %w", p.desc.Name, err)
	}
	p.authorize(req)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s healthcheck: %w", p.desc.Name, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s healthcheck: status %d", p.desc.Name, resp.StatusCode)
	}
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (p *OpenAIProvider) chatBody(req ChatRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.chatModel
	}
	msgs := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openAIMessage(m)
	}
	return json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    msgs,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
}

func (p *OpenAIProvider) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *OpenAIProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// doPost returns the body of a 2xx response. Error bodies in the OpenAI shape are folded
// into the returned error.
func (p *OpenAIProvider) doPost(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s post %s: build request: %w", p.desc.Name, path, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s post %s: %w", p.desc.Name, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close() //nolint:errcheck
		var wrapped struct {
			Error *openAIError `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
			return nil, fmt.Errorf("%s post %s: status %d: %s", p.desc.Name, path, resp.StatusCode, wrapped.Error.Message)
		}
		return nil, fmt.Errorf("%s post %s: status %d", p.desc.Name, path, resp.StatusCode)
	}
	return resp.Body, nil
}
