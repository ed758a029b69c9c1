package llm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/zeebo/blake3"
)

// DefaultEchoDimensions is the embedding width of an EchoProvider built with dims <= 0.
const DefaultEchoDimensions = 8

// EchoProvider is an offline backend: completions repeat the last user message, streams
// split it after each space, and embeddings are derived from a BLAKE3 hash of the text.
// Every answer is deterministic.
type EchoProvider struct {
	desc Descriptor
	dims int
}

// NewEchoProvider returns an EchoProvider advertising chat and embedding.
func NewEchoProvider(name, serviceLevel string, dims int) *EchoProvider {
	if dims <= 0 {
		dims = DefaultEchoDimensions
	}
	if serviceLevel == "" {
		serviceLevel = ServiceLevel3
	}
	return &EchoProvider{
		desc: Descriptor{
			Name:         name,
			ServiceLevel: serviceLevel,
			Capabilities: map[string]bool{
				CapabilityChat:      true,
				CapabilityEmbedding: true,
				CapabilityAgents:    false,
				CapabilityRAG:       false,
			},
		},
		dims: dims,
	}
}

// WithCapabilities overrides the advertised capability map.
func (p *EchoProvider) WithCapabilities(caps map[string]bool) *EchoProvider {
	cp := make(map[string]bool, len(caps))
	for k, v := range caps {
		cp[k] = v
	}
	p.desc.Capabilities = cp
	return p
}

func (p *EchoProvider) Describe() Descriptor { return p.desc }

func (p *EchoProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ChatResponse{Content: req.LastUserMessage(), StopReason: "stop"}, nil
}

func (p *EchoProvider) ChatCompletionStream(ctx context.Context, req ChatRequest, onToken TokenFunc) error {
	for _, fragment := range strings.SplitAfter(req.LastUserMessage(), " ") {
		if fragment == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onToken(fragment); err != nil {
			return err
		}
	}
	return nil
}

func (p *EchoProvider) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	if !p.desc.Supports(CapabilityEmbedding) {
		return nil, fmt.Errorf("echo embed: %w", ErrUnsupported)
	}
	out := make([][]float32, 0, len(req.Texts))
	for _, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, hashEmbedding(text, p.dims))
	}
	return &EmbedResponse{Embeddings: out}, nil
}

func (p *EchoProvider) HealthCheck(context.Context) error { return nil }

// hashEmbedding maps text to a unit-length vector of dims components in [-1, 1].
// Each 32-byte block is BLAKE3(counter || text); every component takes two bytes.
func hashEmbedding(text string, dims int) []float32 {
	vec := make([]float32, dims)
	input := make([]byte, 4+len(text))
	copy(input[4:], text)

	var block [32]byte
	for i := range vec {
		off := (i * 2) % len(block)
		if off == 0 {
			binary.BigEndian.PutUint32(input[:4], uint32(i/16))
			block = blake3.Sum256(input)
		}
		u := binary.BigEndian.Uint16(block[off : off+2])
		vec[i] = float32(u)/math.MaxUint16*2 - 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
