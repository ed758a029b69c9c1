// Package session drives one client session against a multi-provider LLM gateway:
// registration, provider discovery, negotiation, sync and streaming completion,
// capability-gated embedding, and teardown on every exit path.
package session

import (
	"sort"
	"strings"
)

// Capability names advertised by gateway providers.
const (
	CapabilityChat      = "chat"
	CapabilityEmbedding = "embedding"
	CapabilityAgents    = "agents"
	CapabilityRAG       = "rag"
)

// DefaultCapabilities is what the client asks for when no capability list is given.
var DefaultCapabilities = []string{CapabilityChat, CapabilityEmbedding}

// Capabilities maps a capability name to its support flag.
// A name that is not present is unsupported.
type Capabilities map[string]bool

// Supports reports whether name is present and true. Safe on a nil map.
func (c Capabilities) Supports(name string) bool {
	return c[name]
}

// Names returns the capability names in lexical order, supported or not.
func (c Capabilities) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (c Capabilities) Clone() Capabilities {
	if c == nil {
		return nil
	}
	out := make(Capabilities, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// String renders "chat=true embedding=false" in name order.
func (c Capabilities) String() string {
	parts := make([]string, 0, len(c))
	for _, name := range c.Names() {
		if c[name] {
			parts = append(parts, name+"=true")
		} else {
			parts = append(parts, name+"=false")
		}
	}
	return strings.Join(parts, " ")
}

// ProviderDescriptor is a provider as reported by the gateway. Read-only on the client.
type ProviderDescriptor struct {
	Name         string
	ServiceLevel string
	Capabilities Capabilities
}

// CapabilitySelection maps a provider name to the capability names the client wants to use
// with it. Built once per session and sent during negotiation.
type CapabilitySelection map[string][]string

// NewSelection builds a single-provider selection. Capability names are deduplicated and
// sorted; empty names are dropped.
func NewSelection(provider string, capabilities ...string) CapabilitySelection {
	seen := make(map[string]struct{}, len(capabilities))
	names := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		names = append(names, c)
	}
	sort.Strings(names)
	return CapabilitySelection{provider: names}
}

// Providers returns the selected provider names in lexical order.
func (s CapabilitySelection) Providers() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ChatRequest is the input to both the synchronous and the streaming completion.
type ChatRequest struct {
	ClientID string
	Prompt   string
	Provider string
	Model    string
}

// Ack is the success flag plus optional message carried by registration, negotiation and
// unregistration responses.
type Ack struct {
	Success bool
	Message string
}
