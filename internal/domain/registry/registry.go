// Package registry is the development gateway: it tracks registered clients and their
// provider preferences, and routes chat and embedding calls to llm providers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/eventbus"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/gateway"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/llm"
)

var _ gateway.Service = (*Registry)(nil)

// DefaultReleasedTTL is how long an unregistered id keeps answering repeat unregisters
// with success.
const DefaultReleasedTTL = 10 * time.Minute

// Client is a registered caller.
type Client struct {
	ID           string
	Name         string
	Caller       string // bearer token subject, empty without auth
	RegisteredAt time.Time
	Preferences  session.CapabilitySelection
}

// Registry implements gateway.Service. Safe for concurrent use.
type Registry struct {
	router *llm.Router
	bus    eventbus.EventBus
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	clients     map[string]*Client
	released    map[string]time.Time
	releasedTTL time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithReleasedTTL sets how long released ids are remembered. Non-positive values keep the
// default.
func WithReleasedTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.releasedTTL = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a Registry routing to the providers in router.
func New(router *llm.Router, opts ...Option) *Registry {
	r := &Registry{
		router:   router,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		clients:     make(map[string]*Client),
		released:    make(map[string]time.Time),
		releasedTTL: DefaultReleasedTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clients returns a snapshot of the registered clients ordered by registration time.
func (r *Registry) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		cp := *c
		cp.Preferences = cloneSelection(c.Preferences)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// ─── lifecycle ───────────────────────────────────────────────────────────────

func (r *Registry) RegisterClient(ctx context.Context, name, clientID string) (session.Ack, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return session.Ack{Success: false, Message: "client_id is required"}, nil
	}
	if strings.TrimSpace(name) == "" {
		return session.Ack{Success: false, Message: "client_name is required"}, nil
	}

	caller, _ := gateway.CallerFromContext(ctx)

	r.mu.Lock()
	if _, dup := r.clients[clientID]; dup {
		r.mu.Unlock()
		return session.Ack{Success: false, Message: fmt.Sprintf("client %s is already registered", clientID)}, nil
	}
	r.clients[clientID] = &Client{ID: clientID, Name: name, Caller: caller, RegisteredAt: r.now()}
	delete(r.released, clientID)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "client registered", "client_id", clientID, "client_name", name)
	r.publish(eventbus.TopicClientRegistered, eventbus.ClientEvent{ClientID: clientID, ClientName: name})
	return session.Ack{Success: true, Message: "Client registered successfully"}, nil
}

// UnregisterClient is idempotent within the released TTL: releasing an id that was
// already released succeeds.
func (r *Registry) UnregisterClient(ctx context.Context, clientID string) (session.Ack, error) {
	now := r.now()
	r.mu.Lock()
	r.pruneReleasedLocked(now)
	c, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
		r.released[clientID] = now
	}
	_, wasReleased := r.released[clientID]
	r.mu.Unlock()

	if !ok {
		if wasReleased {
			return session.Ack{Success: true, Message: fmt.Sprintf("client %s was already unregistered", clientID)}, nil
		}
		return session.Ack{Success: false, Message: fmt.Sprintf("client %s is not registered", clientID)}, nil
	}

	r.logger.InfoContext(ctx, "client unregistered", "client_id", clientID, "client_name", c.Name)
	r.publish(eventbus.TopicClientUnregistered, eventbus.ClientEvent{ClientID: clientID, ClientName: c.Name})
	return session.Ack{Success: true, Message: "Client unregistered successfully"}, nil
}

// pruneReleasedLocked forgets ids released more than releasedTTL before now.
// Callers hold r.mu.
func (r *Registry) pruneReleasedLocked(now time.Time) {
	for id, at := range r.released {
		if now.Sub(at) > r.releasedTTL {
			delete(r.released, id)
		}
	}
}

// ─── providers ───────────────────────────────────────────────────────────────

func (r *Registry) ListProviders(context.Context) ([]session.ProviderDescriptor, error) {
	providers := r.router.Providers()
	out := make([]session.ProviderDescriptor, 0, len(providers))
	for _, p := range providers {
		out = append(out, toDescriptor(p.Describe()))
	}
	return out, nil
}

func (r *Registry) GetProviderCapabilities(_ context.Context, _, provider string) (session.ProviderDescriptor, error) {
	p, err := r.route(provider)
	if err != nil {
		return session.ProviderDescriptor{}, err
	}
	return toDescriptor(p.Describe()), nil
}

// SetPreferredProviders stores the selection. Capabilities a provider lacks are accepted;
// they only matter when a call needs them.
func (r *Registry) SetPreferredProviders(ctx context.Context, clientID string, sel session.CapabilitySelection) (session.Ack, error) {
	if len(sel) == 0 {
		return session.Ack{Success: false, Message: "no provider selected"}, nil
	}
	for _, name := range sel.Providers() {
		if _, err := r.router.Route(name); err != nil {
			return session.Ack{Success: false, Message: fmt.Sprintf("provider %q is not available", name)}, nil
		}
	}

	r.mu.Lock()
	c, ok := r.clients[clientID]
	if ok {
		c.Preferences = cloneSelection(sel)
	}
	r.mu.Unlock()
	if !ok {
		return session.Ack{Success: false, Message: fmt.Sprintf("client %s is not registered", clientID)}, nil
	}

	providers := strings.Join(sel.Providers(), ",")
	r.logger.InfoContext(ctx, "preferences set", "client_id", clientID, "providers", providers)
	r.publish(eventbus.TopicPreferencesSet, eventbus.ClientEvent{ClientID: clientID, ClientName: c.Name, Provider: providers})
	return session.Ack{Success: true, Message: "Preferred providers set successfully"}, nil
}

// ─── completion / embedding ──────────────────────────────────────────────────

func (r *Registry) SyncChat(ctx context.Context, req session.ChatRequest) (string, error) {
	c, p, err := r.resolve(req.ClientID, req.Provider, llm.CapabilityChat)
	if err != nil {
		return "", err
	}
	resp, err := p.ChatCompletion(ctx, llm.PromptRequest(req.Model, req.Prompt))
	if err != nil {
		return "", providerError(p, err)
	}
	r.publish(eventbus.TopicCompletionServed, eventbus.ClientEvent{ClientID: c.ID, ClientName: c.Name, Provider: p.Describe().Name, Detail: "sync"})
	return resp.Content, nil
}

func (r *Registry) AsyncChat(ctx context.Context, req session.ChatRequest, send func(string) error) error {
	c, p, err := r.resolve(req.ClientID, req.Provider, llm.CapabilityChat)
	if err != nil {
		return err
	}
	fragments := 0
	err = p.ChatCompletionStream(ctx, llm.PromptRequest(req.Model, req.Prompt), func(fragment string) error {
		fragments++
		return send(fragment)
	})
	if err != nil {
		return providerError(p, err)
	}
	r.publish(eventbus.TopicCompletionServed, eventbus.ClientEvent{
		ClientID: c.ID, ClientName: c.Name, Provider: p.Describe().Name,
		Detail: fmt.Sprintf("stream, %d fragment(s)", fragments),
	})
	return nil
}

// GetEmbedding routes to the client's preferred provider that was selected for embedding,
// falling back to any preferred provider that supports it.
func (r *Registry) GetEmbedding(ctx context.Context, clientID, text string) ([]float32, error) {
	c, p, err := r.resolve(clientID, "", llm.CapabilityEmbedding)
	if err != nil {
		return nil, err
	}
	resp, err := p.Embed(ctx, llm.EmbedRequest{Texts: []string{text}})
	if err != nil {
		return nil, providerError(p, err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, status.Errorf(codes.Internal, "provider %s returned %d embeddings for 1 text", p.Describe().Name, len(resp.Embeddings))
	}
	r.publish(eventbus.TopicEmbeddingServed, eventbus.ClientEvent{ClientID: c.ID, ClientName: c.Name, Provider: p.Describe().Name})
	return resp.Embeddings[0], nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// resolve finds the registered client and the provider that should serve capability.
// An explicit provider name wins; otherwise the client's preferences decide.
func (r *Registry) resolve(clientID, provider, capability string) (Client, llm.Provider, error) {
	r.mu.RLock()
	c, ok := r.clients[clientID]
	var snapshot Client
	if ok {
		snapshot = *c
	}
	r.mu.RUnlock()
	if !ok {
		return Client{}, nil, status.Errorf(codes.FailedPrecondition, "client %q is not registered", clientID)
	}

	if provider == "" {
		provider = preferredFor(snapshot.Preferences, capability, r.router)
		if provider == "" {
			return Client{}, nil, status.Errorf(codes.FailedPrecondition, "client %q has no preferred provider for %s", clientID, capability)
		}
	}

	p, err := r.route(provider)
	if err != nil {
		return Client{}, nil, err
	}
	if !p.Describe().Supports(capability) {
		return Client{}, nil, status.Errorf(codes.FailedPrecondition, "provider %s does not support %s", p.Describe().Name, capability)
	}
	return snapshot, p, nil
}

func preferredFor(sel session.CapabilitySelection, capability string, router *llm.Router) string {
	var fallback string
	for _, name := range sel.Providers() {
		for _, c := range sel[name] {
			if c == capability {
				return name
			}
		}
		if fallback == "" {
			if p, err := router.Route(name); err == nil && p.Describe().Supports(capability) {
				fallback = name
			}
		}
	}
	return fallback
}

func (r *Registry) route(name string) (llm.Provider, error) {
	p, err := r.router.Route(name)
	if errors.Is(err, llm.ErrProviderNotFound) {
		return nil, status.Errorf(codes.NotFound, "provider %q is not available", name)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return p, nil
}

func providerError(p llm.Provider, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, llm.ErrUnsupported):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Errorf(codes.Unavailable, "provider %s: %v", p.Describe().Name, err)
	}
}

func (r *Registry) publish(topic string, evt eventbus.ClientEvent) {
	if r.bus != nil {
		r.bus.Publish(topic, evt)
	}
}

func toDescriptor(d llm.Descriptor) session.ProviderDescriptor {
	caps := make(session.Capabilities, len(d.Capabilities))
	for k, v := range d.Capabilities {
		caps[k] = v
	}
	return session.ProviderDescriptor{Name: d.Name, ServiceLevel: d.ServiceLevel, Capabilities: caps}
}

func cloneSelection(sel session.CapabilitySelection) session.CapabilitySelection {
	if sel == nil {
		return nil
	}
	out := make(session.CapabilitySelection, len(sel))
	for k, v := range sel {
		out[k] = append([]string(nil), v...)
	}
	return out
}
