package session

import (
	"context"
	"io"
	"sync"
)

// fakeGateway is a scripted Gateway that counts calls and logs their order.
// Each func field may be replaced per test; the defaults reproduce a healthy gateway
// serving provider "openai" with chat and embedding.
type fakeGateway struct {
	mu    sync.Mutex
	calls []string
	ids   []string // client id passed to every call that carries one

	register      func(ctx context.Context, name, id string) (Ack, error)
	list          func(ctx context.Context) ([]ProviderDescriptor, error)
	capabilities  func(ctx context.Context, id, provider string) (ProviderDescriptor, error)
	setPreferred  func(ctx context.Context, id string, sel CapabilitySelection) (Ack, error)
	syncChat      func(ctx context.Context, req ChatRequest) (string, error)
	asyncChat     func(ctx context.Context, req ChatRequest) (TokenStream, error)
	getEmbedding  func(ctx context.Context, id, text string) ([]float32, error)
	unregister    func(ctx context.Context, id string) (Ack, error)
	lastSelection CapabilitySelection
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{}
	g.register = func(context.Context, string, string) (Ack, error) { return Ack{Success: true}, nil }
	g.list = func(context.Context) ([]ProviderDescriptor, error) {
		return []ProviderDescriptor{{
			Name:         "openai",
			ServiceLevel: "LEVEL_1",
			Capabilities: Capabilities{CapabilityChat: true, CapabilityEmbedding: true},
		}}, nil
	}
	g.capabilities = func(_ context.Context, _, provider string) (ProviderDescriptor, error) {
		return ProviderDescriptor{
			Name:         provider,
			ServiceLevel: "LEVEL_1",
			Capabilities: Capabilities{CapabilityChat: true, CapabilityEmbedding: true},
		}, nil
	}
	g.setPreferred = func(context.Context, string, CapabilitySelection) (Ack, error) { return Ack{Success: true}, nil }
	g.syncChat = func(context.Context, ChatRequest) (string, error) { return "Hi there", nil }
	g.asyncChat = func(context.Context, ChatRequest) (TokenStream, error) {
		return g.stream([]string{"Hi", " there"}, nil), nil
	}
	g.getEmbedding = func(context.Context, string, string) ([]float32, error) { return []float32{0.1, 0.2}, nil }
	g.unregister = func(context.Context, string) (Ack, error) { return Ack{Success: true}, nil }
	return g
}

func (g *fakeGateway) record(call, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	if id != "" {
		g.ids = append(g.ids, id)
	}
}

func (g *fakeGateway) count(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (g *fakeGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) clientIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ids...)
}

func (g *fakeGateway) RegisterClient(ctx context.Context, name, id string) (Ack, error) {
	g.record("registerClient", id)
	return g.register(ctx, name, id)
}

func (g *fakeGateway) ListProviders(ctx context.Context) ([]ProviderDescriptor, error) {
	g.record("listProviders", "")
	return g.list(ctx)
}

func (g *fakeGateway) GetProviderCapabilities(ctx context.Context, id, provider string) (ProviderDescriptor, error) {
	g.record("getProviderCapabilities", id)
	return g.capabilities(ctx, id, provider)
}

func (g *fakeGateway) SetPreferredProviders(ctx context.Context, id string, sel CapabilitySelection) (Ack, error) {
	g.record("setPreferredProviders", id)
	g.mu.Lock()
	g.lastSelection = sel
	g.mu.Unlock()
	return g.setPreferred(ctx, id, sel)
}

func (g *fakeGateway) SyncChat(ctx context.Context, req ChatRequest) (string, error) {
	g.record("syncChat", req.ClientID)
	return g.syncChat(ctx, req)
}

func (g *fakeGateway) AsyncChat(ctx context.Context, req ChatRequest) (TokenStream, error) {
	g.record("asyncChat", req.ClientID)
	return g.asyncChat(ctx, req)
}

func (g *fakeGateway) GetEmbedding(ctx context.Context, id, text string) ([]float32, error) {
	g.record("getEmbedding", id)
	return g.getEmbedding(ctx, id, text)
}

func (g *fakeGateway) UnregisterClient(ctx context.Context, id string) (Ack, error) {
	g.record("unregisterClient", id)
	return g.unregister(ctx, id)
}

// stream returns a TokenStream yielding fragments, then failing with streamErr if non-nil,
// otherwise ending with io.EOF. The terminal event is logged as "asyncChat.end" or
// "asyncChat.error" so tests can check ordering against later calls.
func (g *fakeGateway) stream(fragments []string, streamErr error) *sliceStream {
	return &sliceStream{g: g, fragments: fragments, err: streamErr}
}

type sliceStream struct {
	g         *fakeGateway
	fragments []string
	err       error
	pos       int
	nexts     int
}

func (s *sliceStream) Next() (string, error) {
	s.nexts++
	if s.pos < len(s.fragments) {
		f := s.fragments[s.pos]
		s.pos++
		return f, nil
	}
	if s.err != nil {
		s.g.record("asyncChat.error", "")
		return "", s.err
	}
	s.g.record("asyncChat.end", "")
	return "", io.EOF
}

// recordingObserver logs observer callbacks in order.
type recordingObserver struct {
	events []string
	tokens []string
}

func (o *recordingObserver) PhaseStarted(p Phase) {
	o.events = append(o.events, "start:"+p.String())
}

func (o *recordingObserver) PhaseFinished(out PhaseOutcome) {
	o.events = append(o.events, "finish:"+out.Phase.String()+":"+string(out.Status))
}

func (o *recordingObserver) Token(fragment string) {
	o.tokens = append(o.tokens, fragment)
	o.events = append(o.events, "token")
}
