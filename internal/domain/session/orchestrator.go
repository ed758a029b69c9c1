package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/matiasleandrokruk/xlmsession/pkg/uuid"
)

// Default bounds applied when the corresponding option is not given.
const (
	DefaultCallTimeout     = 30 * time.Second
	DefaultStreamTimeout   = 2 * time.Minute
	DefaultTeardownTimeout = 5 * time.Second
)

// DefaultEmbeddingText is embedded when Input.EmbeddingText is empty.
const DefaultEmbeddingText = "Mickey Mouse is a Disney cartoon character."

// Input is what a caller supplies for one session.
type Input struct {
	ClientName    string
	Provider      string
	Model         string
	Prompt        string
	EmbeddingText string
	// Capabilities requested for Provider during negotiation. Defaults to chat+embedding.
	Capabilities []string
}

func (in Input) withDefaults() Input {
	if in.EmbeddingText == "" {
		in.EmbeddingText = DefaultEmbeddingText
	}
	if len(in.Capabilities) == 0 {
		in.Capabilities = append([]string(nil), DefaultCapabilities...)
	}
	return in
}

// Orchestrator runs sessions against one Gateway. It holds no per-session state, so one
// Orchestrator may run several sessions one after another; concurrent sessions need their
// own Gateway (channel) each.
type Orchestrator struct {
	gateway  Gateway
	observer Observer
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time

	callTimeout     time.Duration
	streamTimeout   time.Duration
	teardownTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) {
		if o != nil {
			orc.observer = o
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(orc *Orchestrator) {
		if l != nil {
			orc.logger = l
		}
	}
}

// WithIDGenerator replaces the client identifier generator. Every call must return a
// fresh value.
func WithIDGenerator(fn func() string) Option {
	return func(orc *Orchestrator) {
		if fn != nil {
			orc.newID = fn
		}
	}
}

// WithTimeouts bounds each unary call, the whole stream, and the teardown call.
// A zero or negative value disables that bound.
func WithTimeouts(call, stream, teardown time.Duration) Option {
	return func(orc *Orchestrator) {
		orc.callTimeout = call
		orc.streamTimeout = stream
		orc.teardownTimeout = teardown
	}
}

// New returns an Orchestrator bound to gw.
func New(gw Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:         gw,
		observer:        nopObserver{},
		logger:          slog.New(slog.DiscardHandler),
		newID:           func() string { return uuid.NewV7().String() },
		now:             time.Now,
		callTimeout:     DefaultCallTimeout,
		streamTimeout:   DefaultStreamTimeout,
		teardownTimeout: DefaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one full session and always returns a closed Report.
//
// Registration failure ends the session immediately with nothing to release. Any later
// fatal failure, including cancellation of ctx, moves the session to Failing, after which
// unregistration is still attempted exactly once on a context detached from ctx.
func (o *Orchestrator) Run(ctx context.Context, in Input) *Report {
	in = in.withDefaults()
	s := newSession(o.newID(), in.ClientName)
	r := newReport(s, in, o.now())
	log := o.logger.With("client_id", s.ClientID, "provider", in.Provider)

	log.InfoContext(ctx, "session starting", "client_name", s.ClientName, "model", in.Model)

	if err := o.register(ctx, s, r); err != nil {
		r.failure = err
		r.Cleanup = CleanupNotRequired
		s.transition(StateClosed)
		log.WarnContext(ctx, "session aborted at registration", "error", err)
		return r.close(s, o.now())
	}

	if err := o.interact(ctx, s, in, r); err != nil {
		r.failure = err
		s.transition(StateFailing)
		log.WarnContext(ctx, "session failing", "error", err)
	}

	o.teardown(ctx, s, r)
	s.transition(StateClosed)

	r.close(s, o.now())
	log.InfoContext(ctx, "session closed", "status", r.Status, "cleanup", r.Cleanup, "duration", r.Duration)
	return r
}

// interact runs everything between registration and teardown. A non-nil error is fatal.
func (o *Orchestrator) interact(ctx context.Context, s *Session, in Input, r *Report) error {
	if err := o.discover(ctx, r); err != nil {
		return err
	}
	s.transition(StateDiscovered)

	caps, err := o.negotiate(ctx, s, in, r)
	if err != nil {
		return err
	}
	s.transition(StateNegotiated)

	req := ChatRequest{
		ClientID: s.ClientID,
		Prompt:   in.Prompt,
		Provider: s.Provider,
		Model:    in.Model,
	}
	if err := o.completeSync(ctx, req, r); err != nil {
		return err
	}
	s.transition(StateSyncCompleted)

	if err := o.completeStream(ctx, req, r); err != nil {
		return err
	}
	s.transition(StateStreamCompleted)

	reached, err := o.embed(ctx, s, caps, in.EmbeddingText, r)
	if err != nil {
		return err
	}
	s.transition(reached)
	return nil
}

// ─── phases ──────────────────────────────────────────────────────────────────

func (o *Orchestrator) register(ctx context.Context, s *Session, r *Report) error {
	const p = PhaseRegistration
	start := o.now()
	if err := o.begin(ctx, p); err != nil {
		o.fail(r, p, start, err)
		return err
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	ack, err := o.gateway.RegisterClient(callCtx, s.ClientName, s.ClientID)
	if err != nil {
		err = rpcError(ctx, p, "registerClient", err)
	} else if !ack.Success {
		err = protocolError(p, "registerClient", ack.Message)
	}
	if err != nil {
		o.fail(r, p, start, err)
		return err
	}

	s.transition(StateRegistered)
	o.succeed(r, p, start, fmt.Sprintf("registered %q as %s", s.ClientName, s.ClientID))
	return nil
}

// discover is informational: an RPC failure is reported and the session carries on,
// unless ctx itself has ended.
func (o *Orchestrator) discover(ctx context.Context, r *Report) error {
	const p = PhaseDiscovery
	start := o.now()
	if err := o.begin(ctx, p); err != nil {
		o.fail(r, p, start, err)
		return err
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	providers, err := o.gateway.ListProviders(callCtx)
	if err != nil {
		err = rpcError(ctx, p, "listProviders", err)
		o.fail(r, p, start, err)
		if ctx.Err() != nil {
			return err
		}
		return nil
	}

	r.Providers = providers
	lines := make([]string, 0, len(providers))
	for _, pd := range providers {
		lines = append(lines, fmt.Sprintf("%s (%s) %s", pd.Name, pd.ServiceLevel, pd.Capabilities))
	}
	detail := fmt.Sprintf("%d provider(s)", len(providers))
	if len(lines) > 0 {
		detail += ": " + strings.Join(lines, "; ")
	}
	o.succeed(r, p, start, detail)
	return nil
}

// negotiate fetches the target provider's capabilities and declares the preferred
// selection. The returned map is ground truth for capability gating; the selection is only
// a request and may name capabilities the provider lacks.
func (o *Orchestrator) negotiate(ctx context.Context, s *Session, in Input, r *Report) (Capabilities, error) {
	const p = PhaseNegotiation
	start := o.now()
	if err := o.begin(ctx, p); err != nil {
		o.fail(r, p, start, err)
		return nil, err
	}

	desc, err := o.getCapabilities(ctx, s.ClientID, in.Provider)
	if err != nil {
		err = rpcError(ctx, p, "getProviderCapabilities", err)
		o.fail(r, p, start, err)
		return nil, err
	}
	caps := desc.Capabilities.Clone()
	r.Capabilities = caps

	selection := NewSelection(in.Provider, in.Capabilities...)
	ack, err := o.setPreferred(ctx, s.ClientID, selection)
	if err != nil {
		err = rpcError(ctx, p, "setPreferredProviders", err)
	} else if !ack.Success {
		err = protocolError(p, "setPreferredProviders", ack.Message)
	}
	if err != nil {
		o.fail(r, p, start, err)
		return nil, err
	}

	s.Provider = in.Provider
	o.succeed(r, p, start, fmt.Sprintf("provider %s (%s) %s; requested %s",
		in.Provider, desc.ServiceLevel, caps, strings.Join(selection[in.Provider], ",")))
	return caps, nil
}

func (o *Orchestrator) getCapabilities(ctx context.Context, clientID, provider string) (ProviderDescriptor, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.gateway.GetProviderCapabilities(callCtx, clientID, provider)
}

func (o *Orchestrator) setPreferred(ctx context.Context, clientID string, sel CapabilitySelection) (Ack, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.gateway.SetPreferredProviders(callCtx, clientID, sel)
}

func (o *Orchestrator) completeSync(ctx context.Context, req ChatRequest, r *Report) error {
	const p = PhaseSyncCompletion
	start := o.now()
	if err := o.begin(ctx, p); err != nil {
		o.fail(r, p, start, err)
		return err
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	completion, err := o.gateway.SyncChat(callCtx, req)
	if err != nil {
		err = rpcError(ctx, p, "syncChat", err)
		o.fail(r, p, start, err)
		return err
	}

	r.Completion = completion
	o.succeed(r, p, start, completion)
	return nil
}

// completeStream drains the stream until its terminal event. Exactly one of end-of-stream
// or an error event ends the phase; the next phase never starts before that.
func (o *Orchestrator) completeStream(ctx context.Context, req ChatRequest, r *Report) error {
	const p = PhaseStreamCompletion
	start := o.now()
	if err := o.begin(ctx, p); err != nil {
		o.fail(r, p, start, err)
		return err
	}

	streamCtx, cancel := o.boundedContext(ctx, o.streamTimeout)
	defer cancel()

	stream, err := o.gateway.AsyncChat(streamCtx, req)
	if err != nil {
		err = rpcError(ctx, p, "asyncChat", err)
		o.fail(r, p, start, err)
		return err
	}

	var text strings.Builder
	fragments := 0
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.Streamed = text.String()
			r.Fragments = fragments
			err = fmt.Errorf("after %d fragment(s): %w", fragments, err)
			if ctx.Err() != nil {
				err = rpcError(ctx, p, "asyncChat", err)
			} else {
				err = streamError(p, "asyncChat", err)
			}
			o.fail(r, p, start, err)
			return err
		}
		fragments++
		text.WriteString(fragment)
		o.observer.Token(fragment)
	}

	r.Streamed = text.String()
	r.Fragments = fragments
	o.succeed(r, p, start, fmt.Sprintf("%d fragment(s), %d byte(s)", fragments, text.Len()))
	return nil
}

// embed runs only when the negotiated provider reports embedding support and returns the
// state the session reaches: StateEmbeddingSkipped when gated off, StateEmbeddingCompleted
// otherwise. An RPC failure here is reported but not fatal unless ctx has ended.
func (o *Orchestrator) embed(ctx context.Context, s *Session, caps Capabilities, text string, r *Report) (State, error) {
	const p = PhaseEmbedding
	start := o.now()
	if err := o.begin(ctx, p); err != nil {
		o.fail(r, p, start, err)
		return 0, err
	}

	if !caps.Supports(CapabilityEmbedding) {
		o.finish(r, PhaseOutcome{
			Phase:    p,
			Status:   PhaseSkipped,
			Detail:   fmt.Sprintf("provider %s does not support the %s capability", s.Provider, CapabilityEmbedding),
			Duration: o.now().Sub(start),
		})
		return StateEmbeddingSkipped, nil
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	vector, err := o.gateway.GetEmbedding(callCtx, s.ClientID, text)
	if err != nil {
		err = rpcError(ctx, p, "getEmbedding", err)
		o.fail(r, p, start, err)
		if ctx.Err() != nil {
			return 0, err
		}
		return StateEmbeddingCompleted, nil
	}

	r.Embedding = vector
	o.succeed(r, p, start, fmt.Sprintf("%d dimension(s)", len(vector)))
	return StateEmbeddingCompleted, nil
}

type ackResult struct {
	ack Ack
	err error
}

// teardown unregisters the client on a context that survives cancellation of ctx, bounded
// by the teardown timeout. If the bound expires first the outcome is CleanupIncomplete and
// the caller goes on to release the channel anyway.
func (o *Orchestrator) teardown(ctx context.Context, s *Session, r *Report) {
	const p = PhaseTeardown
	start := o.now()
	o.observer.PhaseStarted(p)

	tctx, cancel := o.boundedContext(context.WithoutCancel(ctx), o.teardownTimeout)
	defer cancel()

	done := make(chan ackResult, 1)
	go func() {
		ack, err := o.gateway.UnregisterClient(tctx, s.ClientID)
		done <- ackResult{ack: ack, err: err}
	}()

	var err error
	select {
	case res := <-done:
		switch {
		case res.err != nil && tctx.Err() != nil:
			r.Cleanup = CleanupIncomplete
			err = transportError(p, "unregisterClient", res.err)
		case res.err != nil:
			r.Cleanup = CleanupFailed
			err = transportError(p, "unregisterClient", res.err)
		case !res.ack.Success:
			r.Cleanup = CleanupFailed
			err = protocolError(p, "unregisterClient", res.ack.Message)
		default:
			r.Cleanup = CleanupReleased
		}
	case <-tctx.Done():
		r.Cleanup = CleanupIncomplete
		err = transportError(p, "unregisterClient", fmt.Errorf("cleanup incomplete: %w", tctx.Err()))
	}

	s.transition(StateUnregistered)
	if err != nil {
		r.teardownErr = err
		o.fail(r, p, start, err)
		return
	}
	o.succeed(r, p, start, "client unregistered")
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// begin refuses to start a phase once ctx has ended; otherwise it notifies the observer.
func (o *Orchestrator) begin(ctx context.Context, p Phase) error {
	if err := ctx.Err(); err != nil {
		return canceledError(p, err)
	}
	o.observer.PhaseStarted(p)
	return nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return o.boundedContext(ctx, o.callTimeout)
}

func (o *Orchestrator) boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (o *Orchestrator) succeed(r *Report, p Phase, start time.Time, detail string) {
	o.finish(r, PhaseOutcome{Phase: p, Status: PhaseSucceeded, Detail: detail, Duration: o.now().Sub(start)})
}

func (o *Orchestrator) fail(r *Report, p Phase, start time.Time, err error) {
	o.finish(r, PhaseOutcome{Phase: p, Status: PhaseFailed, Detail: err.Error(), Err: err, Duration: o.now().Sub(start)})
}

// finish records the outcome and reports it before control returns to the next phase.
func (o *Orchestrator) finish(r *Report, out PhaseOutcome) {
	r.record(out)
	logf := o.logger.Info
	if out.Status == PhaseFailed {
		logf = o.logger.Warn
	}
	logf("phase finished",
		"client_id", r.ClientID,
		"phase", out.Phase.String(),
		"status", string(out.Status),
		"duration", out.Duration,
		"detail", out.Detail,
	)
	o.observer.PhaseFinished(out)
}
