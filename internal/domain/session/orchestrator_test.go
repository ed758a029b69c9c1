package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func scenarioInput() Input {
	return Input{
		ClientName: "go-client-1",
		Provider:   "openai",
		Model:      "gpt-test",
		Prompt:     "Hello",
	}
}

func fixedIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func assertPhase(t *testing.T, r *Report, p Phase, want PhaseStatus) {
	t.Helper()
	if got := r.Phase(p).Status; got != want {
		t.Errorf("phase %s status = %s; want %s (detail %q)", p, got, want, r.Phase(p).Detail)
	}
}

// ============================================================================
// Full session
// ============================================================================

func TestRun_AllPhasesSucceed(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	obs := &recordingObserver{}
	orch := New(gw, WithObserver(obs), WithIDGenerator(fixedIDs("client-1")))

	r := orch.Run(context.Background(), scenarioInput())

	for _, p := range Phases() {
		assertPhase(t, r, p, PhaseSucceeded)
	}
	if r.Status != StatusSucceeded {
		t.Errorf("Status = %s; want succeeded", r.Status)
	}
	if r.FinalState != StateClosed {
		t.Errorf("FinalState = %s; want Closed", r.FinalState)
	}
	if r.Cleanup != CleanupReleased {
		t.Errorf("Cleanup = %s; want released", r.Cleanup)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v; want nil", r.Err())
	}
	if r.Completion != "Hi there" {
		t.Errorf("Completion = %q; want %q", r.Completion, "Hi there")
	}
	if r.Streamed != "Hi there" || r.Fragments != 2 {
		t.Errorf("Streamed = %q (%d fragments); want %q (2)", r.Streamed, r.Fragments, "Hi there")
	}
	if !reflect.DeepEqual(r.Embedding, []float32{0.1, 0.2}) {
		t.Errorf("Embedding = %v; want [0.1 0.2]", r.Embedding)
	}
	if len(r.Providers) != 1 || r.Providers[0].Name != "openai" {
		t.Errorf("Providers = %+v; want openai", r.Providers)
	}

	wantTrace := []State{
		StateInit, StateRegistered, StateDiscovered, StateNegotiated, StateSyncCompleted,
		StateStreamCompleted, StateEmbeddingCompleted, StateUnregistered, StateClosed,
	}
	if !reflect.DeepEqual(r.Trace, wantTrace) {
		t.Errorf("Trace = %v; want %v", r.Trace, wantTrace)
	}

	wantCalls := []string{
		"registerClient", "listProviders", "getProviderCapabilities", "setPreferredProviders",
		"syncChat", "asyncChat", "asyncChat.end", "getEmbedding", "unregisterClient",
	}
	if got := gw.callLog(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("calls = %v; want %v", got, wantCalls)
	}
}

func TestRun_SameClientIDInEveryCall(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	r := New(gw, WithIDGenerator(fixedIDs("client-42"))).Run(context.Background(), scenarioInput())

	if r.ClientID != "client-42" {
		t.Fatalf("ClientID = %q; want client-42", r.ClientID)
	}
	ids := gw.clientIDs()
	if len(ids) != 7 {
		t.Fatalf("expected 7 id-carrying calls, got %d (%v)", len(ids), ids)
	}
	for _, id := range ids {
		if id != "client-42" {
			t.Errorf("call carried client id %q; want client-42", id)
		}
	}
}

func TestRun_FreshClientIDPerRun(t *testing.T) {
	t.Parallel()

	orch := New(newFakeGateway())
	first := orch.Run(context.Background(), scenarioInput())
	second := orch.Run(context.Background(), scenarioInput())

	if first.ClientID == "" || second.ClientID == "" {
		t.Fatal("expected generated client ids")
	}
	if first.ClientID == second.ClientID {
		t.Fatalf("client id reused across runs: %s", first.ClientID)
	}
}

func TestRun_SelectionRequestsDefaultCapabilities(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	New(gw).Run(context.Background(), scenarioInput())

	want := CapabilitySelection{"openai": {CapabilityChat, CapabilityEmbedding}}
	if !reflect.DeepEqual(gw.lastSelection, want) {
		t.Errorf("selection = %v; want %v", gw.lastSelection, want)
	}
}

// ============================================================================
// Registration
// ============================================================================

func TestRun_RegistrationTransportError_NoOtherCalls(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.register = func(context.Context, string, string) (Ack, error) {
		return Ack{}, errors.New("connection refused")
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	if got := gw.callLog(); !reflect.DeepEqual(got, []string{"registerClient"}) {
		t.Fatalf("calls = %v; want only registerClient", got)
	}
	assertPhase(t, r, PhaseRegistration, PhaseFailed)
	for _, p := range Phases()[1:] {
		assertPhase(t, r, p, PhaseNotAttempted)
	}
	if r.Cleanup != CleanupNotRequired {
		t.Errorf("Cleanup = %s; want not_required", r.Cleanup)
	}
	if r.Status != StatusFailed || r.FinalState != StateClosed {
		t.Errorf("Status/FinalState = %s/%s; want failed/Closed", r.Status, r.FinalState)
	}
	if !reflect.DeepEqual(r.Trace, []State{StateInit, StateClosed}) {
		t.Errorf("Trace = %v; want [Init Closed]", r.Trace)
	}
	if !errors.Is(r.Err(), ErrTransport) {
		t.Errorf("Err() = %v; want ErrTransport", r.Err())
	}
	if p, ok := r.FailedPhase(); !ok || p != PhaseRegistration {
		t.Errorf("FailedPhase() = %v, %v; want registration", p, ok)
	}
}

func TestRun_RegistrationRejected_NoOtherCalls(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.register = func(context.Context, string, string) (Ack, error) {
		return Ack{Success: false, Message: "duplicate client"}, nil
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	for _, call := range []string{"listProviders", "getProviderCapabilities", "setPreferredProviders",
		"syncChat", "asyncChat", "getEmbedding", "unregisterClient"} {
		if n := gw.count(call); n != 0 {
			t.Errorf("%s called %d time(s); want 0", call, n)
		}
	}
	if !errors.Is(r.Err(), ErrProtocol) {
		t.Errorf("Err() = %v; want ErrProtocol", r.Err())
	}
	if r.Status != StatusFailed {
		t.Errorf("Status = %s; want failed", r.Status)
	}
}

// ============================================================================
// Discovery
// ============================================================================

func TestRun_DiscoveryFailure_IsNotFatal(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.list = func(context.Context) ([]ProviderDescriptor, error) {
		return nil, errors.New("unavailable")
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseDiscovery, PhaseFailed)
	for _, p := range []Phase{PhaseNegotiation, PhaseSyncCompletion, PhaseStreamCompletion, PhaseEmbedding, PhaseTeardown} {
		assertPhase(t, r, p, PhaseSucceeded)
	}
	if r.Status != StatusDegraded {
		t.Errorf("Status = %s; want degraded", r.Status)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v; want nil (discovery is informational)", r.Err())
	}
}

// ============================================================================
// Negotiation
// ============================================================================

func TestRun_SetPreferredRejected_TearsDownOnly(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.setPreferred = func(context.Context, string, CapabilitySelection) (Ack, error) {
		return Ack{Success: false}, nil
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseNegotiation, PhaseFailed)
	assertPhase(t, r, PhaseSyncCompletion, PhaseNotAttempted)
	assertPhase(t, r, PhaseStreamCompletion, PhaseNotAttempted)
	assertPhase(t, r, PhaseEmbedding, PhaseNotAttempted)
	assertPhase(t, r, PhaseTeardown, PhaseSucceeded)

	for _, call := range []string{"syncChat", "asyncChat", "getEmbedding"} {
		if n := gw.count(call); n != 0 {
			t.Errorf("%s called %d time(s); want 0", call, n)
		}
	}
	if n := gw.count("unregisterClient"); n != 1 {
		t.Errorf("unregisterClient called %d time(s); want 1", n)
	}
	if r.FinalState != StateClosed || r.Status != StatusFailed {
		t.Errorf("FinalState/Status = %s/%s; want Closed/failed", r.FinalState, r.Status)
	}
	if !errors.Is(r.Err(), ErrProtocol) {
		t.Errorf("Err() = %v; want ErrProtocol", r.Err())
	}
	if p, ok := r.FailedPhase(); !ok || p != PhaseNegotiation {
		t.Errorf("FailedPhase() = %v, %v; want negotiation", p, ok)
	}
	wantTrace := []State{StateInit, StateRegistered, StateDiscovered, StateFailing, StateUnregistered, StateClosed}
	if !reflect.DeepEqual(r.Trace, wantTrace) {
		t.Errorf("Trace = %v; want %v", r.Trace, wantTrace)
	}
}

func TestRun_GetCapabilitiesFailure_IsFatal(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.capabilities = func(context.Context, string, string) (ProviderDescriptor, error) {
		return ProviderDescriptor{}, errors.New("unknown provider")
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseNegotiation, PhaseFailed)
	if n := gw.count("setPreferredProviders"); n != 0 {
		t.Errorf("setPreferredProviders called %d time(s); want 0", n)
	}
	if n := gw.count("unregisterClient"); n != 1 {
		t.Errorf("unregisterClient called %d time(s); want 1", n)
	}
	if !errors.Is(r.Err(), ErrTransport) {
		t.Errorf("Err() = %v; want ErrTransport", r.Err())
	}
}

func TestRun_RequestingUnsupportedCapability_IsAllowed(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.capabilities = func(_ context.Context, _, p string) (ProviderDescriptor, error) {
		return ProviderDescriptor{Name: p, Capabilities: Capabilities{CapabilityChat: true}}, nil
	}
	in := scenarioInput()
	in.Capabilities = []string{CapabilityChat, CapabilityEmbedding, CapabilityRAG}

	r := New(gw).Run(context.Background(), in)

	assertPhase(t, r, PhaseNegotiation, PhaseSucceeded)
	assertPhase(t, r, PhaseEmbedding, PhaseSkipped)
	if r.Status != StatusSucceeded {
		t.Errorf("Status = %s; want succeeded", r.Status)
	}
}

// ============================================================================
// Completion
// ============================================================================

func TestRun_SyncChatFailure_IsFatal(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.syncChat = func(context.Context, ChatRequest) (string, error) { return "", errors.New("boom") }

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseSyncCompletion, PhaseFailed)
	assertPhase(t, r, PhaseStreamCompletion, PhaseNotAttempted)
	if n := gw.count("asyncChat"); n != 0 {
		t.Errorf("asyncChat called %d time(s); want 0", n)
	}
	if n := gw.count("unregisterClient"); n != 1 {
		t.Errorf("unregisterClient called %d time(s); want 1", n)
	}
	if r.Completion != "" {
		t.Errorf("Completion = %q; want empty", r.Completion)
	}
}

func TestRun_StreamIsDrainedBeforeNextPhase(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.asyncChat = func(context.Context, ChatRequest) (TokenStream, error) {
		return gw.stream([]string{"Hel", "lo"}, nil), nil
	}
	obs := &recordingObserver{}

	r := New(gw, WithObserver(obs)).Run(context.Background(), scenarioInput())

	if r.Streamed != "Hello" {
		t.Fatalf("Streamed = %q; want Hello", r.Streamed)
	}
	if !reflect.DeepEqual(obs.tokens, []string{"Hel", "lo"}) {
		t.Errorf("tokens = %v; want [Hel lo]", obs.tokens)
	}

	calls := gw.callLog()
	end, embed := -1, -1
	for i, c := range calls {
		switch c {
		case "asyncChat.end":
			end = i
		case "getEmbedding":
			embed = i
		}
	}
	if end < 0 || embed < 0 || end > embed {
		t.Errorf("expected end-of-stream before getEmbedding, calls = %v", calls)
	}
}

func TestRun_StreamErrorAfterOneFragment(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	var st *sliceStream
	gw.asyncChat = func(context.Context, ChatRequest) (TokenStream, error) {
		st = gw.stream([]string{"Hi"}, errors.New("upstream reset"))
		return st, nil
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseStreamCompletion, PhaseFailed)
	assertPhase(t, r, PhaseEmbedding, PhaseNotAttempted)
	if st.nexts != 2 {
		t.Errorf("Next called %d time(s); want 2 (one fragment, one error)", st.nexts)
	}
	if r.Streamed != "Hi" || r.Fragments != 1 {
		t.Errorf("Streamed = %q (%d); want Hi (1)", r.Streamed, r.Fragments)
	}
	if !errors.Is(r.Err(), ErrStream) {
		t.Errorf("Err() = %v; want ErrStream", r.Err())
	}
	if n := gw.count("getEmbedding"); n != 0 {
		t.Errorf("getEmbedding called %d time(s); want 0", n)
	}
	if n := gw.count("unregisterClient"); n != 1 {
		t.Errorf("unregisterClient called %d time(s); want 1", n)
	}
	if r.Status != StatusFailed || r.FinalState != StateClosed {
		t.Errorf("Status/FinalState = %s/%s; want failed/Closed", r.Status, r.FinalState)
	}
}

func TestRun_StreamOpenFailure_IsFatal(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.asyncChat = func(context.Context, ChatRequest) (TokenStream, error) {
		return nil, errors.New("unavailable")
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseStreamCompletion, PhaseFailed)
	if !errors.Is(r.Err(), ErrTransport) {
		t.Errorf("Err() = %v; want ErrTransport", r.Err())
	}
}

func TestRun_EmptyStream_Succeeds(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.asyncChat = func(context.Context, ChatRequest) (TokenStream, error) {
		return gw.stream(nil, nil), nil
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseStreamCompletion, PhaseSucceeded)
	if r.Streamed != "" || r.Fragments != 0 {
		t.Errorf("Streamed = %q (%d); want empty", r.Streamed, r.Fragments)
	}
}

// ============================================================================
// Embedding gating
// ============================================================================

func TestRun_EmbeddingUnsupported_Skipped(t *testing.T) {
	t.Parallel()

	for name, caps := range map[string]Capabilities{
		"false":   {CapabilityChat: true, CapabilityEmbedding: false},
		"missing": {CapabilityChat: true},
		"nil":     nil,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			gw := newFakeGateway()
			gw.capabilities = func(_ context.Context, _, p string) (ProviderDescriptor, error) {
				return ProviderDescriptor{Name: p, Capabilities: caps}, nil
			}

			r := New(gw).Run(context.Background(), scenarioInput())

			assertPhase(t, r, PhaseEmbedding, PhaseSkipped)
			if n := gw.count("getEmbedding"); n != 0 {
				t.Errorf("getEmbedding called %d time(s); want 0", n)
			}
			if n := gw.count("unregisterClient"); n != 1 {
				t.Errorf("unregisterClient called %d time(s); want 1", n)
			}
			if r.Status != StatusSucceeded {
				t.Errorf("Status = %s; want succeeded", r.Status)
			}
			if r.Embedding != nil {
				t.Errorf("Embedding = %v; want nil", r.Embedding)
			}
			wantTrace := []State{
				StateInit, StateRegistered, StateDiscovered, StateNegotiated, StateSyncCompleted,
				StateStreamCompleted, StateEmbeddingSkipped, StateUnregistered, StateClosed,
			}
			if !reflect.DeepEqual(r.Trace, wantTrace) {
				t.Errorf("Trace = %v; want %v", r.Trace, wantTrace)
			}
		})
	}
}

func TestRun_GatingUsesProviderCapabilitiesNotDiscoveryList(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	// Discovery advertises embedding, the provider's own answer does not.
	gw.capabilities = func(_ context.Context, _, p string) (ProviderDescriptor, error) {
		return ProviderDescriptor{Name: p, Capabilities: Capabilities{CapabilityChat: true}}, nil
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseEmbedding, PhaseSkipped)
}

func TestRun_EmbeddingFailure_IsNotFatal(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.getEmbedding = func(context.Context, string, string) ([]float32, error) {
		return nil, errors.New("model not loaded")
	}

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseEmbedding, PhaseFailed)
	assertPhase(t, r, PhaseTeardown, PhaseSucceeded)
	if r.Status != StatusDegraded {
		t.Errorf("Status = %s; want degraded", r.Status)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v; want nil", r.Err())
	}
	if r.FinalState != StateClosed {
		t.Errorf("FinalState = %s; want Closed", r.FinalState)
	}
}

func TestRun_EmbeddingTextDefault(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	var got string
	gw.getEmbedding = func(_ context.Context, _, text string) ([]float32, error) {
		got = text
		return []float32{1}, nil
	}

	New(gw).Run(context.Background(), scenarioInput())

	if got != DefaultEmbeddingText {
		t.Errorf("embedding text = %q; want %q", got, DefaultEmbeddingText)
	}
}

// ============================================================================
// Teardown
// ============================================================================

func TestRun_TeardownFailure_ReportedAlongside(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.syncChat = func(context.Context, ChatRequest) (string, error) { return "", errors.New("boom") }
	gw.unregister = func(context.Context, string) (Ack, error) { return Ack{Success: false, Message: "unknown client"}, nil }

	r := New(gw).Run(context.Background(), scenarioInput())

	if !errors.Is(r.Err(), ErrTransport) || !errors.Is(r.Err(), ErrProtocol) {
		t.Errorf("Err() = %v; want both the sync failure and the teardown failure", r.Err())
	}
	if !errors.Is(r.Failure(), ErrTransport) {
		t.Errorf("Failure() = %v; want the original sync failure", r.Failure())
	}
	if p, ok := r.FailedPhase(); !ok || p != PhaseSyncCompletion {
		t.Errorf("FailedPhase() = %v, %v; want sync_completion", p, ok)
	}
	if r.Cleanup != CleanupFailed {
		t.Errorf("Cleanup = %s; want failed", r.Cleanup)
	}
	if r.Status != StatusFailed {
		t.Errorf("Status = %s; want failed", r.Status)
	}
}

func TestRun_TeardownFailureAfterSuccess_Degrades(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.unregister = func(context.Context, string) (Ack, error) { return Ack{}, errors.New("connection reset") }

	r := New(gw).Run(context.Background(), scenarioInput())

	assertPhase(t, r, PhaseTeardown, PhaseFailed)
	for _, p := range Phases()[:6] {
		assertPhase(t, r, p, PhaseSucceeded)
	}
	if r.Status != StatusDegraded {
		t.Errorf("Status = %s; want degraded", r.Status)
	}
	if r.Failure() != nil {
		t.Errorf("Failure() = %v; want nil", r.Failure())
	}
	if r.TeardownErr() == nil {
		t.Error("TeardownErr() = nil; want error")
	}
}

func TestRun_TeardownTimeout_CleanupIncomplete(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	gw.unregister = func(context.Context, string) (Ack, error) {
		<-release // ignores ctx, like a hung peer
		return Ack{Success: true}, nil
	}

	start := time.Now()
	r := New(gw, WithTimeouts(time.Second, time.Second, 50*time.Millisecond)).Run(context.Background(), scenarioInput())

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Run took %v; teardown bound not honored", elapsed)
	}
	if r.Cleanup != CleanupIncomplete {
		t.Errorf("Cleanup = %s; want incomplete", r.Cleanup)
	}
	if r.Status == StatusFailed {
		t.Errorf("Status = failed; incomplete cleanup must not fail the run")
	}
	if r.FinalState != StateClosed {
		t.Errorf("FinalState = %s; want Closed", r.FinalState)
	}
	if n := gw.count("unregisterClient"); n != 1 {
		t.Errorf("unregisterClient called %d time(s); want 1", n)
	}
}

// ============================================================================
// Cancellation
// ============================================================================

func TestRun_CanceledMidSession_StillUnregisters(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := newFakeGateway()
	gw.syncChat = func(callCtx context.Context, _ ChatRequest) (string, error) {
		cancel()
		<-callCtx.Done()
		return "", fmt.Errorf("syncChat: %w", callCtx.Err())
	}
	var teardownCtxErr error
	gw.unregister = func(tctx context.Context, _ string) (Ack, error) {
		teardownCtxErr = tctx.Err()
		return Ack{Success: true}, nil
	}

	r := New(gw).Run(ctx, scenarioInput())

	if n := gw.count("unregisterClient"); n != 1 {
		t.Fatalf("unregisterClient called %d time(s); want 1", n)
	}
	if teardownCtxErr != nil {
		t.Errorf("teardown context already done: %v", teardownCtxErr)
	}
	if !errors.Is(r.Err(), ErrCanceled) || !errors.Is(r.Err(), context.Canceled) {
		t.Errorf("Err() = %v; want ErrCanceled wrapping context.Canceled", r.Err())
	}
	if p, ok := r.FailedPhase(); !ok || p != PhaseSyncCompletion {
		t.Errorf("FailedPhase() = %v, %v; want sync_completion", p, ok)
	}
	if r.Status != StatusFailed || r.Cleanup != CleanupReleased {
		t.Errorf("Status/Cleanup = %s/%s; want failed/released", r.Status, r.Cleanup)
	}
	if n := gw.count("asyncChat"); n != 0 {
		t.Errorf("asyncChat called %d time(s) after cancellation; want 0", n)
	}
}

func TestRun_CanceledBeforeNextPhase_NoFurtherRPC(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := newFakeGateway()
	gw.list = func(context.Context) ([]ProviderDescriptor, error) {
		cancel()
		return nil, nil
	}

	r := New(gw).Run(ctx, scenarioInput())

	assertPhase(t, r, PhaseDiscovery, PhaseSucceeded)
	assertPhase(t, r, PhaseNegotiation, PhaseFailed)
	if n := gw.count("getProviderCapabilities"); n != 0 {
		t.Errorf("getProviderCapabilities called %d time(s); want 0", n)
	}
	if !errors.Is(r.Err(), ErrCanceled) {
		t.Errorf("Err() = %v; want ErrCanceled", r.Err())
	}
	if n := gw.count("unregisterClient"); n != 1 {
		t.Errorf("unregisterClient called %d time(s); want 1", n)
	}
}

func TestRun_CanceledBeforeStart_NothingCalled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := newFakeGateway()
	r := New(gw).Run(ctx, scenarioInput())

	if calls := gw.callLog(); len(calls) != 0 {
		t.Fatalf("calls = %v; want none", calls)
	}
	if r.Cleanup != CleanupNotRequired || r.FinalState != StateClosed {
		t.Errorf("Cleanup/FinalState = %s/%s; want not_required/Closed", r.Cleanup, r.FinalState)
	}
}

// ============================================================================
// Observer
// ============================================================================

func TestRun_ObserverSeesEachPhaseFinishBeforeNextStarts(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	New(newFakeGateway(), WithObserver(obs)).Run(context.Background(), scenarioInput())

	want := []string{
		"start:registration", "finish:registration:succeeded",
		"start:discovery", "finish:discovery:succeeded",
		"start:negotiation", "finish:negotiation:succeeded",
		"start:sync_completion", "finish:sync_completion:succeeded",
		"start:stream_completion", "token", "token", "finish:stream_completion:succeeded",
		"start:embedding", "finish:embedding:succeeded",
		"start:teardown", "finish:teardown:succeeded",
	}
	if !reflect.DeepEqual(obs.events, want) {
		t.Errorf("events = %v\nwant %v", obs.events, want)
	}
}

func TestObservers_FanOut(t *testing.T) {
	t.Parallel()

	a, b := &recordingObserver{}, &recordingObserver{}
	obs := Observers{a, b}
	obs.PhaseStarted(PhaseDiscovery)
	obs.Token("x")
	obs.PhaseFinished(PhaseOutcome{Phase: PhaseDiscovery, Status: PhaseSucceeded})

	for _, o := range []*recordingObserver{a, b} {
		if len(o.events) != 3 {
			t.Errorf("events = %v; want 3", o.events)
		}
	}
}
