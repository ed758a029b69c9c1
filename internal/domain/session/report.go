package session

import (
	"errors"
	"time"
)

// Status is the overall outcome of a session.
type Status string

const (
	// StatusSucceeded: every attempted phase succeeded (a gated skip counts as success).
	StatusSucceeded Status = "succeeded"
	// StatusDegraded: no fatal failure, but discovery, embedding or teardown failed.
	StatusDegraded Status = "degraded"
	// StatusFailed: a fatal phase failed or the session was canceled.
	StatusFailed Status = "failed"
)

// CleanupStatus is what became of the registered identity.
type CleanupStatus string

const (
	CleanupReleased    CleanupStatus = "released"
	CleanupFailed      CleanupStatus = "failed"
	CleanupIncomplete  CleanupStatus = "incomplete" // unregister did not finish within the bound
	CleanupNotRequired CleanupStatus = "not_required"
)

// PhaseOutcome is the reported result of one phase.
type PhaseOutcome struct {
	Phase    Phase
	Status   PhaseStatus
	Detail   string
	Err      error
	Duration time.Duration
}

// Report is the final account of a session: every phase outcome in order plus the data
// each phase produced.
type Report struct {
	ClientID   string
	ClientName string
	Provider   string
	Model      string

	FinalState State
	Status     Status
	Cleanup    CleanupStatus
	Trace      []State
	Phases     []PhaseOutcome

	Providers    []ProviderDescriptor
	Capabilities Capabilities
	Completion   string
	Streamed     string
	Fragments    int
	Embedding    []float32

	StartedAt time.Time
	Duration  time.Duration

	failure     error // the fatal error, if any
	teardownErr error
}

func newReport(s *Session, in Input, now time.Time) *Report {
	phases := make([]PhaseOutcome, 0, len(phaseNames))
	for _, p := range Phases() {
		phases = append(phases, PhaseOutcome{Phase: p, Status: PhaseNotAttempted})
	}
	return &Report{
		ClientID:   s.ClientID,
		ClientName: s.ClientName,
		Provider:   in.Provider,
		Model:      in.Model,
		Phases:     phases,
		StartedAt:  now,
	}
}

func (r *Report) record(out PhaseOutcome) {
	r.Phases[out.Phase] = out
}

// Phase returns the outcome of p.
func (r *Report) Phase(p Phase) PhaseOutcome {
	return r.Phases[p]
}

// FailedPhase returns the phase whose failure ended the session, if any.
func (r *Report) FailedPhase() (Phase, bool) {
	var pe *PhaseError
	if errors.As(r.failure, &pe) {
		return pe.Phase, true
	}
	return 0, false
}

// Err returns the fatal failure joined with the teardown failure. Nil when neither happened.
func (r *Report) Err() error {
	return errors.Join(r.failure, r.teardownErr)
}

// Failure returns only the fatal failure.
func (r *Report) Failure() error { return r.failure }

// TeardownErr returns only the teardown failure.
func (r *Report) TeardownErr() error { return r.teardownErr }

func (r *Report) close(s *Session, now time.Time) *Report {
	r.FinalState = s.State()
	r.Trace = s.Trace()
	r.Duration = now.Sub(r.StartedAt)

	switch {
	case r.failure != nil:
		r.Status = StatusFailed
	case r.anyFailed():
		r.Status = StatusDegraded
	default:
		r.Status = StatusSucceeded
	}
	return r
}

func (r *Report) anyFailed() bool {
	for _, p := range r.Phases {
		if p.Status == PhaseFailed {
			return true
		}
	}
	return false
}
