package session

import "fmt"

// Phase is one named step of the fixed session sequence.
type Phase int

const (
	PhaseRegistration Phase = iota
	PhaseDiscovery
	PhaseNegotiation
	PhaseSyncCompletion
	PhaseStreamCompletion
	PhaseEmbedding
	PhaseTeardown
)

var phaseNames = [...]string{
	PhaseRegistration:     "registration",
	PhaseDiscovery:        "discovery",
	PhaseNegotiation:      "negotiation",
	PhaseSyncCompletion:   "sync_completion",
	PhaseStreamCompletion: "stream_completion",
	PhaseEmbedding:        "embedding",
	PhaseTeardown:         "teardown",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Phases returns every phase in execution order.
func Phases() []Phase {
	return []Phase{
		PhaseRegistration,
		PhaseDiscovery,
		PhaseNegotiation,
		PhaseSyncCompletion,
		PhaseStreamCompletion,
		PhaseEmbedding,
		PhaseTeardown,
	}
}

// PhaseStatus is the outcome of one phase.
type PhaseStatus string

const (
	PhaseSucceeded    PhaseStatus = "succeeded"
	PhaseFailed       PhaseStatus = "failed"
	PhaseSkipped      PhaseStatus = "skipped"
	PhaseNotAttempted PhaseStatus = "not_attempted"
)

// State is a node of the session state machine.
type State int

const (
	StateInit State = iota
	StateRegistered
	StateDiscovered
	StateNegotiated
	StateSyncCompleted
	StateStreamCompleted
	StateEmbeddingCompleted
	StateEmbeddingSkipped
	StateUnregistered
	StateFailing
	StateClosed
)

var stateNames = [...]string{
	StateInit:               "Init",
	StateRegistered:         "Registered",
	StateDiscovered:         "Discovered",
	StateNegotiated:         "Negotiated",
	StateSyncCompleted:      "Completed(sync)",
	StateStreamCompleted:    "Completed(stream)",
	StateEmbeddingCompleted: "Completed(embedding)",
	StateEmbeddingSkipped:   "Completed(skipped)",
	StateUnregistered:       "Unregistered",
	StateFailing:            "Failing",
	StateClosed:             "Closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// transitions lists the legal successors of each state. Closed has none.
var transitions = map[State][]State{
	StateInit:               {StateRegistered, StateClosed},
	StateRegistered:         {StateDiscovered, StateFailing},
	StateDiscovered:         {StateNegotiated, StateFailing},
	StateNegotiated:         {StateSyncCompleted, StateFailing},
	StateSyncCompleted:      {StateStreamCompleted, StateFailing},
	StateStreamCompleted:    {StateEmbeddingCompleted, StateEmbeddingSkipped, StateFailing},
	StateEmbeddingCompleted: {StateUnregistered},
	StateEmbeddingSkipped:   {StateUnregistered},
	StateFailing:            {StateUnregistered},
	StateUnregistered:       {StateClosed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is the client identity and progress of one orchestration run.
// Owned by a single Run call; not safe for concurrent use.
type Session struct {
	ClientID   string
	ClientName string
	Provider   string // negotiated provider, empty until negotiation succeeds

	state State
	trace []State
}

func newSession(clientID, clientName string) *Session {
	return &Session{
		ClientID:   clientID,
		ClientName: clientName,
		state:      StateInit,
		trace:      []State{StateInit},
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Trace returns every state visited, in order.
func (s *Session) Trace() []State {
	out := make([]State, len(s.trace))
	copy(out, s.trace)
	return out
}

// transition moves the session forward. An illegal edge is a bug in the orchestrator,
// not a runtime condition, so it panics.
func (s *Session) transition(to State) {
	if !CanTransition(s.state, to) {
		panic(fmt.Sprintf("session: illegal transition %s -> %s", s.state, to))
	}
	s.state = to
	s.trace = append(s.trace, to)
}
