package session

// Observer is told about progress synchronously, on the goroutine running the session.
// PhaseFinished for a phase always returns before the next phase's RPC is issued.
type Observer interface {
	PhaseStarted(p Phase)
	PhaseFinished(o PhaseOutcome)
	// Token receives each streamed completion fragment as it arrives.
	Token(fragment string)
}

type nopObserver struct{}

func (nopObserver) PhaseStarted(Phase)         {}
func (nopObserver) PhaseFinished(PhaseOutcome) {}
func (nopObserver) Token(string)               {}

// Observers fans out to several observers in order.
type Observers []Observer

func (obs Observers) PhaseStarted(p Phase) {
	for _, o := range obs {
		o.PhaseStarted(p)
	}
}

func (obs Observers) PhaseFinished(out PhaseOutcome) {
	for _, o := range obs {
		o.PhaseFinished(out)
	}
}

func (obs Observers) Token(fragment string) {
	for _, o := range obs {
		o.Token(fragment)
	}
}
