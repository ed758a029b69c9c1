package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
)

var _ session.Observer = (*Printer)(nil)

// Printer is a session.Observer that writes one line per finished phase and echoes streamed
// tokens inline as they arrive.
type Printer struct {
	mu        sync.Mutex
	w         io.Writer
	st        styles
	streaming bool
}

// NewPrinter writes to w, styled when color is true.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, st: newStyles(color)}
}

func (p *Printer) PhaseStarted(ph session.Phase) {
	if ph != session.PhaseStreamCompletion {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = true
	fmt.Fprintf(p.w, "%s %s ", p.st.muted.Render(">>"), ph)
}

func (p *Printer) Token(fragment string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.w, fragment) //nolint:errcheck
}

func (p *Printer) PhaseFinished(out session.PhaseOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streaming {
		io.WriteString(p.w, "\n") //nolint:errcheck
		p.streaming = false
	}

	line := fmt.Sprintf("[%s] %-17s", p.st.phaseStatus(out.Status), out.Phase)
	switch {
	case out.Err != nil:
		line += " " + p.st.bad.Render(out.Err.Error())
	case out.Detail != "":
		line += " " + out.Detail
	}
	if out.Duration > 0 {
		line += " " + p.st.muted.Render("("+out.Duration.Round(time.Millisecond).String()+")")
	}
	fmt.Fprintln(p.w, line)
}
