// Package console renders session progress and results for a terminal.
package console

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
)

// maxEmbeddingValues is how many vector components FormatEmbedding prints.
const maxEmbeddingValues = 8

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type styles struct {
	ok, warn, bad, muted, label lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{ok: plain, warn: plain, bad: plain, muted: plain, label: plain}
	}
	return styles{
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		label: lipgloss.NewStyle().Bold(true),
	}
}

func (s styles) phaseStatus(st session.PhaseStatus) string {
	switch st {
	case session.PhaseSucceeded:
		return s.ok.Render("ok")
	case session.PhaseSkipped:
		return s.warn.Render("skip")
	case session.PhaseFailed:
		return s.bad.Render("FAIL")
	default:
		return s.muted.Render("--")
	}
}

func (s styles) status(st session.Status) string {
	switch st {
	case session.StatusSucceeded:
		return s.ok.Render(string(st))
	case session.StatusDegraded:
		return s.warn.Render(string(st))
	default:
		return s.bad.Render(string(st))
	}
}

// FormatEmbedding renders v as "[0.1, 0.2]". Long vectors are cut after the first few
// components with the total dimension appended.
func FormatEmbedding(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i == maxEmbeddingValues {
			b.WriteString(", ...")
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	if len(v) > maxEmbeddingValues {
		b.WriteString(" (" + strconv.Itoa(len(v)) + " dims)")
	}
	return b.String()
}

func formatTrace(trace []session.State) string {
	parts := make([]string, 0, len(trace))
	for _, s := range trace {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, " -> ")
}
