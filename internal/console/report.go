package console

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/history"
	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
)

// RenderReport writes the final summary of r.
func RenderReport(w io.Writer, r *session.Report, color bool) error {
	st := newStyles(color)
	var b strings.Builder

	field := func(name, value string) {
		fmt.Fprintf(&b, "%s %s\n", st.label.Render(fmt.Sprintf("%-13s", name+":")), value)
	}

	field("client", fmt.Sprintf("%s (%s)", r.ClientName, r.ClientID))
	field("provider", r.Provider)
	if r.Model != "" {
		field("model", r.Model)
	}
	field("status", st.status(r.Status))
	field("cleanup", string(r.Cleanup))
	if len(r.Providers) > 0 {
		names := make([]string, 0, len(r.Providers))
		for _, p := range r.Providers {
			names = append(names, p.Name)
		}
		field("providers", strings.Join(names, ", "))
	}
	if r.Capabilities != nil {
		field("capabilities", r.Capabilities.String())
	}
	if r.Completion != "" {
		field("completion", r.Completion)
	}
	if r.Fragments > 0 {
		field("streamed", fmt.Sprintf("%s %s", r.Streamed, st.muted.Render(fmt.Sprintf("(%d fragments)", r.Fragments))))
	}
	if r.Embedding != nil {
		field("embedding", FormatEmbedding(r.Embedding))
	}
	field("trace", formatTrace(r.Trace))
	field("duration", r.Duration.Round(time.Millisecond).String())
	if err := r.Err(); err != nil {
		field("error", st.bad.Render(err.Error()))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderHistory writes entries as an aligned table, newest first as given.
func RenderHistory(w io.Writer, entries []*history.Entry, color bool) error {
	if len(entries) == 0 {
		_, err := io.WriteString(w, "no sessions recorded\n")
		return err
	}
	st := newStyles(color)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tCLIENT\tPROVIDER\tSTATUS\tCLEANUP\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.StartedAt.Local().Format(time.DateTime),
			e.ClientID,
			e.Provider,
			st.status(e.Status),
			e.Cleanup,
			e.Duration,
		)
	}
	return tw.Flush()
}
