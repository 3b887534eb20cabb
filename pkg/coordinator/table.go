package coordinator

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/acarl005/stripansi"
)

const lastLineWidth = 60

// lineTracker is an io.Writer that keeps the last non-empty line written
// through it. Attempts stream arbitrary agent output; the status table only
// shows the tail.
type lineTracker struct {
	mu      sync.Mutex
	partial strings.Builder
	last    string
}

// Compile-time interface check.
var _ io.Writer = (*lineTracker)(nil)

func (l *lineTracker) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range p {
		if b != '\n' {
			l.partial.WriteByte(b)

			continue
		}

		if line := strings.TrimSpace(stripansi.Strip(l.partial.String())); line != "" {
			l.last = line
		}

		l.partial.Reset()
	}

	return len(p), nil
}

// LastLine returns the most recent complete non-empty line.
func (l *lineTracker) LastLine() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.last
}

// renderStatus writes the current batch status table to w.
func (c *coordinator) renderStatus(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "MACHINE\tSTATE\tELAPSED\tLAST OUTPUT")

	for _, t := range c.targets {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			t.machineID, t.state, elapsed(t), truncate(t.out.LastLine(), lastLineWidth))
	}

	tw.Flush()
	fmt.Fprintln(w)
}

// elapsed formats how long a target has been (or was) running.
func elapsed(t *target) string {
	if t.startedAt.IsZero() {
		return "-"
	}

	end := t.endedAt
	if end.IsZero() {
		end = time.Now()
	}

	return end.Sub(t.startedAt).Round(time.Second).String()
}

// truncate shortens s to at most n characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-3] + "..."
}
