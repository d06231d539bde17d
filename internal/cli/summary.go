package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/runner"
)

type summaryPrinter struct {
	w       io.Writer
	title   *color.Color
	ok      *color.Color
	bad     *color.Color
	dim     *color.Color
	noColor bool
}

func newSummaryPrinter(w io.Writer, noColor bool) *summaryPrinter {
	if !noColor && !isTerminal(w) {
		noColor = true
	}
	p := &summaryPrinter{
		w:       w,
		title:   color.New(color.Bold),
		ok:      color.New(color.FgGreen),
		bad:     color.New(color.FgRed, color.Bold),
		dim:     color.New(color.Faint),
		noColor: noColor,
	}
	if noColor {
		for _, c := range []*color.Color{p.title, p.ok, p.bad, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *summaryPrinter) Print(name string, summary runner.Summary, snap events.Snapshot) {
	p.title.Fprintf(p.w, "\nscenario %s\n", name)

	status := p.ok
	if summary.Failed > 0 {
		status = p.bad
	}
	status.Fprintf(p.w, "  virtual users  %d completed, %d failed, %d skipped\n",
		summary.Completed, summary.Failed, summary.Skipped)
	fmt.Fprintf(p.w, "  elapsed        %s\n", summary.Elapsed.Round(time.Millisecond))

	if snap.Latency.Count > 0 {
		l := snap.Latency
		fmt.Fprintf(p.w, "  acknowledges   %d  min %s  p50 %s  p95 %s  p99 %s  max %s\n",
			l.Count, round(l.Min), round(l.P50), round(l.P95), round(l.P99), round(l.Max))
	}
	if snap.MatchesOK+snap.MatchesFail > 0 {
		matches := p.ok
		if snap.MatchesFail > 0 {
			matches = p.bad
		}
		matches.Fprintf(p.w, "  matches        %d passed, %d failed\n", snap.MatchesOK, snap.MatchesFail)
	}

	p.counts("counters", snap.Counters)
	p.counts("rates", snap.Rates)

	if len(snap.Errors) > 0 {
		p.bad.Fprintf(p.w, "  errors\n")
		for _, e := range snap.Errors {
			fmt.Fprintf(p.w, "    %5d  %s\n", e.Count, e.Message)
		}
	}
}

func (p *summaryPrinter) counts(label string, values map[string]int64) {
	if len(values) == 0 {
		return
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	p.dim.Fprintf(p.w, "  %s\n", label)
	for _, name := range names {
		fmt.Fprintf(p.w, "    %-24s %d\n", name, values[name])
	}
}

func round(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return d.Round(time.Microsecond)
	}
	return d.Round(100 * time.Microsecond)
}
