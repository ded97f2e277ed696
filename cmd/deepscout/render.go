package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"deepscout/internal/research"
)

// renderer adapts the orchestrator's event stream to the terminal: either
// human-readable progress lines on stderr with the answer on stdout, or
// JSON lines on stdout for machine consumers.
type renderer struct {
	out   io.Writer
	errw  io.Writer
	jsonl *json.Encoder
	quiet bool
}

func newRenderer(out, errw io.Writer, jsonOut, quiet bool) *renderer {
	r := &renderer{out: out, errw: errw, quiet: quiet}
	if jsonOut {
		r.jsonl = json.NewEncoder(out)
	}
	return r
}

func (r *renderer) onEvent(env research.Envelope) {
	if r.jsonl != nil {
		_ = r.jsonl.Encode(env)
		return
	}
	if r.quiet {
		return
	}

	switch ev := env.Event.(type) {
	case research.ResearchStarted:
		fmt.Fprintf(r.errw, "▸ researching: %s\n", ev.Objective)
	case research.NodeStart:
		fmt.Fprintf(r.errw, "  ├─ %s\n", ev.Question)
	case research.SearchStarted:
		for _, q := range ev.Queries {
			fmt.Fprintf(r.errw, "  │    ⌕ %s\n", q.Query)
		}
	case research.SearchCompleted:
		for _, q := range ev.Queries {
			fmt.Fprintf(r.errw, "  │    %s %s\n", statusGlyph(string(q.Status)), q.Query)
		}
	case research.NodeComplete:
		fmt.Fprintf(r.errw, "  ├─ answered (%s): %s\n", ev.Confidence, truncate(ev.Answer, 100))
	case research.BrainDecision:
		fmt.Fprintf(r.errw, "  ◆ %s: %s\n", ev.Decision, truncate(ev.Reasoning, 120))
	case research.ReflectionCompleted:
		fmt.Fprintf(r.errw, "  ◆ reflect: %s\n", truncate(ev.Reasoning, 120))
	case research.DocUpdated:
		fmt.Fprintf(r.errw, "  ✎ document: %d edits applied\n", ev.Applied)
		for _, w := range ev.Warnings {
			fmt.Fprintf(r.errw, "    warning: %s\n", w)
		}
	case research.ErrorEvent:
		fmt.Fprintf(r.errw, "  ✗ %s\n", ev.Message)
	}
}

// treeResult prints the run's outcome after the event stream has drained.
func (r *renderer) treeResult(state *research.ResearchState) {
	if r.jsonl != nil {
		_ = r.jsonl.Encode(state)
		return
	}
	switch state.Status {
	case research.RunComplete:
		fmt.Fprintln(r.out, state.FinalAnswer)
		if !r.quiet {
			fmt.Fprintf(r.errw, "\n%d nodes, %d tokens, %s\n",
				len(state.Nodes), state.TotalTokens,
				state.FinishedAt.Sub(state.StartedAt).Round(time.Second))
		}
	case research.RunStopped:
		fmt.Fprintln(r.errw, "stopped; partial findings:")
		for _, n := range state.DoneNodes() {
			fmt.Fprintf(r.out, "- %s\n  %s\n", n.Question, truncate(n.Answer, 200))
		}
	case research.RunFailed:
		fmt.Fprintln(r.errw, "research failed before producing an answer")
	}
}

// linearResult prints a linear run's outcome.
func (r *renderer) linearResult(res *research.LinearResult) {
	if r.jsonl != nil {
		_ = r.jsonl.Encode(res)
		if res.Document != nil {
			_ = r.jsonl.Encode(map[string]string{"document": res.Document.Markdown()})
		}
		return
	}
	switch res.Status {
	case research.RunComplete:
		fmt.Fprintln(r.out, res.FinalAnswer)
	case research.RunStopped:
		fmt.Fprintln(r.errw, "stopped; document so far:")
		fmt.Fprintln(r.out, res.Document.Markdown())
	}
}

func statusGlyph(status string) string {
	switch status {
	case "success":
		return "✓"
	case "no_results":
		return "∅"
	default:
		return "✗"
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
