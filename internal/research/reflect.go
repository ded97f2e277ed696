package research

import (
	"context"
	"fmt"
	"strings"

	"deepscout/internal/llm"
	"deepscout/internal/logging"
	"deepscout/internal/websearch"

	"go.uber.org/zap"
)

// StrategyUpdate is an optional revised approach proposed by reflection.
type StrategyUpdate struct {
	RevisedApproach string   `json:"revised_approach"`
	NextActions     []string `json:"next_actions,omitempty"`
}

// Reflection is the outcome of one reflection step over new findings.
type Reflection struct {
	Edits          []Edit
	Strategy       *StrategyUpdate
	ShouldContinue bool

	// Rationale justifies the verdict. When ShouldContinue is false it must
	// state whether the success criteria are satisfied or unsatisfiable;
	// the caller surfaces it into the decision log.
	Rationale string

	// Warnings records structurally invalid edits that were dropped during
	// decoding. Application-time warnings come from Document.Apply.
	Warnings []string

	Tokens int
}

// Reflector consumes raw search findings plus the current document and
// produces edit operations and a continue/stop verdict. Selection is
// qualitative (the prompt demands selectivity); the document enforces the
// structural invariants regardless.
type Reflector struct {
	gen llm.Client
}

// NewReflector constructs a reflection engine over the given generator.
func NewReflector(gen llm.Client) *Reflector {
	return &Reflector{gen: gen}
}

// reflectionWire is the model's response shape.
type reflectionWire struct {
	Edits          []editWire      `json:"edits"`
	Strategy       *StrategyUpdate `json:"strategy_update"`
	ShouldContinue bool            `json:"should_continue"`
	Rationale      string          `json:"rationale"`
}

// editWire is the loosely-typed edit as produced by the model; decodeEdits
// converts it to the tagged Edit variants.
type editWire struct {
	Op      string   `json:"op"`
	Section string   `json:"section"`
	Items   []Item   `json:"items,omitempty"`
	ItemIDs []string `json:"item_ids,omitempty"`
}

// Reflect runs one reflection step. Malformed model output is retried once;
// a second failure falls back to the safe default (continue, no edits) so
// the caller always makes forward progress.
func (r *Reflector) Reflect(ctx context.Context, doc *Document, findings websearch.Findings, objective string, criteria []string) (Reflection, error) {
	log := logging.For(logging.CategoryDocument)

	req := llm.Request{
		System: reflectionSystemPrompt,
		Prompt: buildReflectionPrompt(doc, findingsText(findings), objective, criteria),
		Schema: reflectionSchema(),
	}

	var wire reflectionWire
	var tokens int
	var decodeErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := r.gen.GenerateStructured(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return Reflection{}, ctx.Err()
			}
			decodeErr = err
			continue
		}
		tokens += resp.Tokens
		if err := llm.Decode(resp, &wire); err != nil {
			decodeErr = err
			continue
		}
		decodeErr = nil
		break
	}
	if decodeErr != nil {
		// Safe default: keep researching rather than hanging or crashing.
		log.Warn("reflection output unusable, defaulting to continue", zap.Error(decodeErr))
		return Reflection{
			ShouldContinue: true,
			Rationale:      fmt.Sprintf("reflection failed (%v); defaulting to continue", decodeErr),
			Tokens:         tokens,
		}, nil
	}

	edits, warnings := decodeEdits(wire.Edits)
	return Reflection{
		Edits:          edits,
		Strategy:       wire.Strategy,
		ShouldContinue: wire.ShouldContinue,
		Rationale:      wire.Rationale,
		Warnings:       warnings,
		Tokens:         tokens,
	}, nil
}

// decodeEdits converts wire edits to tagged variants, dropping malformed
// entries with a warning. Section validity is checked again at apply time.
func decodeEdits(wire []editWire) ([]Edit, []string) {
	var edits []Edit
	var warnings []string
	for _, w := range wire {
		switch w.Op {
		case "add_items":
			if len(w.Items) == 0 {
				warnings = append(warnings, "add_items with no items, dropped")
				continue
			}
			edits = append(edits, AddItems{Section: Section(w.Section), Items: w.Items})
		case "remove_items":
			if len(w.ItemIDs) == 0 {
				warnings = append(warnings, "remove_items with no item_ids, dropped")
				continue
			}
			edits = append(edits, RemoveItems{Section: Section(w.Section), ItemIDs: w.ItemIDs})
		case "replace_all":
			edits = append(edits, ReplaceAll{Section: Section(w.Section), Items: w.Items})
		default:
			warnings = append(warnings, fmt.Sprintf("unknown edit op %q, dropped", w.Op))
		}
	}
	return edits, warnings
}

// findingsText renders a findings batch for prompting.
func findingsText(f websearch.Findings) string {
	var b strings.Builder
	for _, q := range f.Queries {
		fmt.Fprintf(&b, "Query: %s [%s]\n", q.Query, q.Status)
		if q.Answer != "" {
			fmt.Fprintf(&b, "%s\n", q.Answer)
		}
		if q.Error != "" {
			fmt.Fprintf(&b, "error: %s\n", q.Error)
		}
		for _, s := range q.Sources {
			fmt.Fprintf(&b, "  - %s (%s)\n", s.Title, s.URL)
		}
		b.WriteString("\n")
	}
	if f.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", f.Summary)
	}
	if b.Len() == 0 {
		return "(no findings)"
	}
	return strings.TrimSpace(b.String())
}
