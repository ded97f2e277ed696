package research

import (
	"context"
	"fmt"
	"strings"

	"deepscout/internal/llm"
	"deepscout/internal/logging"

	"go.uber.org/zap"
)

// maxQuestionsPerDecision bounds how many sub-questions one evaluate
// decision may propose.
const maxQuestionsPerDecision = 5

// ProposedQuestion is one sub-question suggested by an evaluate decision.
type ProposedQuestion struct {
	Question    string `json:"question"`
	Description string `json:"description"`
	Goal        string `json:"goal"`
	ParentID    string `json:"parent_id,omitempty"`
}

// EvaluateResult is the brain's verdict over the completed-node corpus.
type EvaluateResult struct {
	Decision  string // "continue" or "done"
	Reasoning string
	Questions []ProposedQuestion
	Tokens    int
}

// brain runs the evaluate/finish decision loop over the whole tree. It is
// the only writer of the final answer and, through the orchestrator, of the
// terminal status.
type brain struct {
	gen     llm.Client
	emitter *Emitter
}

type brainEvaluateWire struct {
	Decision  string             `json:"decision"`
	Reasoning string             `json:"reasoning"`
	Questions []ProposedQuestion `json:"questions"`
}

type brainFinishWire struct {
	Answer string `json:"answer"`
}

// Evaluate decides whether the success criteria are met. With an empty
// corpus it acts as the initial planner and must return "continue" with the
// seed questions. Malformed output is retried once; a second failure forces
// "done" so the run always terminates.
func (b *brain) Evaluate(ctx context.Context, objective string, criteria []string, done []*ResearchNode) (EvaluateResult, error) {
	log := logging.For(logging.CategoryBrain)

	req := llm.Request{
		System: brainEvaluateSystemPrompt,
		Prompt: buildBrainEvaluatePrompt(objective, criteria, done),
		Schema: brainEvaluateSchema(),
	}

	var wire brainEvaluateWire
	tokens := 0
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := b.gen.GenerateStructured(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return EvaluateResult{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		tokens += resp.Tokens
		if err := llm.Decode(resp, &wire); err != nil {
			lastErr = err
			continue
		}
		if wire.Decision != "continue" && wire.Decision != "done" {
			lastErr = fmt.Errorf("invalid decision %q", wire.Decision)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		// Forced done keeps the tree moving toward synthesis.
		log.Warn("evaluate unusable, forcing done", zap.Error(lastErr))
		wire = brainEvaluateWire{
			Decision:  "done",
			Reasoning: fmt.Sprintf("evaluation failed twice (%v); finishing with completed work", lastErr),
		}
	}

	result := EvaluateResult{
		Decision:  wire.Decision,
		Reasoning: wire.Reasoning,
		Questions: sanitizeQuestions(wire.Questions),
		Tokens:    tokens,
	}
	if result.Decision == "continue" && len(result.Questions) == 0 {
		// A continue with nothing to research is indistinguishable from done.
		result.Decision = "done"
		result.Reasoning += " (no further questions proposed)"
	}

	b.emitter.Emit(BrainDecision{Decision: result.Decision, Reasoning: result.Reasoning})
	log.Info("evaluate", zap.String("decision", result.Decision), zap.Int("questions", len(result.Questions)))
	return result, nil
}

// Finish synthesizes the final answer from the completed-node corpus.
// Model failure after one retry degrades to a stitched summary of node
// answers so the caller always receives a non-empty answer.
func (b *brain) Finish(ctx context.Context, objective string, criteria []string, done []*ResearchNode) (string, int, error) {
	req := llm.Request{
		System: brainFinishSystemPrompt,
		Prompt: buildBrainFinishPrompt(objective, criteria, done),
		Schema: brainFinishSchema(),
	}

	tokens := 0
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := b.gen.GenerateStructured(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", tokens, ctx.Err()
			}
			lastErr = err
			continue
		}
		tokens += resp.Tokens
		var wire brainFinishWire
		if err := llm.Decode(resp, &wire); err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(wire.Answer) == "" {
			lastErr = fmt.Errorf("empty final answer")
			continue
		}
		return wire.Answer, tokens, nil
	}

	logging.For(logging.CategoryBrain).Warn("finish failed, stitching node answers", zap.Error(lastErr))
	var fallback strings.Builder
	fmt.Fprintf(&fallback, "Synthesis was unavailable; completed findings for %q:\n\n", objective)
	if len(done) == 0 {
		fallback.WriteString("No sub-questions completed before synthesis.\n")
	}
	for _, n := range done {
		fmt.Fprintf(&fallback, "%s\n%s\n\n", n.Question, n.Answer)
	}
	return strings.TrimSpace(fallback.String()), tokens, nil
}

// sanitizeQuestions enforces the question-quality contract the rest of the
// system assumes: drop empties, cap the batch size. Wording constraints
// (single focus, ≤15 words) are prompt-enforced; over-long questions are
// kept rather than truncated mid-sentence.
func sanitizeQuestions(qs []ProposedQuestion) []ProposedQuestion {
	var out []ProposedQuestion
	for _, q := range qs {
		if strings.TrimSpace(q.Question) == "" {
			continue
		}
		out = append(out, q)
		if len(out) == maxQuestionsPerDecision {
			break
		}
	}
	return out
}
