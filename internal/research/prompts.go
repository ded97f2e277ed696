package research

import (
	"fmt"
	"strings"
)

// System prompts for each reasoning role. Kept terse and grounded: every
// role is told to rely on gathered evidence, not internal knowledge.

const nodeEvalSystemPrompt = "You are a focused research planner working on one narrow sub-question. Decide whether the evidence gathered so far answers it, or name the single most informative next web search. Never repeat a query that was already issued."

const nodeFinishSystemPrompt = "You conclude research on one narrow sub-question. Write the answer strictly from the gathered search results, rate your confidence honestly, and propose follow-up questions only where a real gap remains. Each follow-up must be single-focus, self-contained, and at most 15 words."

const reflectionSystemPrompt = "You maintain a structured research document with sections key_findings, open_questions, dead_ends, raw_notes. Given new search findings, propose selective edits: record only facts that matter, move exhausted leads to dead ends, and keep open questions current. Do not transcribe every search hit. Then judge whether research should continue."

const brainEvaluateSystemPrompt = "You direct an autonomous research effort toward an objective. Given the completed sub-question answers, decide whether the success criteria are met. If not, propose the next sub-questions. Each question must contain exactly one unknown, be self-contained with no assumed context, and be at most 15 words."

const brainFinishSystemPrompt = "You write the final research answer. Use only the completed sub-question answers provided. Address every success criterion explicitly; if one is unsatisfied, say so plainly."

const linearPlanSystemPrompt = "You plan the next round of web searches for a research objective. Given the current research document, propose 1 to 3 queries that close its most important open questions. Never repeat a query that was already issued."

const linearFinishSystemPrompt = "You write the final research answer from a structured research document. Use only its contents. Address every success criterion explicitly; if one is unsatisfied, say so plainly."

func buildObjectiveBlock(objective string, criteria []string) string {
	var b strings.Builder
	b.WriteString("Objective:\n")
	b.WriteString(objective)
	if len(criteria) > 0 {
		b.WriteString("\n\nSuccess criteria:\n")
		for _, c := range criteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

func buildSearchLog(searches []SearchEntry) string {
	if len(searches) == 0 {
		return "(no searches yet)"
	}
	var b strings.Builder
	for i, s := range searches {
		fmt.Fprintf(&b, "Search %d: %s [%s]\n", i+1, s.Query, s.Status)
		if s.Result != "" {
			fmt.Fprintf(&b, "%s\n", s.Result)
		}
		for _, src := range s.Sources {
			fmt.Fprintf(&b, "  - %s (%s)\n", src.Title, src.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func buildNodeEvalPrompt(node *ResearchNode, objective string, criteria, previousQueries []string) string {
	var b strings.Builder
	b.WriteString(buildObjectiveBlock(objective, criteria))
	fmt.Fprintf(&b, "\n\nSub-question under research:\n%s\n", node.Question)
	if node.Goal != "" {
		fmt.Fprintf(&b, "\nA satisfying answer contains:\n%s\n", node.Goal)
	}
	fmt.Fprintf(&b, "\nCycle %d of at most %d.\n", node.Cycles+1, node.MaxCycles)
	if len(previousQueries) > 0 {
		b.WriteString("\nAlready issued queries (never repeat these):\n")
		for _, q := range previousQueries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	b.WriteString("\nEvidence gathered so far:\n")
	b.WriteString(buildSearchLog(node.Searches))
	b.WriteString("\n\nIf the evidence answers the sub-question, decide \"done\". Otherwise decide \"continue\" and give the single next query with its purpose.")
	return b.String()
}

func buildNodeFinishPrompt(node *ResearchNode, objective string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall objective:\n%s\n\nSub-question:\n%s\n", objective, node.Question)
	if node.Goal != "" {
		fmt.Fprintf(&b, "\nA satisfying answer contains:\n%s\n", node.Goal)
	}
	b.WriteString("\nEvidence:\n")
	b.WriteString(buildSearchLog(node.Searches))
	b.WriteString("\n\nWrite the answer to the sub-question from this evidence, rate confidence (low, medium, high), and list follow-up questions for genuine gaps only.")
	return b.String()
}

func buildReflectionPrompt(doc *Document, findings string, objective string, criteria []string) string {
	var b strings.Builder
	b.WriteString(buildObjectiveBlock(objective, criteria))
	b.WriteString("\n\nCurrent document:\n")
	b.WriteString(doc.Markdown())
	b.WriteString("\nNew findings:\n")
	b.WriteString(findings)
	b.WriteString("\n\nPropose document edits and decide whether research should continue. If you decide to stop, state whether the success criteria are satisfied or proven unsatisfiable.")
	return b.String()
}

func buildCorpus(nodes []*ResearchNode) string {
	if len(nodes) == 0 {
		return "(no completed sub-questions yet)"
	}
	var b strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&b, "### %s\nConfidence: %s\n%s\n", n.Question, n.Confidence, n.Answer)
		if len(n.SuggestedFollowups) > 0 {
			b.WriteString("Suggested follow-ups:\n")
			for _, f := range n.SuggestedFollowups {
				fmt.Fprintf(&b, "- [from node %s] %s (%s)\n", n.ID, f.Question, f.Reason)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func buildBrainEvaluatePrompt(objective string, criteria []string, done []*ResearchNode) string {
	var b strings.Builder
	b.WriteString(buildObjectiveBlock(objective, criteria))
	b.WriteString("\n\nCompleted sub-questions:\n")
	b.WriteString(buildCorpus(done))
	if len(done) == 0 {
		b.WriteString("\n\nResearch has not started. Propose the initial set of sub-questions (1 to 5) that best decompose the objective.")
	} else {
		b.WriteString("\n\nDecide: are the success criteria demonstrably met (\"done\"), or is more research needed (\"continue\")? If continue, propose the next sub-questions (1 to 5). When a question derives from a suggested follow-up, set parent_id to that node's id.")
	}
	return b.String()
}

func buildBrainFinishPrompt(objective string, criteria []string, done []*ResearchNode) string {
	var b strings.Builder
	b.WriteString(buildObjectiveBlock(objective, criteria))
	b.WriteString("\n\nCompleted sub-questions:\n")
	b.WriteString(buildCorpus(done))
	b.WriteString("\n\nWrite the final answer to the objective.")
	return b.String()
}

func buildLinearPlanPrompt(doc *Document, objective string, criteria, issued []string) string {
	var b strings.Builder
	b.WriteString(buildObjectiveBlock(objective, criteria))
	b.WriteString("\n\nCurrent document:\n")
	b.WriteString(doc.Markdown())
	if len(issued) > 0 {
		b.WriteString("\nAlready issued queries (never repeat these):\n")
		for _, q := range issued {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	b.WriteString("\nPropose the next queries (1 to 3), each with its purpose.")
	return b.String()
}

func buildLinearFinishPrompt(doc *Document, objective string, criteria []string) string {
	var b strings.Builder
	b.WriteString(buildObjectiveBlock(objective, criteria))
	b.WriteString("\n\nResearch document:\n")
	b.WriteString(doc.Markdown())
	b.WriteString("\nWrite the final answer to the objective.")
	return b.String()
}

// Response schemas. Raw JSON schema maps carried to the provider; local
// decoding enforces the same shape.

func linearPlanSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"queries": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query":   map[string]any{"type": "string"},
						"purpose": map[string]any{"type": "string"},
					},
					"required":             []string{"query"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"queries"},
		"additionalProperties": false,
	}
}

func nodeEvalSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"decision":   map[string]any{"type": "string", "enum": []string{"done", "continue"}},
			"reasoning":  map[string]any{"type": "string"},
			"next_query": map[string]any{"type": "string"},
			"purpose":    map[string]any{"type": "string"},
		},
		"required":             []string{"decision", "reasoning"},
		"additionalProperties": false,
	}
}

func nodeFinishSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer":     map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"followups": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
						"reason":   map[string]any{"type": "string"},
					},
					"required":             []string{"question", "reason"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"answer", "confidence"},
		"additionalProperties": false,
	}
}

func reflectionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"edits": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"op":      map[string]any{"type": "string", "enum": []string{"add_items", "remove_items", "replace_all"}},
						"section": map[string]any{"type": "string"},
						"items": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"id":      map[string]any{"type": "string"},
									"text":    map[string]any{"type": "string"},
									"sources": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
								},
								"required":             []string{"text"},
								"additionalProperties": false,
							},
						},
						"item_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required":             []string{"op", "section"},
					"additionalProperties": false,
				},
			},
			"strategy_update": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"revised_approach": map[string]any{"type": "string"},
					"next_actions":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"additionalProperties": false,
			},
			"should_continue": map[string]any{"type": "boolean"},
			"rationale":       map[string]any{"type": "string"},
		},
		"required":             []string{"edits", "should_continue", "rationale"},
		"additionalProperties": false,
	}
}

func brainEvaluateSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"decision":  map[string]any{"type": "string", "enum": []string{"continue", "done"}},
			"reasoning": map[string]any{"type": "string"},
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question":    map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"goal":        map[string]any{"type": "string"},
						"parent_id":   map[string]any{"type": "string"},
					},
					"required":             []string{"question", "description", "goal"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"decision", "reasoning"},
		"additionalProperties": false,
	}
}

func brainFinishSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{"type": "string"},
		},
		"required":             []string{"answer"},
		"additionalProperties": false,
	}
}
