package research

import (
	"context"
	"errors"
	"testing"

	"deepscout/internal/llm"
	"deepscout/internal/websearch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFindings() websearch.Findings {
	return websearch.Findings{Queries: []websearch.QueryResult{{
		Query:   "battery chemistry trends",
		Answer:  "LFP adoption is growing in mass-market vehicles.",
		Sources: []websearch.Source{{Title: "report", URL: "https://example.com/report"}},
		Status:  websearch.StatusSuccess,
	}}}
}

func TestReflectDecodesEdits(t *testing.T) {
	gen := new(llm.Scripted).Enqueue(map[string]any{
		"edits": []map[string]any{
			{
				"op":      "add_items",
				"section": "key_findings",
				"items":   []map[string]any{{"id": "f1", "text": "LFP is winning mass market", "sources": []string{"https://example.com/report"}}},
			},
			{
				"op":       "remove_items",
				"section":  "open_questions",
				"item_ids": []string{"q-old"},
			},
		},
		"should_continue": true,
		"rationale":       "solid progress, gaps remain",
	})
	r := NewReflector(gen)
	doc := NewDocument()

	refl, err := r.Reflect(context.Background(), doc, sampleFindings(), "objective", nil)
	require.NoError(t, err)
	require.Len(t, refl.Edits, 2)
	assert.True(t, refl.ShouldContinue)
	assert.Empty(t, refl.Warnings)

	res := doc.Apply(refl.Edits)
	assert.Equal(t, 2, res.Applied)
	items := doc.Items(SectionKeyFindings)
	require.Len(t, items, 1)
	assert.Equal(t, "LFP is winning mass market", items[0].Text)
}

func TestReflectDropsMalformedEdits(t *testing.T) {
	gen := new(llm.Scripted).Enqueue(map[string]any{
		"edits": []map[string]any{
			{"op": "annihilate", "section": "key_findings"},
			{"op": "add_items", "section": "key_findings"},
			{"op": "remove_items", "section": "key_findings"},
			{"op": "add_items", "section": "key_findings", "items": []map[string]any{{"text": "kept"}}},
		},
		"should_continue": false,
		"rationale":       "criteria satisfied",
	})
	r := NewReflector(gen)

	refl, err := r.Reflect(context.Background(), NewDocument(), sampleFindings(), "objective", nil)
	require.NoError(t, err)
	assert.Len(t, refl.Edits, 1, "only the well-formed edit survives")
	assert.Len(t, refl.Warnings, 3)
	assert.False(t, refl.ShouldContinue)
}

func TestReflectSafeDefaultOnRepeatedFailure(t *testing.T) {
	gen := new(llm.Scripted).
		EnqueueError(errors.New("timeout")).
		EnqueueRaw("{{{")
	r := NewReflector(gen)

	refl, err := r.Reflect(context.Background(), NewDocument(), sampleFindings(), "objective", nil)
	require.NoError(t, err, "reflection failure degrades to the safe default")
	assert.True(t, refl.ShouldContinue)
	assert.Empty(t, refl.Edits)
	assert.NotEmpty(t, refl.Rationale)
}

func TestReflectCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReflector(new(llm.Scripted))

	_, err := r.Reflect(ctx, NewDocument(), sampleFindings(), "objective", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFindingsText(t *testing.T) {
	text := findingsText(sampleFindings())
	assert.Contains(t, text, "battery chemistry trends")
	assert.Contains(t, text, "https://example.com/report")

	assert.Equal(t, "(no findings)", findingsText(websearch.Findings{}))
}
