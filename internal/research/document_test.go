package research

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDocumentAddAndRead(t *testing.T) {
	doc := NewDocument()
	res := doc.Apply([]Edit{
		AddItems{Section: SectionKeyFindings, Items: []Item{
			{ID: "f1", Text: "finding one", Sources: []string{"https://a.example"}},
			{ID: "f2", Text: "finding two"},
		}},
		AddItems{Section: SectionOpenQuestions, Items: []Item{{ID: "q1", Text: "open question"}}},
	})
	if res.Applied != 2 || len(res.Warnings) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := doc.Items(SectionKeyFindings); len(got) != 2 || got[0].ID != "f1" {
		t.Errorf("key findings = %+v", got)
	}
	if doc.Len() != 3 {
		t.Errorf("Len = %d, want 3", doc.Len())
	}
}

func TestDocumentUnknownSectionDroppedWithWarning(t *testing.T) {
	doc := NewDocument()
	res := doc.Apply([]Edit{
		AddItems{Section: "conclusions", Items: []Item{{ID: "x", Text: "y"}}},
		RemoveItems{Section: "summary", ItemIDs: []string{"x"}},
	})
	if res.Applied != 0 {
		t.Errorf("applied = %d, want 0", res.Applied)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if doc.Len() != 0 {
		t.Error("document must be unchanged")
	}
}

func TestDocumentRemoveMissingIsRecordedNoop(t *testing.T) {
	doc := NewDocument()
	doc.Apply([]Edit{AddItems{Section: SectionKeyFindings, Items: []Item{{ID: "f1", Text: "keep me"}}}})

	res := doc.Apply([]Edit{RemoveItems{Section: SectionKeyFindings, ItemIDs: []string{"nope", "missing"}}})
	if len(res.Warnings) != 1 {
		t.Errorf("expected one no-op warning, got %v", res.Warnings)
	}
	if got := doc.Items(SectionKeyFindings); len(got) != 1 || got[0].ID != "f1" {
		t.Errorf("section changed: %+v", got)
	}
}

func TestDocumentRemove(t *testing.T) {
	doc := NewDocument()
	doc.Apply([]Edit{AddItems{Section: SectionDeadEnds, Items: []Item{
		{ID: "d1", Text: "one"}, {ID: "d2", Text: "two"}, {ID: "d3", Text: "three"},
	}}})
	doc.Apply([]Edit{RemoveItems{Section: SectionDeadEnds, ItemIDs: []string{"d2"}}})

	got := doc.Items(SectionDeadEnds)
	if len(got) != 2 || got[0].ID != "d1" || got[1].ID != "d3" {
		t.Errorf("dead ends = %+v", got)
	}
}

func TestReplaceAllIsIdempotent(t *testing.T) {
	doc := NewDocument()
	doc.Apply([]Edit{AddItems{Section: SectionRawNotes, Items: []Item{{ID: "old", Text: "stale"}}}})

	replacement := ReplaceAll{Section: SectionRawNotes, Items: []Item{
		{ID: "n1", Text: "fresh one"}, {ID: "n2", Text: "fresh two"},
	}}
	doc.Apply([]Edit{replacement})
	first := doc.Items(SectionRawNotes)
	doc.Apply([]Edit{replacement})
	second := doc.Items(SectionRawNotes)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("replace_all not idempotent (-first +second):\n%s", diff)
	}
	if len(second) != 2 {
		t.Errorf("section = %+v", second)
	}
}

func TestDisjointAddsCommute(t *testing.T) {
	a := AddItems{Section: SectionKeyFindings, Items: []Item{{ID: "a1", Text: "alpha"}}}
	b := AddItems{Section: SectionKeyFindings, Items: []Item{{ID: "b1", Text: "beta"}}}

	d1 := NewDocument()
	d1.Apply([]Edit{a, b})
	d2 := NewDocument()
	d2.Apply([]Edit{b, a})

	set := func(d *Document) map[string]string {
		m := map[string]string{}
		for _, item := range d.Items(SectionKeyFindings) {
			m[item.ID] = item.Text
		}
		return m
	}
	if diff := cmp.Diff(set(d1), set(d2)); diff != "" {
		t.Errorf("disjoint adds must commute as sets:\n%s", diff)
	}
}

func TestAddSameIDReplacesInPlace(t *testing.T) {
	doc := NewDocument()
	doc.Apply([]Edit{AddItems{Section: SectionKeyFindings, Items: []Item{{ID: "f1", Text: "v1"}}}})
	doc.Apply([]Edit{AddItems{Section: SectionKeyFindings, Items: []Item{{ID: "f1", Text: "v2"}}}})

	got := doc.Items(SectionKeyFindings)
	if len(got) != 1 {
		t.Fatalf("duplicate id must not duplicate items: %+v", got)
	}
	if got[0].Text != "v2" {
		t.Errorf("text = %q, want v2", got[0].Text)
	}
}

func TestMarkdownRendersAllSections(t *testing.T) {
	doc := NewDocument()
	doc.Apply([]Edit{AddItems{Section: SectionKeyFindings, Items: []Item{
		{ID: "f1", Text: "important fact", Sources: []string{"https://src.example"}},
	}}})

	md := doc.Markdown()
	for _, want := range []string{"## Key Findings", "## Open Questions", "## Dead Ends", "## Raw Notes", "important fact", "https://src.example"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}
