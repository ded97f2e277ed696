package research

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Section names a region of the knowledge document.
type Section string

const (
	SectionKeyFindings   Section = "key_findings"
	SectionOpenQuestions Section = "open_questions"
	SectionDeadEnds      Section = "dead_ends"
	SectionRawNotes      Section = "raw_notes"
)

// documentSections is the fixed section set, in render order.
var documentSections = []Section{
	SectionKeyFindings,
	SectionOpenQuestions,
	SectionDeadEnds,
	SectionRawNotes,
}

func validSection(s Section) bool {
	for _, known := range documentSections {
		if s == known {
			return true
		}
	}
	return false
}

// Item is one entry in a document section. IDs are unique within a section
// at any point in time.
type Item struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
}

// NewItem creates an item with a fresh id.
func NewItem(text string, sources ...string) Item {
	return Item{ID: uuid.NewString(), Text: text, Sources: sources}
}

// Edit is a document edit operation: a tagged variant with one case per
// operation kind. The document is mutated only through edits, never
// directly.
type Edit interface {
	editSection() Section
	kind() string
}

// AddItems appends items to a section. An item whose id already exists in
// the section replaces the existing item in place, which makes re-applied
// merges idempotent.
type AddItems struct {
	Section Section `json:"section"`
	Items   []Item  `json:"items"`
}

func (e AddItems) editSection() Section { return e.Section }
func (e AddItems) kind() string         { return "add_items" }

// RemoveItems deletes items by id. IDs with no match are ignored.
type RemoveItems struct {
	Section Section  `json:"section"`
	ItemIDs []string `json:"item_ids"`
}

func (e RemoveItems) editSection() Section { return e.Section }
func (e RemoveItems) kind() string         { return "remove_items" }

// ReplaceAll resets a section to exactly the given items. It is the only
// operation permitted to violate temporal ordering; it exists for
// deduplication and consolidation passes.
type ReplaceAll struct {
	Section Section `json:"section"`
	Items   []Item  `json:"items"`
}

func (e ReplaceAll) editSection() Section { return e.Section }
func (e ReplaceAll) kind() string         { return "replace_all" }

// ApplyResult reports what an Apply call did. Warnings record structurally
// invalid edits that were dropped; they never abort the batch.
type ApplyResult struct {
	Applied  int
	Warnings []string
}

// Document is the structured, section-based knowledge artifact. It is not
// safe for concurrent use; a single owner mutates it through Apply.
type Document struct {
	sections map[Section][]Item
}

// NewDocument creates an empty document with all sections present.
func NewDocument() *Document {
	d := &Document{sections: make(map[Section][]Item, len(documentSections))}
	for _, s := range documentSections {
		d.sections[s] = nil
	}
	return d
}

// Apply executes edits in order. An edit referencing an unknown section is
// dropped whole with a warning; edits are never applied partially.
func (d *Document) Apply(edits []Edit) ApplyResult {
	var res ApplyResult
	for _, e := range edits {
		if !validSection(e.editSection()) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("%s: unknown section %q, edit dropped", e.kind(), e.editSection()))
			continue
		}
		switch op := e.(type) {
		case AddItems:
			d.addItems(op)
		case ReplaceAll:
			d.sections[op.Section] = dedupeByID(op.Items)
		case RemoveItems:
			removed := d.removeItems(op)
			if removed == 0 && len(op.ItemIDs) > 0 {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("remove_items: no matching ids in %q, no-op", op.Section))
			}
		default:
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown edit kind %q, dropped", e.kind()))
			continue
		}
		res.Applied++
	}
	return res
}

func (d *Document) addItems(op AddItems) {
	existing := d.sections[op.Section]
	index := make(map[string]int, len(existing))
	for i, item := range existing {
		index[item.ID] = i
	}
	for _, item := range op.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if i, ok := index[item.ID]; ok {
			existing[i] = item
			continue
		}
		index[item.ID] = len(existing)
		existing = append(existing, item)
	}
	d.sections[op.Section] = existing
}

func (d *Document) removeItems(op RemoveItems) int {
	doomed := make(map[string]bool, len(op.ItemIDs))
	for _, id := range op.ItemIDs {
		doomed[id] = true
	}
	existing := d.sections[op.Section]
	kept := existing[:0]
	removed := 0
	for _, item := range existing {
		if doomed[item.ID] {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	d.sections[op.Section] = kept
	return removed
}

func dedupeByID(items []Item) []Item {
	seen := make(map[string]int, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if i, ok := seen[item.ID]; ok {
			out[i] = item
			continue
		}
		seen[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}

// Items returns a copy of a section's items in order.
func (d *Document) Items(s Section) []Item {
	items := d.sections[s]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Len returns the total item count across all sections.
func (d *Document) Len() int {
	n := 0
	for _, items := range d.sections {
		n += len(items)
	}
	return n
}

// sectionTitles maps sections to human headings for rendering.
var sectionTitles = map[Section]string{
	SectionKeyFindings:   "Key Findings",
	SectionOpenQuestions: "Open Questions",
	SectionDeadEnds:      "Dead Ends",
	SectionRawNotes:      "Raw Notes",
}

// Markdown renders the document for prompting and display.
func (d *Document) Markdown() string {
	var b strings.Builder
	for _, s := range documentSections {
		items := d.sections[s]
		fmt.Fprintf(&b, "## %s\n", sectionTitles[s])
		if len(items) == 0 {
			b.WriteString("(empty)\n\n")
			continue
		}
		for _, item := range items {
			fmt.Fprintf(&b, "- %s", item.Text)
			if len(item.Sources) > 0 {
				fmt.Fprintf(&b, " [%s]", strings.Join(item.Sources, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
