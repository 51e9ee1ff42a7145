// Package extract turns paginated chapters into the ordered paragraph records
// sent to synthesis.
package extract

import (
	"regexp"
	"strings"

	"github.com/loqalabs/loqa-reader/internal/content"
	"github.com/loqalabs/loqa-reader/internal/paginate"
)

type ParagraphType string

const (
	Narration  ParagraphType = "narration"
	Dialogue   ParagraphType = "dialogue"
	Italicised ParagraphType = "italicised"
)

// Record is one paragraph of synthesis input.
type Record struct {
	PageNumber           int           `json:"pageNumber"`
	ParagraphIndexOnPage int           `json:"paragraphIndexOnPage"`
	Type                 ParagraphType `json:"paragraphType"`
	Text                 string        `json:"text"`
}

var quotedSpan = regexp.MustCompile(`["“”][^"“”]+["“”]`)

// Extract walks pages and their paragraph blocks in order. Blocks with empty
// text are skipped and in-page indices count only emitted records.
func Extract(pages []paginate.Page) []Record {
	var records []Record
	for _, p := range pages {
		idx := 0
		for _, b := range p.Blocks {
			if b.Kind != content.BlockParagraph {
				continue
			}
			text := strings.TrimSpace(b.Text)
			if text == "" {
				continue
			}
			records = append(records, Record{
				PageNumber:           p.Number,
				ParagraphIndexOnPage: idx,
				Type:                 Classify(b),
				Text:                 text,
			})
			idx++
		}
	}
	return records
}

// Classify labels a paragraph italicised when one emphasis element spans its
// whole text, dialogue when it contains a quoted span, and narration otherwise.
func Classify(b content.Block) ParagraphType {
	if b.EmphasisOnly {
		return Italicised
	}
	if quotedSpan.MatchString(strings.TrimSpace(b.Text)) {
		return Dialogue
	}
	return Narration
}
