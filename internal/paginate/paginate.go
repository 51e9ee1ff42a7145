// Package paginate reflows a chapter's blocks into fixed-height pages.
package paginate

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-reader/internal/content"
	"github.com/loqalabs/loqa-reader/internal/layout"
)

// overflowTolerance absorbs sub-pixel rounding in measured heights.
const overflowTolerance = 0.5

// Page is a contiguous run of blocks that fits the effective content height.
type Page struct {
	Number int
	// Header is set on the first page of a chapter only.
	Header string
	Blocks []content.Block
	Height float64
}

// Paginate places blocks on pages greedily. A block that would push the page
// past the effective height starts the next page, unless it is the first
// block on the page, in which case it is kept whole. No blocks, or geometry
// that fails Validate, yields no pages.
func Paginate(blocks []content.Block, c layout.Constants, m layout.Measurer) []Page {
	if len(blocks) == 0 || c.Validate() != nil {
		return nil
	}
	limit := c.EffectiveHeight() + overflowTolerance
	width := c.ContentWidth()

	var pages []Page
	current := Page{Number: 1}
	for _, b := range blocks {
		h := m.Measure(b, width)
		if len(current.Blocks) > 0 && current.Height+h > limit {
			pages = append(pages, current)
			current = Page{Number: current.Number + 1}
		}
		current.Blocks = append(current.Blocks, b)
		current.Height += h
	}
	return append(pages, current)
}

// Chapter parses a chapter's markup and paginates it, placing the chapter
// header on the first page.
func Chapter(ch content.Chapter, c layout.Constants, m layout.Measurer) ([]Page, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	blocks, err := content.ParseBlocks(ch.Content)
	if err != nil {
		return nil, err
	}
	pages := Paginate(blocks, c, m)
	if len(pages) > 0 {
		pages[0].Header = FormatHeader(ch.Number.String(), ch.Title)
	}
	return pages, nil
}

// FormatHeader builds the chapter title shown on the first page. The
// implicit chapter number "0" is not displayed.
func FormatHeader(number, title string) string {
	number = strings.TrimSpace(number)
	title = strings.TrimSpace(title)
	if number == "" || number == "0" {
		return title
	}
	return fmt.Sprintf("%s. %s", number, title)
}
