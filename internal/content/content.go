// Package content holds the document model served by the content API and the
// conversion of chapter markup into ordered blocks.
package content

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNoContent reports a chapter that is missing or has no markup.
var ErrNoContent = errors.New("chapter not found or no content available")

// UnknownCharacter is always offered as a voice target, for narration that
// is not attributed to a named character.
const UnknownCharacter = "Unknown"

// Document is the top-level payload returned by the content source.
type Document struct {
	ID    string `json:"document_id"`
	Title string `json:"title"`
	Books []Book `json:"books"`
}

// Book groups an ordered list of chapters.
type Book struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
}

// Chapter carries the raw block-level markup for one chapter.
type Chapter struct {
	ID      string        `json:"id"`
	Number  ChapterNumber `json:"number"`
	Title   string        `json:"title"`
	Content string        `json:"content"`
}

// ChapterNumber accepts either a JSON string or a JSON number.
type ChapterNumber string

func (n *ChapterNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = ChapterNumber(strings.TrimSpace(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = ChapterNumber(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func (n ChapterNumber) String() string { return string(n) }

// Implicit reports the placeholder number used for text preceding the first heading.
func (n ChapterNumber) Implicit() bool { return n == "" || n == "0" }

// Normalize drops books without chapters.
func (d *Document) Normalize() {
	books := d.Books[:0]
	for _, b := range d.Books {
		if len(b.Chapters) > 0 {
			books = append(books, b)
		}
	}
	d.Books = books
}

func (d *Document) Book(bookID string) (*Book, bool) {
	for i := range d.Books {
		if d.Books[i].ID == bookID {
			return &d.Books[i], true
		}
	}
	return nil, false
}

// Chapter looks up a chapter by book and chapter id.
func (d *Document) Chapter(bookID, chapterID string) (*Chapter, error) {
	book, ok := d.Book(bookID)
	if !ok {
		return nil, ErrNoContent
	}
	for i := range book.Chapters {
		if book.Chapters[i].ID == chapterID {
			return &book.Chapters[i], nil
		}
	}
	return nil, ErrNoContent
}

func (b *Book) hasExplicitChapters() bool {
	for _, c := range b.Chapters {
		if c.Number != "0" {
			return true
		}
	}
	return false
}

// DisplayableChapters returns chapters that get a navigation entry. The
// implicit introduction chapter is never listed.
func (b *Book) DisplayableChapters() []Chapter {
	var out []Chapter
	for _, c := range b.Chapters {
		if c.Number == "0" && strings.EqualFold(strings.TrimSpace(c.Title), "introduction") {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FirstChapter picks the chapter opened when the book is selected.
func (b *Book) FirstChapter() (Chapter, bool) {
	explicit := b.hasExplicitChapters()
	for _, c := range b.DisplayableChapters() {
		if explicit && c.Number == "0" {
			continue
		}
		return c, true
	}
	return Chapter{}, false
}

// Label is the navigation label for a chapter.
func (b *Book) Label(c Chapter) string {
	if b.hasExplicitChapters() && c.Number == "0" {
		return strings.TrimSpace(c.Title)
	}
	return strings.TrimSpace(c.Number.String() + " " + c.Title)
}

var characterTitle = regexp.MustCompile(`^(.+?)\s*-\s*(.+)$`)

// Characters derives voice targets from chapter titles of the form
// "Name - Title". Unknown is always present and sorts last.
func (b *Book) Characters() []string {
	seen := map[string]struct{}{UnknownCharacter: {}}
	for _, c := range b.Chapters {
		m := characterTitle.FindStringSubmatch(strings.TrimSpace(c.Title))
		if m == nil {
			continue
		}
		if name := strings.TrimSpace(m[1]); name != "" {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == UnknownCharacter {
			return false
		}
		if names[j] == UnknownCharacter {
			return true
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}
