package content

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BlockKind distinguishes paragraphs from separators.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockRule
)

func (k BlockKind) String() string {
	switch k {
	case BlockParagraph:
		return "paragraph"
	case BlockRule:
		return "rule"
	default:
		return "unknown"
	}
}

// Block is one paragraph or separator of a chapter, in chapter order.
type Block struct {
	Index int
	Kind  BlockKind
	// Markup is the rendered HTML of the element.
	Markup string
	// Text is the element's text content with line breaks dropped.
	Text string
	// Display is the text with <br> rendered as newlines, used for measurement.
	Display string
	// EmphasisOnly is set when the first <em>/<i> descendant spans the whole text.
	EmphasisOnly bool
}

// ParseBlocks extracts <p> and <hr> elements from chapter markup in document
// order. Markup with no such elements yields no blocks.
func ParseBlocks(markup string) ([]Block, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, nil
	}
	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(markup), container)
	if err != nil {
		return nil, fmt.Errorf("parse chapter markup: %w", err)
	}

	var blocks []Block
	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.P:
				b, err := newBlock(n, BlockParagraph, len(blocks))
				if err != nil {
					return err
				}
				blocks = append(blocks, b)
				return nil
			case atom.Hr:
				b, err := newBlock(n, BlockRule, len(blocks))
				if err != nil {
					return err
				}
				blocks = append(blocks, b)
				return nil
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, n := range nodes {
		if err := walk(n); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

func newBlock(n *html.Node, kind BlockKind, index int) (Block, error) {
	var buf strings.Builder
	if err := html.Render(&buf, n); err != nil {
		return Block{}, fmt.Errorf("render block %d: %w", index, err)
	}
	b := Block{
		Index:  index,
		Kind:   kind,
		Markup: buf.String(),
	}
	if kind == BlockRule {
		return b, nil
	}
	b.Text = textContent(n, false)
	b.Display = textContent(n, true)
	if em := firstEmphasis(n); em != nil {
		text := strings.TrimSpace(b.Text)
		b.EmphasisOnly = text != "" && strings.TrimSpace(textContent(em, false)) == text
	}
	return b, nil
}

func textContent(n *html.Node, breaks bool) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
		case breaks && n.Type == html.ElementNode && n.DataAtom == atom.Br:
			sb.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func firstEmphasis(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Em || c.DataAtom == atom.I) {
			return c
		}
		if found := firstEmphasis(c); found != nil {
			return found
		}
	}
	return nil
}
