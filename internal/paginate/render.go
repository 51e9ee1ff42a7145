package paginate

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/loqalabs/loqa-reader/internal/content"
	"github.com/loqalabs/loqa-reader/internal/layout"
)

var (
	pageBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(1, 2)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	emphasisStyle = lipgloss.NewStyle().Italic(true)
	ruleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
)

// Renderer draws pages as terminal text using the same wrap width the
// measurer used for pagination.
type Renderer struct {
	Measurer layout.TextMeasurer
	Width    float64
	// Plain disables colors and borders.
	Plain bool
}

func (r Renderer) Render(p Page, total int) string {
	cols := r.Measurer.Columns(r.Width)
	var parts []string
	if p.Header != "" {
		parts = append(parts, r.style(headerStyle).Render(p.Header))
	}
	for _, b := range p.Blocks {
		parts = append(parts, r.renderBlock(b, cols))
	}
	parts = append(parts, r.style(footerStyle).Render(fmt.Sprintf("%d / %d", p.Number, total)))
	body := lipgloss.JoinVertical(lipgloss.Left, parts...)
	if r.Plain {
		return body
	}
	return pageBoxStyle.Render(body)
}

func (r Renderer) renderBlock(b content.Block, cols int) string {
	if b.Kind == content.BlockRule {
		return r.style(ruleStyle).Render(strings.Repeat("─", cols))
	}
	text := b.Display
	if strings.TrimSpace(text) == "" {
		text = b.Text
	}
	wrapped := layout.Wrap(strings.TrimSpace(text), cols)
	if b.EmphasisOnly {
		return r.style(emphasisStyle).Render(wrapped) + "\n"
	}
	return wrapped + "\n"
}

func (r Renderer) style(s lipgloss.Style) lipgloss.Style {
	if r.Plain {
		return lipgloss.NewStyle()
	}
	return s
}
