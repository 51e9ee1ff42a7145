// Package layout supplies page geometry and block measurement to the
// pagination engine.
package layout

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/content"
	"github.com/muesli/reflow/wordwrap"
)

// ErrInvalidLayout is returned when the page geometry leaves no room for content.
var ErrInvalidLayout = errors.New("invalid layout")

// Constants is the page geometry in pixels. It is computed once and never mutated.
type Constants struct {
	PageWidth         float64
	PageHeight        float64
	PaddingVertical   float64
	PaddingHorizontal float64
	HeaderHeight      float64
}

// ContentWidth is the width available to blocks.
func (c Constants) ContentWidth() float64 {
	return c.PageWidth - c.PaddingHorizontal
}

// EffectiveHeight is the height available to blocks after padding and the
// reserved header area.
func (c Constants) EffectiveHeight() float64 {
	return c.PageHeight - c.PaddingVertical - c.HeaderHeight
}

// Validate rejects geometry with no usable content area.
func (c Constants) Validate() error {
	if c.EffectiveHeight() <= 0 {
		return fmt.Errorf("%w: effective content height %.1fpx", ErrInvalidLayout, c.EffectiveHeight())
	}
	if c.ContentWidth() <= 0 {
		return fmt.Errorf("%w: content width %.1fpx", ErrInvalidLayout, c.ContentWidth())
	}
	return nil
}

// Probe measures the host geometry.
type Probe interface {
	Probe() (Constants, error)
}

// StaticProbe reports geometry taken from configuration.
type StaticProbe struct {
	cfg config.LayoutConfig
}

func NewStaticProbe(cfg config.LayoutConfig) *StaticProbe {
	return &StaticProbe{cfg: cfg}
}

func (p *StaticProbe) Probe() (Constants, error) {
	c := Constants{
		PageWidth:         p.cfg.PageWidth,
		PageHeight:        p.cfg.PageHeight,
		PaddingVertical:   p.cfg.PaddingVertical,
		PaddingHorizontal: p.cfg.PaddingHorizontal,
		HeaderHeight:      p.cfg.HeaderHeight,
	}
	if err := c.Validate(); err != nil {
		return Constants{}, err
	}
	return c, nil
}

// Measurer reports the rendered height of a block at a given content width.
type Measurer interface {
	Measure(b content.Block, width float64) float64
}

// TextMeasurer approximates rendered height with a monospace cell model:
// text is word-wrapped at floor(width/CharWidth) columns.
type TextMeasurer struct {
	LineHeight       float64
	CharWidth        float64
	ParagraphSpacing float64
	RuleHeight       float64
}

func NewTextMeasurer(cfg config.LayoutConfig) TextMeasurer {
	return TextMeasurer{
		LineHeight:       cfg.LineHeight,
		CharWidth:        cfg.CharWidth,
		ParagraphSpacing: cfg.ParagraphSpacing,
		RuleHeight:       cfg.RuleHeight,
	}
}

func (m TextMeasurer) Measure(b content.Block, width float64) float64 {
	if b.Kind == content.BlockRule {
		return m.RuleHeight
	}
	return float64(m.Lines(b, width))*m.LineHeight + m.ParagraphSpacing
}

// Lines counts wrapped lines. An empty paragraph still occupies one line.
func (m TextMeasurer) Lines(b content.Block, width float64) int {
	text := strings.TrimSpace(b.Display)
	if text == "" {
		text = strings.TrimSpace(b.Text)
	}
	if text == "" {
		return 1
	}
	return strings.Count(Wrap(text, m.Columns(width)), "\n") + 1
}

// Columns is the wrap limit for width, never less than one.
func (m TextMeasurer) Columns(width float64) int {
	if m.CharWidth <= 0 {
		return 1
	}
	cols := int(math.Floor(width / m.CharWidth))
	if cols < 1 {
		return 1
	}
	return cols
}

// Wrap folds whitespace-collapsed text at cols columns, keeping explicit line breaks.
func Wrap(text string, cols int) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = wordwrap.String(strings.Join(strings.Fields(line), " "), cols)
	}
	return strings.Join(lines, "\n")
}

// FixedMeasurer returns pre-measured heights keyed by block index.
type FixedMeasurer map[int]float64

func (m FixedMeasurer) Measure(b content.Block, _ float64) float64 {
	return m[b.Index]
}
