package layout

import (
	"errors"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/content"
)

func TestStaticProbeDefaults(t *testing.T) {
	c, err := NewStaticProbe(config.Default().Layout).Probe()
	if err != nil {
		t.Fatalf("static geometry: %v", err)
	}
	if got := c.EffectiveHeight(); got != 1056-192-72 {
		t.Fatalf("unexpected effective height %v", got)
	}
	if got := c.ContentWidth(); got != 816-192 {
		t.Fatalf("unexpected content width %v", got)
	}
}

func TestStaticProbeRejectsNoRoom(t *testing.T) {
	cfg := config.Default().Layout
	cfg.HeaderHeight = cfg.PageHeight
	_, err := NewStaticProbe(cfg).Probe()
	if !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}

	cfg = config.Default().Layout
	cfg.PaddingHorizontal = cfg.PageWidth
	if _, err := NewStaticProbe(cfg).Probe(); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout for zero width, got %v", err)
	}
}

func TestTextMeasurer(t *testing.T) {
	m := TextMeasurer{LineHeight: 20, CharWidth: 10, ParagraphSpacing: 5, RuleHeight: 30}

	short := content.Block{Kind: content.BlockParagraph, Text: "hello world"}
	if got := m.Measure(short, 200); got != 25 {
		t.Fatalf("single line: got %v", got)
	}

	long := content.Block{Kind: content.BlockParagraph, Text: strings.Repeat("word ", 20)}
	// 20 columns, "word word word word" is 19 chars per line.
	if got := m.Lines(long, 200); got != 5 {
		t.Fatalf("expected 5 lines, got %d", got)
	}

	broken := content.Block{Kind: content.BlockParagraph, Text: "ab", Display: "a\nb"}
	if got := m.Lines(broken, 200); got != 2 {
		t.Fatalf("expected explicit break to add a line, got %d", got)
	}

	rule := content.Block{Kind: content.BlockRule}
	if got := m.Measure(rule, 200); got != 30 {
		t.Fatalf("rule height: got %v", got)
	}
}

func TestTextMeasurerDeterministic(t *testing.T) {
	m := NewTextMeasurer(config.Default().Layout)
	b := content.Block{Kind: content.BlockParagraph, Text: strings.Repeat("The quick brown fox jumps. ", 30)}
	first := m.Measure(b, 624)
	for i := 0; i < 5; i++ {
		if got := m.Measure(b, 624); got != first {
			t.Fatalf("measurement changed between calls: %v vs %v", got, first)
		}
	}
	if narrow := m.Measure(b, 300); narrow <= first {
		t.Fatalf("narrower width should not measure shorter: %v <= %v", narrow, first)
	}
}

func TestFixedMeasurer(t *testing.T) {
	m := FixedMeasurer{0: 400, 2: 33}
	if got := m.Measure(content.Block{Index: 2}, 0); got != 33 {
		t.Fatalf("got %v", got)
	}
	if got := m.Measure(content.Block{Index: 7}, 0); got != 0 {
		t.Fatalf("unknown index should measure 0, got %v", got)
	}
}
