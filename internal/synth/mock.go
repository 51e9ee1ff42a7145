package synth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

const (
	mockParagraphBase = 400 * time.Millisecond
	mockPerWord       = 40 * time.Millisecond
)

type mockSynth struct {
	sampleRate int
}

// NewMockSynth produces silent WAV pages with one mark per paragraph, timed
// from the paragraph's word count.
func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	var resp Response
	var marks []Mark
	var elapsed time.Duration
	flush := func() error {
		if len(marks) == 0 {
			return nil
		}
		data, err := audio.Silence(elapsed, m.sampleRate)
		if err != nil {
			return err
		}
		resp.Pages = append(resp.Pages, PageAudio{
			AudioContent: base64.StdEncoding.EncodeToString(data),
			Format:       audio.FormatWAV,
			Timestamps:   marks,
		})
		marks = nil
		elapsed = 0
		return nil
	}

	page := 0
	for _, p := range req.Paragraphs {
		if p.PageNumber != page {
			if err := flush(); err != nil {
				return Response{}, err
			}
			page = p.PageNumber
		}
		marks = append(marks, Mark{
			Name:   fmt.Sprintf("page%d_para%d", p.PageNumber, p.ParagraphIndexOnPage),
			TimeMS: elapsed.Milliseconds(),
		})
		elapsed += mockParagraphBase + time.Duration(len(strings.Fields(p.Text)))*mockPerWord
	}
	if err := flush(); err != nil {
		return Response{}, err
	}
	return resp, nil
}
