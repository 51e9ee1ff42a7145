// Package synth requests pre-rendered chapter audio from a synthesis backend.
package synth

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/extract"
)

// Mark is a named point in page audio, relative to the start of its page.
type Mark struct {
	Name   string `json:"markName"`
	TimeMS int64  `json:"timeMs"`
}

// Request carries every paragraph of a chapter in page order.
type Request struct {
	DocumentID   string           `json:"documentId"`
	ChapterID    string           `json:"chapterId"`
	VoiceName    string           `json:"voiceName"`
	LanguageCode string           `json:"languageCode"`
	Paragraphs   []extract.Record `json:"chapterParagraphs"`
}

// PageAudio is one page of synthesized audio as returned on the wire.
type PageAudio struct {
	AudioContent string `json:"audioContent"`
	Format       string `json:"format"`
	Timestamps   []Mark `json:"timestamps"`
}

// Usable reports whether the page carries both a payload and a format.
func (p PageAudio) Usable() bool {
	return p.AudioContent != "" && p.Format != ""
}

// Asset decodes the base64 payload.
func (p PageAudio) Asset() (audio.Asset, error) {
	data, err := base64.StdEncoding.DecodeString(p.AudioContent)
	if err != nil {
		return audio.Asset{}, fmt.Errorf("decode page audio: %w", err)
	}
	return audio.Asset{Format: p.Format, Data: data}, nil
}

type Response struct {
	Pages []PageAudio `json:"pageAudioResponses"`
	Error string      `json:"error,omitempty"`
}

// Synthesizer is the contract for producing chapter audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Response, error)
}
