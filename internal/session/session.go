// Package session holds everything one reader has open, from the document
// down to the sequencer playing the selected chapter.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-reader/internal/audiocache"
	"github.com/loqalabs/loqa-reader/internal/content"
	"github.com/loqalabs/loqa-reader/internal/extract"
	"github.com/loqalabs/loqa-reader/internal/layout"
	"github.com/loqalabs/loqa-reader/internal/paginate"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/voicestore"
)

var (
	ErrNoVoice    = errors.New("no voice selected")
	ErrNoDocument = errors.New("no document loaded")
	ErrNoChapter  = errors.New("no chapter selected")
)

// Voice identifies the synthesis voice and its language region.
type Voice struct {
	Name         string `json:"name"`
	LanguageCode string `json:"language_code"`
}

// AudioCache is the chapter audio store the session plays from.
type AudioCache interface {
	playback.AudioSource
	Reset()
}

// VoiceSettings persists character voice assignments per book.
type VoiceSettings interface {
	List(ctx context.Context, bookTitle, docID string) ([]voicestore.CharacterSetting, error)
	Save(ctx context.Context, bookTitle, docID string, settings []voicestore.CharacterSetting) error
}

type Options struct {
	GuardOffset  time.Duration
	Sink         playback.StatusSink
	DefaultVoice Voice
}

type Session struct {
	id        string
	log       *slog.Logger
	constants layout.Constants
	measurer  layout.Measurer
	source    content.Source
	cache     AudioCache
	settings  VoiceSettings
	seq       *playback.Sequencer
	fallback  Voice

	mu        sync.Mutex
	doc       content.Document
	opened    bool
	bookID    string
	chapterID string
	pages     []paginate.Page
	records   []extract.Record
	voice     Voice
}

// New probes the layout once and builds an idle session. An unusable layout
// is fatal.
func New(probe layout.Probe, measurer layout.Measurer, source content.Source, cache AudioCache, player playback.Player, settings VoiceSettings, opts Options, log *slog.Logger) (*Session, error) {
	constants, err := probe.Probe()
	if err != nil {
		return nil, err
	}
	if err := constants.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	log = log.With(slog.String("component", "reader-session"), slog.String("session_id", id))
	return &Session{
		id:        id,
		log:       log,
		constants: constants,
		measurer:  measurer,
		source:    source,
		cache:     cache,
		settings:  settings,
		fallback:  opts.DefaultVoice,
		seq: playback.NewSequencer(cache, player, playback.Options{
			SessionID:   id,
			GuardOffset: opts.GuardOffset,
			Sink:        opts.Sink,
		}, log),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Constants() layout.Constants { return s.constants }

// Open fetches the document and selects the first chapter of the first book.
// A document without chapters leaves the session open with nothing selected.
func (s *Session) Open(ctx context.Context) error {
	doc, err := s.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	doc.Normalize()

	s.mu.Lock()
	s.doc = doc
	s.opened = true
	s.bookID, s.chapterID = "", ""
	s.pages, s.records = nil, nil
	s.mu.Unlock()

	s.log.Info("document opened", slog.String("document_id", doc.ID), slog.Int("books", len(doc.Books)))
	if len(doc.Books) == 0 {
		return nil
	}
	return s.SelectBook(ctx, doc.Books[0].ID)
}

func (s *Session) Document() (content.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return content.Document{}, ErrNoDocument
	}
	return s.doc, nil
}

// SelectBook opens the book's first chapter and resolves the book's voice.
func (s *Session) SelectBook(ctx context.Context, bookID string) error {
	s.mu.Lock()
	book, ok := s.doc.Book(bookID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("book %q: %w", bookID, content.ErrNoContent)
	}
	first, ok := book.FirstChapter()
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("book %q: %w", bookID, content.ErrNoContent)
	}
	return s.SelectChapter(ctx, bookID, first.ID)
}

// SelectChapter paginates a chapter, extracts its paragraphs and hands them
// to the sequencer. Cached audio of the previous chapter is discarded. A
// chapter with no content leaves playback idle and returns ErrNoContent.
func (s *Session) SelectChapter(ctx context.Context, bookID, chapterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrNoDocument
	}

	bookChanged := bookID != s.bookID
	s.bookID = bookID
	s.chapterID = chapterID
	s.pages, s.records = nil, nil
	s.cache.Reset()

	if bookChanged {
		s.voice = s.resolveVoiceLocked(ctx)
	}
	key := s.keyLocked()

	ch, err := s.doc.Chapter(bookID, chapterID)
	if err == nil && strings.TrimSpace(ch.Content) == "" {
		err = content.ErrNoContent
	}
	if err != nil {
		s.seq.Load(key, nil)
		return fmt.Errorf("chapter %q: %w", chapterID, err)
	}

	pages, err := paginate.Chapter(*ch, s.constants, s.measurer)
	if err != nil {
		s.seq.Load(key, nil)
		return fmt.Errorf("paginate chapter %q: %w", chapterID, err)
	}
	s.pages = pages
	s.records = extract.Extract(pages)
	s.seq.Load(key, s.records)

	s.log.Info("chapter selected",
		slog.String("book_id", bookID),
		slog.String("chapter_id", chapterID),
		slog.Int("pages", len(pages)),
		slog.Int("paragraphs", len(s.records)))
	return nil
}

// Selected reports the open book and chapter.
func (s *Session) Selected() (bookID, chapterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookID, s.chapterID
}

func (s *Session) Pages() []paginate.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

func (s *Session) Records() []extract.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// Title is the reading title: document, book and chapter number. The
// implicit introduction number is left out.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := []string{strings.TrimSpace(s.doc.Title)}
	if book, ok := s.doc.Book(s.bookID); ok {
		parts = append(parts, strings.TrimSpace(book.Title))
		if ch, err := s.doc.Chapter(s.bookID, s.chapterID); err == nil && !ch.Number.Implicit() {
			parts = append(parts, ch.Number.String())
		}
	}
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " - ")
}

// Characters lists the voice targets of the selected book.
func (s *Session) Characters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.doc.Book(s.bookID)
	if !ok {
		return nil
	}
	return book.Characters()
}

func (s *Session) Voice() Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// SetVoice overrides the active voice for the current book.
func (s *Session) SetVoice(v Voice) {
	s.mu.Lock()
	s.voice = v
	s.mu.Unlock()
	s.seq.SetVoice(v.Name, v.LanguageCode)
}

// SaveVoices stores character assignments for the selected book and
// switches to the narrator voice they imply.
func (s *Session) SaveVoices(ctx context.Context, settings []voicestore.CharacterSetting) error {
	s.mu.Lock()
	book, ok := s.doc.Book(s.bookID)
	if !ok {
		s.mu.Unlock()
		return ErrNoChapter
	}
	docID := s.doc.ID
	s.mu.Unlock()

	if err := s.settings.Save(ctx, book.Title, docID, settings); err != nil {
		return fmt.Errorf("save voice settings: %w", err)
	}

	s.mu.Lock()
	s.voice = s.resolveVoiceLocked(ctx)
	v := s.voice
	s.mu.Unlock()
	s.seq.SetVoice(v.Name, v.LanguageCode)
	return nil
}

// Play starts or resumes the selected chapter.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	voice := s.voice
	s.mu.Unlock()
	if voice.Name == "" {
		return ErrNoVoice
	}
	return s.seq.Play(ctx)
}

func (s *Session) Pause() error { return s.seq.Pause() }

// Toggle pauses while playing and plays otherwise.
func (s *Session) Toggle(ctx context.Context) error {
	if s.seq.Snapshot().Playing {
		return s.seq.Pause()
	}
	return s.Play(ctx)
}

func (s *Session) NextMark() (playback.NavResult, error) { return s.seq.NextMark() }

func (s *Session) PreviousMark() (playback.NavResult, error) { return s.seq.PreviousMark() }

// HandleEnded is the player's completion callback.
func (s *Session) HandleEnded(epoch uint64) { s.seq.HandleEnded(epoch) }

func (s *Session) Snapshot() playback.Snapshot { return s.seq.Snapshot() }

// Close stops playback.
func (s *Session) Close() { s.seq.Stop() }

func (s *Session) keyLocked() audiocache.Key {
	return audiocache.Key{
		DocumentID:   s.doc.ID,
		ChapterID:    s.chapterID,
		VoiceID:      s.voice.Name,
		LanguageCode: s.voice.LanguageCode,
	}
}

// resolveVoiceLocked picks the narrator voice saved for the selected book,
// falling back to the configured default.
func (s *Session) resolveVoiceLocked(ctx context.Context) Voice {
	book, ok := s.doc.Book(s.bookID)
	if !ok || s.settings == nil {
		return s.fallback
	}
	saved, err := s.settings.List(ctx, book.Title, s.doc.ID)
	if err != nil {
		s.log.Warn("failed to load voice settings", slog.String("error", err.Error()))
		return s.fallback
	}
	if n, ok := voicestore.Narrator(saved); ok {
		return Voice{Name: n.Voice, LanguageCode: n.Region}
	}
	return s.fallback
}
