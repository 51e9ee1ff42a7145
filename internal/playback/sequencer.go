// Package playback sequences cached page audio for one chapter through a
// single player, with mark-to-mark navigation across page boundaries.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audiocache"
	"github.com/loqalabs/loqa-reader/internal/extract"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/synth"
)

// DefaultGuardOffset keeps mark navigation from landing on the mark under the playhead.
const DefaultGuardOffset = 50 * time.Millisecond

const (
	MsgSynthesizing  = "Synthesizing audio..."
	MsgReady         = "Audio ready!"
	MsgFinished      = "Chapter audio finished."
	MsgReachedEnd    = "Reached end of audio."
	MsgAtStart       = "Already at the beginning of the chapter."
	MsgNoTimestamps  = "No timestamp data available for navigation."
	msgNoContent     = "No text content found for this chapter to synthesize audio."
	msgSynthesisFail = "Audio synthesis failed"
)

// NavResult describes the outcome of a mark navigation request.
type NavResult int

const (
	NavMoved NavResult = iota
	NavReachedEnd
	NavAtStart
	NavNoTimestamps
)

func (r NavResult) String() string {
	switch r {
	case NavMoved:
		return "moved"
	case NavReachedEnd:
		return "reached_end"
	case NavAtStart:
		return "at_start"
	case NavNoTimestamps:
		return "no_timestamps"
	default:
		return "unknown"
	}
}

// AudioSource yields chapter audio, synthesizing when needed.
type AudioSource interface {
	GetOrSynthesize(ctx context.Context, key audiocache.Key, records []extract.Record) (*audiocache.Entry, error)
	Lookup(chapterID string) (*audiocache.Entry, bool)
}

// StatusSink receives every transition. Publish is called with the sequencer
// lock held and must not call back into the sequencer.
type StatusSink interface {
	Publish(status protocol.PlaybackStatus)
}

// Snapshot is a read-only view of the sequencer.
type Snapshot struct {
	ChapterID  string
	PageIndex  int
	State      State
	Playing    bool
	Overall    []synth.Mark
	PositionMS int64
}

type Options struct {
	SessionID   string
	GuardOffset time.Duration
	Sink        StatusSink
}

type Sequencer struct {
	source AudioSource
	player Player
	sink   StatusSink
	guard  time.Duration
	log    *slog.Logger
	id     string

	mu      sync.Mutex
	state   State
	key     audiocache.Key
	records []extract.Record
	entry   *audiocache.Entry
	page    int
	loaded  bool
	gen     uint64
}

func NewSequencer(source AudioSource, player Player, opts Options, log *slog.Logger) *Sequencer {
	guard := opts.GuardOffset
	if guard <= 0 {
		guard = DefaultGuardOffset
	}
	return &Sequencer{
		source: source,
		player: player,
		sink:   opts.Sink,
		guard:  guard,
		log:    log.With(slog.String("component", "playback-sequencer")),
		id:     opts.SessionID,
		state:  Idle,
	}
}

// Load switches to a chapter. Whatever the previous chapter was doing is
// abandoned, including a pending synthesis. A chapter without paragraphs
// leaves the sequencer idle.
func (s *Sequencer) Load(key audiocache.Key, records []extract.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.stopPlayerLocked()
	s.key = key
	s.records = records
	s.entry = nil
	s.page = 0

	if len(records) == 0 {
		s.state, _ = apply(s.state, evUnload)
		s.emitLocked(evUnload, msgNoContent, nil)
		return
	}
	s.state, _ = apply(s.state, evLoad)
	if entry, ok := s.source.Lookup(key.ChapterID); ok && entry.Matches(key) {
		s.entry = entry
	}
	s.emitLocked(evLoad, "", nil)
}

// SetVoice changes the voice used for the loaded chapter. Cached audio for
// another voice is dropped and playback returns to ready.
func (s *Sequencer) SetVoice(voiceID, languageCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key.VoiceID == voiceID && s.key.LanguageCode == languageCode {
		return
	}
	s.key.VoiceID = voiceID
	s.key.LanguageCode = languageCode
	if s.state == Idle {
		return
	}
	s.gen++
	s.stopPlayerLocked()
	s.entry = nil
	s.page = 0
	s.state, _ = apply(s.state, evLoad)
	s.emitLocked(evLoad, "", nil)
}

// Play starts or resumes playback. Without cached audio it synthesizes the
// chapter first; the lock is released while waiting.
func (s *Sequencer) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Playing {
		s.mu.Unlock()
		return nil
	}

	if s.entry != nil {
		defer s.mu.Unlock()
		next, err := apply(s.state, evPlay)
		if err != nil {
			return err
		}
		if s.state == Finished {
			s.page = 0
			s.loaded = false
		}
		if !s.loaded && !s.loadPlayableLocked(s.page) {
			return errNoPlayablePage
		}
		if err := s.player.Play(); err != nil {
			return fmt.Errorf("start player: %w", err)
		}
		s.state = next
		s.emitLocked(evPlay, "", nil)
		return nil
	}

	next, err := apply(s.state, evSynthesize)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	gen := s.gen
	key := s.key
	records := s.records
	s.emitLocked(evSynthesize, MsgSynthesizing, nil)
	s.mu.Unlock()

	entry, err := s.source.GetOrSynthesize(ctx, key, records)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || key.ChapterID != s.key.ChapterID {
		s.log.Info("discarding stale synthesis result", slog.String("chapter_id", key.ChapterID))
		return ErrSuperseded
	}
	if err != nil {
		s.state, _ = apply(s.state, evSynthFailed)
		s.emitLocked(evSynthFailed, fmt.Sprintf("%s: %v", msgSynthesisFail, err), err)
		return err
	}

	s.entry = entry
	s.page = 0
	if !s.loadPlayableLocked(0) {
		s.state, _ = apply(s.state, evSynthesized)
		return s.finishLocked()
	}
	if err := s.player.Play(); err != nil {
		s.state, _ = apply(s.state, evSynthFailed)
		return fmt.Errorf("start player: %w", err)
	}
	s.state, _ = apply(s.state, evSynthesized)
	s.emitLocked(evSynthesized, MsgReady, nil)
	return nil
}

func (s *Sequencer) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := apply(s.state, evPause)
	if err != nil {
		return err
	}
	if err := s.player.Pause(); err != nil {
		return fmt.Errorf("pause player: %w", err)
	}
	s.state = next
	s.emitLocked(evPause, "", nil)
	return nil
}

// Toggle pauses while playing and plays otherwise.
func (s *Sequencer) Toggle(ctx context.Context) error {
	s.mu.Lock()
	playing := s.state == Playing
	s.mu.Unlock()
	if playing {
		return s.Pause()
	}
	return s.Play(ctx)
}

// HandleEnded advances to the next page when the current one completes.
// Pages without audio are skipped; running out of pages finishes the chapter.
// A completion reported for an epoch the player has since left, because a
// seek or page load won the race for the lock, is ignored.
func (s *Sequencer) HandleEnded(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing || s.entry == nil {
		return
	}
	if current := s.player.Epoch(); epoch != current {
		s.log.Debug("ignoring completion of a superseded run",
			slog.Uint64("epoch", epoch), slog.Uint64("current", current))
		return
	}
	if !s.loadPlayableLocked(s.page + 1) {
		if err := s.finishLocked(); err != nil {
			s.log.Warn("failed to finish chapter", slogError(err))
		}
		return
	}
	if err := s.player.Play(); err != nil {
		s.log.Warn("failed to start next page", slog.Int("page", s.page), slogError(err))
		return
	}
	s.state, _ = apply(s.state, evAdvance)
	s.emitLocked(evAdvance, "", nil)
}

// NextMark seeks to the first mark past the playhead plus the guard offset.
func (s *Sequencer) NextMark() (NavResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.navigableLocked() {
		s.emitLocked(evSeek, MsgNoTimestamps, nil)
		return NavNoTimestamps, nil
	}
	threshold := s.positionLocked() + s.guard
	marks := s.entry.Overall
	i := sort.Search(len(marks), func(i int) bool {
		return time.Duration(marks[i].TimeMS)*time.Millisecond > threshold
	})
	if i == len(marks) {
		s.emitLocked(evSeek, MsgReachedEnd, nil)
		return NavReachedEnd, nil
	}
	if err := s.seekLocked(time.Duration(marks[i].TimeMS)*time.Millisecond, ""); err != nil {
		return NavMoved, err
	}
	return NavMoved, nil
}

// PreviousMark seeks to the last mark before the playhead minus the guard
// offset, or to the start of the chapter when there is none.
func (s *Sequencer) PreviousMark() (NavResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.navigableLocked() {
		s.emitLocked(evSeek, MsgNoTimestamps, nil)
		return NavNoTimestamps, nil
	}
	threshold := s.positionLocked() - s.guard
	marks := s.entry.Overall
	i := sort.Search(len(marks), func(i int) bool {
		return time.Duration(marks[i].TimeMS)*time.Millisecond >= threshold
	}) - 1
	if i < 0 {
		if err := s.seekLocked(0, MsgAtStart); err != nil {
			return NavAtStart, err
		}
		return NavAtStart, nil
	}
	if err := s.seekLocked(time.Duration(marks[i].TimeMS)*time.Millisecond, ""); err != nil {
		return NavMoved, err
	}
	return NavMoved, nil
}

// Stop halts the player and unloads the chapter.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.stopPlayerLocked()
	s.entry = nil
	s.records = nil
	s.key = audiocache.Key{}
	s.page = 0
	s.state, _ = apply(s.state, evUnload)
}

func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ChapterID:  s.key.ChapterID,
		PageIndex:  s.page,
		State:      s.state,
		Playing:    s.state == Playing,
		PositionMS: s.positionLocked().Milliseconds(),
	}
	if s.entry != nil {
		snap.Overall = append([]synth.Mark(nil), s.entry.Overall...)
	}
	return snap
}

func (s *Sequencer) navigableLocked() bool {
	if s.entry == nil || len(s.entry.Overall) == 0 {
		return false
	}
	switch s.state {
	case Idle, Synthesizing:
		return false
	}
	return true
}

// positionLocked is the chapter-wide playhead: earlier pages plus the
// player's position within the current page.
func (s *Sequencer) positionLocked() time.Duration {
	if s.entry == nil {
		return 0
	}
	if s.state == Finished {
		return s.entry.Total()
	}
	pos := s.entry.Offset(s.page)
	if s.loaded {
		pos += s.player.Position()
	}
	return pos
}

func (s *Sequencer) seekLocked(at time.Duration, message string) error {
	next, err := apply(s.state, evSeek)
	if err != nil {
		return err
	}
	idx, within := s.entry.Locate(at)
	if idx != s.page || !s.loaded {
		if err := s.player.Load(s.entry.Pages[idx].Asset); err != nil {
			return fmt.Errorf("load page %d: %w", idx, err)
		}
		s.page = idx
		s.loaded = true
	}
	if err := s.player.Seek(within); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	if next == Playing {
		if err := s.player.Play(); err != nil {
			return fmt.Errorf("resume after seek: %w", err)
		}
	}
	s.state = next
	s.emitLocked(evSeek, message, nil)
	return nil
}

// loadPlayableLocked loads the first page at or after from that has audio.
func (s *Sequencer) loadPlayableLocked(from int) bool {
	for i := from; i < len(s.entry.Pages); i++ {
		p := s.entry.Pages[i]
		if p.Asset.Empty() {
			s.log.Warn("page audio missing, skipping", slog.Int("page", i))
			continue
		}
		if err := s.player.Load(p.Asset); err != nil {
			s.log.Warn("page audio failed to load, skipping", slog.Int("page", i), slogError(err))
			continue
		}
		s.page = i
		s.loaded = true
		return true
	}
	return false
}

func (s *Sequencer) finishLocked() error {
	next, err := apply(s.state, evFinish)
	if err != nil {
		return err
	}
	s.stopPlayerLocked()
	s.state = next
	s.emitLocked(evFinish, MsgFinished, nil)
	return nil
}

func (s *Sequencer) stopPlayerLocked() {
	if err := s.player.Stop(); err != nil {
		s.log.Warn("failed to stop player", slogError(err))
	}
	s.loaded = false
}

func (s *Sequencer) emitLocked(e event, message string, err error) {
	if s.sink == nil {
		return
	}
	status := protocol.PlaybackStatus{
		SessionID:  s.id,
		ChapterID:  s.key.ChapterID,
		Event:      e.String(),
		State:      s.state.String(),
		PageIndex:  s.page,
		PositionMS: s.positionLocked().Milliseconds(),
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	s.sink.Publish(status)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
