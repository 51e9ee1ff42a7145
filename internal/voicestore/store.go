// Package voicestore persists per-character voice assignments for a book.
package voicestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/content"
	_ "modernc.org/sqlite"
)

var ErrMissingDocument = errors.New("document id is required")

// Setting is the language region and voice name assigned to a character.
type Setting struct {
	Region string
	Voice  string
}

type CharacterSetting struct {
	Character string `json:"character"`
	Region    string `json:"region"`
	Voice     string `json:"voice"`
}

type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.VoiceStoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "voice-store")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS voice_settings (
    doc_id TEXT NOT NULL,
    book_title TEXT NOT NULL,
    position INTEGER NOT NULL,
    character TEXT NOT NULL,
    region TEXT NOT NULL,
    voice TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (doc_id, book_title, character)
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the assignments for a book. Characters without both a
// region and a voice are not stored.
func (s *Store) Save(ctx context.Context, bookTitle, docID string, settings []CharacterSetting) (err error) {
	if strings.TrimSpace(docID) == "" {
		return ErrMissingDocument
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM voice_settings WHERE doc_id = ? AND book_title = ?`, docID, bookTitle); err != nil {
		return err
	}
	now := s.clock().UTC()
	position := 0
	for _, cs := range settings {
		if cs.Character == "" || cs.Region == "" || cs.Voice == "" {
			continue
		}
		position++
		_, err = tx.ExecContext(ctx,
			`INSERT INTO voice_settings(doc_id, book_title, position, character, region, voice, updated_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(doc_id, book_title, character) DO UPDATE SET region=excluded.region, voice=excluded.voice, updated_at=excluded.updated_at`,
			docID, bookTitle, position, cs.Character, cs.Region, cs.Voice, now)
		if err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Info("voice settings saved", slog.String("doc_id", docID), slog.String("book", bookTitle), slog.Int("characters", position))
	return nil
}

// List returns the assignments for a book in the order they were saved.
func (s *Store) List(ctx context.Context, bookTitle, docID string) ([]CharacterSetting, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, ErrMissingDocument
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT character, region, voice FROM voice_settings
		 WHERE doc_id = ? AND book_title = ? ORDER BY position ASC`, docID, bookTitle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CharacterSetting
	for rows.Next() {
		var cs CharacterSetting
		if err := rows.Scan(&cs.Character, &cs.Region, &cs.Voice); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Load returns the assignments for a book keyed by character.
func (s *Store) Load(ctx context.Context, bookTitle, docID string) (map[string]Setting, error) {
	list, err := s.List(ctx, bookTitle, docID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Setting, len(list))
	for _, cs := range list {
		out[cs.Character] = Setting{Region: cs.Region, Voice: cs.Voice}
	}
	return out, nil
}

// Narrator picks the voice used for reading: the Unknown character's
// assignment when present, otherwise the first saved one.
func Narrator(settings []CharacterSetting) (CharacterSetting, bool) {
	for _, cs := range settings {
		if cs.Character == content.UnknownCharacter {
			return cs, true
		}
	}
	if len(settings) > 0 {
		return settings[0], true
	}
	return CharacterSetting{}, false
}
