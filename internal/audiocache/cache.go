// Package audiocache memoizes synthesized chapter audio, one voice per chapter.
package audiocache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/extract"
	"github.com/loqalabs/loqa-reader/internal/synth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ErrSynthesisFailed wraps every failure to produce chapter audio. The cache
// holds no entry for the chapter afterwards.
var ErrSynthesisFailed = errors.New("audio synthesis failed")

// maxVoiceRetries bounds how often a caller re-joins synthesis after an
// in-flight request for another voice resolves.
const maxVoiceRetries = 3

type Key struct {
	DocumentID   string
	ChapterID    string
	VoiceID      string
	LanguageCode string
}

// Page is the playable audio for one rendered page.
type Page struct {
	Asset    audio.Asset
	Marks    []synth.Mark
	Duration time.Duration
}

// Entry is the cached audio for one chapter and voice. It is not modified
// after it is stored.
type Entry struct {
	ChapterID    string
	VoiceID      string
	LanguageCode string
	Pages        []Page
	// Overall holds every page mark shifted by the durations of the pages before it.
	Overall []synth.Mark
}

// Matches reports a non-empty entry for the key's voice and language.
func (e *Entry) Matches(k Key) bool {
	return e != nil && e.VoiceID == k.VoiceID && e.LanguageCode == k.LanguageCode && len(e.Pages) > 0
}

// Offset is the chapter time at which page i starts.
func (e *Entry) Offset(i int) time.Duration {
	var total time.Duration
	for p := 0; p < i && p < len(e.Pages); p++ {
		total += e.Pages[p].Duration
	}
	return total
}

// Total is the summed duration of all pages.
func (e *Entry) Total() time.Duration {
	return e.Offset(len(e.Pages))
}

// Locate maps a chapter time to a page index and the offset within that page.
// Times past the end land at the end of the last page.
func (e *Entry) Locate(at time.Duration) (int, time.Duration) {
	if len(e.Pages) == 0 {
		return 0, 0
	}
	if at < 0 {
		at = 0
	}
	var start time.Duration
	for i, p := range e.Pages {
		if at < start+p.Duration || i == len(e.Pages)-1 {
			return i, at - start
		}
		start += p.Duration
	}
	return len(e.Pages) - 1, 0
}

// DurationProber measures an asset's playing time.
type DurationProber interface {
	Duration(a audio.Asset) (time.Duration, error)
}

type Cache struct {
	synth  synth.Synthesizer
	prober DurationProber
	log    *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	// gen advances on Evict and Reset; results of syntheses started
	// before that are returned to their callers but not stored.
	gen   uint64
	group singleflight.Group

	tracer    trace.Tracer
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	failures  metric.Int64Counter
	synthTime metric.Float64Histogram
}

func New(s synth.Synthesizer, prober DurationProber, log *slog.Logger) *Cache {
	c := &Cache{
		synth:   s,
		prober:  prober,
		log:     log.With(slog.String("component", "audio-cache")),
		entries: make(map[string]*Entry),
		tracer:  otel.Tracer("github.com/loqalabs/loqa-reader/audiocache"),
	}
	if err := c.initMetrics(); err != nil {
		c.log.Warn("failed to initialize metrics", slogError(err))
	}
	return c
}

func (c *Cache) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-reader/audiocache")
	var err error
	if c.hits, err = meter.Int64Counter("loqa.reader.cache.hits", metric.WithDescription("Chapter audio served from cache")); err != nil {
		return err
	}
	if c.misses, err = meter.Int64Counter("loqa.reader.cache.misses", metric.WithDescription("Chapter audio requests that needed synthesis")); err != nil {
		return err
	}
	if c.failures, err = meter.Int64Counter("loqa.reader.synthesis.failures", metric.WithDescription("Failed chapter synthesis requests")); err != nil {
		return err
	}
	c.synthTime, err = meter.Float64Histogram("loqa.reader.synthesis.duration",
		metric.WithDescription("Chapter synthesis round trip"), metric.WithUnit("ms"))
	return err
}

// GetOrSynthesize returns cached audio for the chapter when the voice and
// language match, otherwise it evicts the old entry and synthesizes. Callers
// asking for the same chapter concurrently share a single remote request.
func (c *Cache) GetOrSynthesize(ctx context.Context, key Key, records []extract.Record) (*Entry, error) {
	for attempt := 0; attempt < maxVoiceRetries; attempt++ {
		if entry, ok := c.lookupOrEvict(key); ok {
			c.add(ctx, c.hits, key)
			return entry, nil
		}
		c.add(ctx, c.misses, key)

		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()
		v, err, _ := c.group.Do(key.ChapterID, func() (any, error) {
			return c.synthesize(ctx, key, records, gen)
		})
		if err != nil {
			return nil, err
		}
		entry := v.(*Entry)
		if entry.Matches(key) {
			return entry, nil
		}
		// Joined a request for another voice; go around and replace it.
	}
	return nil, fmt.Errorf("%w: voice changed during synthesis of %s", ErrSynthesisFailed, key.ChapterID)
}

func (c *Cache) lookupOrEvict(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key.ChapterID]
	if !ok {
		return nil, false
	}
	if entry.Matches(key) {
		return entry, true
	}
	delete(c.entries, key.ChapterID)
	c.log.Info("evicted chapter audio", slog.String("chapter_id", key.ChapterID),
		slog.String("voice", entry.VoiceID), slog.String("language", entry.LanguageCode))
	return nil, false
}

func (c *Cache) synthesize(ctx context.Context, key Key, records []extract.Record, gen uint64) (*Entry, error) {
	ctx, span := c.tracer.Start(ctx, "audiocache.synthesize", trace.WithAttributes(
		attribute.String("chapter_id", key.ChapterID),
		attribute.String("voice", key.VoiceID),
		attribute.Int("paragraphs", len(records)),
	))
	defer span.End()

	start := time.Now()
	entry, err := c.fetch(ctx, key, records)
	if c.synthTime != nil {
		c.synthTime.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.Bool("success", err == nil)))
	}
	if err != nil {
		c.mu.Lock()
		delete(c.entries, key.ChapterID)
		c.mu.Unlock()
		c.add(ctx, c.failures, key)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("chapter synthesis failed", slog.String("chapter_id", key.ChapterID), slogError(err))
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	c.mu.Lock()
	stale := gen != c.gen
	if !stale {
		c.entries[key.ChapterID] = entry
	}
	c.mu.Unlock()
	if stale {
		c.log.Info("chapter audio abandoned while synthesizing, not cached", slog.String("chapter_id", key.ChapterID))
		return entry, nil
	}
	c.log.Info("chapter audio ready",
		slog.String("chapter_id", key.ChapterID),
		slog.Int("pages", len(entry.Pages)),
		slog.Int("marks", len(entry.Overall)),
		slog.Duration("duration", entry.Total()))
	return entry, nil
}

func (c *Cache) fetch(ctx context.Context, key Key, records []extract.Record) (*Entry, error) {
	if len(records) == 0 {
		return nil, errors.New("no paragraphs to synthesize")
	}
	resp, err := c.synth.Synthesize(ctx, synth.Request{
		DocumentID:   key.DocumentID,
		ChapterID:    key.ChapterID,
		VoiceName:    key.VoiceID,
		LanguageCode: key.LanguageCode,
		Paragraphs:   records,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Pages) == 0 {
		return nil, errors.New("response has no page audio")
	}

	entry := &Entry{ChapterID: key.ChapterID, VoiceID: key.VoiceID, LanguageCode: key.LanguageCode}
	for i, pa := range resp.Pages {
		if !pa.Usable() {
			c.log.Warn("page audio missing content or format", slog.Int("page", i+1))
			continue
		}
		asset, err := pa.Asset()
		if err != nil {
			c.log.Warn("page audio undecodable", slog.Int("page", i+1), slogError(err))
			continue
		}
		d, err := c.prober.Duration(asset)
		if err != nil {
			c.log.Warn("page audio duration unavailable, using 0", slog.Int("page", i+1), slogError(err))
			d = 0
		}
		entry.Pages = append(entry.Pages, Page{
			Asset:    asset,
			Marks:    append([]synth.Mark(nil), pa.Timestamps...),
			Duration: d,
		})
	}
	if len(entry.Pages) == 0 {
		return nil, errors.New("no usable page audio in response")
	}
	entry.Overall = Overall(entry.Pages)
	return entry, nil
}

// Overall concatenates page marks, shifting each page's marks by the summed
// duration of the pages before it.
func Overall(pages []Page) []synth.Mark {
	var out []synth.Mark
	var offset time.Duration
	for _, p := range pages {
		for _, m := range p.Marks {
			out = append(out, synth.Mark{Name: m.Name, TimeMS: m.TimeMS + offset.Milliseconds()})
		}
		offset += p.Duration
	}
	return out
}

// Lookup returns the cached entry for a chapter, whatever its voice.
func (c *Cache) Lookup(chapterID string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[chapterID]
	return entry, ok
}

// Evict drops any entry for the chapter.
func (c *Cache) Evict(chapterID string) {
	c.mu.Lock()
	delete(c.entries, chapterID)
	c.gen++
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.gen++
	c.mu.Unlock()
}

func (c *Cache) add(ctx context.Context, counter metric.Int64Counter, key Key) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("voice", key.VoiceID)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
