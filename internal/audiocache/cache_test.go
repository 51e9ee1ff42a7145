package audiocache

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/extract"
	"github.com/loqalabs/loqa-reader/internal/synth"
)

type synthFunc func(ctx context.Context, req synth.Request) (synth.Response, error)

func (f synthFunc) Synthesize(ctx context.Context, req synth.Request) (synth.Response, error) {
	return f(ctx, req)
}

// durationByPayload treats the decoded payload as a Go duration string.
type durationByPayload struct{}

func (durationByPayload) Duration(a audio.Asset) (time.Duration, error) {
	return time.ParseDuration(string(a.Data))
}

func page(payload string, marks ...synth.Mark) synth.PageAudio {
	return synth.PageAudio{
		AudioContent: base64.StdEncoding.EncodeToString([]byte(payload)),
		Format:       "audio/mpeg",
		Timestamps:   marks,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	testKey     = Key{DocumentID: "doc", ChapterID: "ch-1", VoiceID: "voice-a", LanguageCode: "en-US"}
	testRecords = []extract.Record{{PageNumber: 1, Type: extract.Narration, Text: "Hello."}}
)

func TestOverallTimestamps(t *testing.T) {
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		return synth.Response{Pages: []synth.PageAudio{
			page("4000ms", synth.Mark{Name: "m1", TimeMS: 500}, synth.Mark{Name: "m2", TimeMS: 2000}),
			page("3000ms", synth.Mark{Name: "m3", TimeMS: 300}),
		}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())

	entry, err := c.GetOrSynthesize(context.Background(), testKey, testRecords)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	want := []synth.Mark{{Name: "m1", TimeMS: 500}, {Name: "m2", TimeMS: 2000}, {Name: "m3", TimeMS: 4300}}
	if len(entry.Overall) != len(want) {
		t.Fatalf("overall %+v, want %+v", entry.Overall, want)
	}
	for i := range want {
		if entry.Overall[i] != want[i] {
			t.Fatalf("overall %+v, want %+v", entry.Overall, want)
		}
	}
	if entry.Total() != 7*time.Second {
		t.Fatalf("unexpected total %v", entry.Total())
	}
	if idx, within := entry.Locate(4300 * time.Millisecond); idx != 1 || within != 300*time.Millisecond {
		t.Fatalf("locate 4300ms = (%d, %v)", idx, within)
	}
	if idx, within := entry.Locate(10 * time.Second); idx != 1 || within != 6*time.Second {
		t.Fatalf("locate past end = (%d, %v)", idx, within)
	}
}

func TestCacheHitSkipsSynthesis(t *testing.T) {
	var calls atomic.Int32
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		calls.Add(1)
		return synth.Response{Pages: []synth.PageAudio{page("1s")}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())
	for i := 0; i < 3; i++ {
		if _, err := c.GetOrSynthesize(context.Background(), testKey, testRecords); err != nil {
			t.Fatalf("synthesize: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one remote call, got %d", calls.Load())
	}
}

func TestConcurrentCallersShareRequest(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return synth.Response{Pages: []synth.PageAudio{page("1s")}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())

	var wg sync.WaitGroup
	results := make([]*Entry, 4)
	errs := make([]error, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.GetOrSynthesize(context.Background(), testKey, testRecords)
	}()
	<-started
	for i := 1; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrSynthesize(context.Background(), testKey, testRecords)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one remote call, got %d", calls.Load())
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different entry", i)
		}
	}
}

func TestFailureClearsEntryAndRetries(t *testing.T) {
	var calls atomic.Int32
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		if calls.Add(1) == 1 {
			return synth.Response{}, errors.New("connection reset")
		}
		return synth.Response{Pages: []synth.PageAudio{page("2s")}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())

	_, err := c.GetOrSynthesize(context.Background(), testKey, testRecords)
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("expected ErrSynthesisFailed, got %v", err)
	}
	if _, ok := c.Lookup(testKey.ChapterID); ok {
		t.Fatal("failed synthesis left an entry behind")
	}

	entry, err := c.GetOrSynthesize(context.Background(), testKey, testRecords)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls.Load() != 2 || len(entry.Pages) != 1 {
		t.Fatalf("expected retry to synthesize again, calls=%d", calls.Load())
	}
}

func TestEmptyOrUnusableResponseFails(t *testing.T) {
	cases := map[string]synth.Response{
		"no pages":      {},
		"missing parts": {Pages: []synth.PageAudio{{Format: "audio/mpeg"}, {AudioContent: "AAAA"}}},
		"bad base64":    {Pages: []synth.PageAudio{{AudioContent: "!!!", Format: "audio/mpeg"}}},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) { return resp, nil })
			c := New(s, durationByPayload{}, testLogger())
			if _, err := c.GetOrSynthesize(context.Background(), testKey, testRecords); !errors.Is(err, ErrSynthesisFailed) {
				t.Fatalf("expected ErrSynthesisFailed, got %v", err)
			}
		})
	}
}

func TestUnusablePagesSkipped(t *testing.T) {
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		return synth.Response{Pages: []synth.PageAudio{
			page("1s", synth.Mark{Name: "a", TimeMS: 0}),
			{Format: "audio/mpeg"},
			page("not-a-duration", synth.Mark{Name: "b", TimeMS: 100}),
			page("1s", synth.Mark{Name: "c", TimeMS: 200}),
		}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())
	entry, err := c.GetOrSynthesize(context.Background(), testKey, testRecords)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(entry.Pages) != 3 {
		t.Fatalf("expected 3 usable pages, got %d", len(entry.Pages))
	}
	if entry.Pages[1].Duration != 0 {
		t.Fatalf("unreadable audio should yield 0 duration, got %v", entry.Pages[1].Duration)
	}
	// The zero-length page adds no offset for the page after it.
	want := []int64{0, 1100, 1200}
	for i, m := range entry.Overall {
		if m.TimeMS != want[i] {
			t.Fatalf("mark %d at %d, want %d", i, m.TimeMS, want[i])
		}
	}
}

func TestVoiceChangeEvicts(t *testing.T) {
	var voices []string
	var mu sync.Mutex
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		mu.Lock()
		voices = append(voices, req.VoiceName)
		mu.Unlock()
		return synth.Response{Pages: []synth.PageAudio{page("1s")}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())

	if _, err := c.GetOrSynthesize(context.Background(), testKey, testRecords); err != nil {
		t.Fatal(err)
	}
	other := testKey
	other.VoiceID = "voice-b"
	entry, err := c.GetOrSynthesize(context.Background(), other, testRecords)
	if err != nil {
		t.Fatal(err)
	}
	if entry.VoiceID != "voice-b" {
		t.Fatalf("expected entry for new voice, got %s", entry.VoiceID)
	}
	cached, _ := c.Lookup(testKey.ChapterID)
	if cached.VoiceID != "voice-b" {
		t.Fatal("old voice still cached")
	}
	if len(voices) != 2 {
		t.Fatalf("expected two syntheses, got %v", voices)
	}
}

func TestEvictAndReset(t *testing.T) {
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		return synth.Response{Pages: []synth.PageAudio{page("1s")}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())
	other := testKey
	other.ChapterID = "ch-2"
	for _, k := range []Key{testKey, other} {
		if _, err := c.GetOrSynthesize(context.Background(), k, testRecords); err != nil {
			t.Fatal(err)
		}
	}
	c.Evict(testKey.ChapterID)
	if _, ok := c.Lookup(testKey.ChapterID); ok {
		t.Fatal("evicted chapter still cached")
	}
	if _, ok := c.Lookup(other.ChapterID); !ok {
		t.Fatal("evict removed the wrong chapter")
	}
	c.Reset()
	if _, ok := c.Lookup(other.ChapterID); ok {
		t.Fatal("reset left entries behind")
	}
}

func TestResetDuringSynthesisDiscardsResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		close(started)
		<-release
		return synth.Response{Pages: []synth.PageAudio{page("1s")}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())

	type result struct {
		entry *Entry
		err   error
	}
	done := make(chan result, 1)
	go func() {
		entry, err := c.GetOrSynthesize(context.Background(), testKey, testRecords)
		done <- result{entry, err}
	}()

	<-started
	c.Reset()
	close(release)

	res := <-done
	if res.err != nil || res.entry == nil {
		t.Fatalf("caller should still receive the result: %+v", res)
	}
	if _, ok := c.Lookup(testKey.ChapterID); ok {
		t.Fatal("chapter abandoned by reset was cached")
	}
}

func TestEvictDuringSynthesisDiscardsResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		close(started)
		<-release
		return synth.Response{Pages: []synth.PageAudio{page("1s")}}, nil
	})
	c := New(s, durationByPayload{}, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrSynthesize(context.Background(), testKey, testRecords)
		done <- err
	}()

	<-started
	c.Evict(testKey.ChapterID)
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if _, ok := c.Lookup(testKey.ChapterID); ok {
		t.Fatal("evicted chapter was cached by a late result")
	}
}

func TestNoRecordsFails(t *testing.T) {
	s := synthFunc(func(ctx context.Context, req synth.Request) (synth.Response, error) {
		t.Fatal("synthesizer should not be called")
		return synth.Response{}, nil
	})
	c := New(s, durationByPayload{}, testLogger())
	if _, err := c.GetOrSynthesize(context.Background(), testKey, nil); !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("expected ErrSynthesisFailed, got %v", err)
	}
}
