package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
)

const testDocument = `{
  "title": "Harbour Lights",
  "document_id": "doc-7",
  "books": [
    {"id": "tab-1", "title": "Book One", "chapters": [
      {"id": "c1", "number": "1", "title": "Mara - Arrival", "content": "<p>The boat came in late.</p><p>\"Is anyone there?\" she called.</p>"},
      {"id": "c2", "number": "2", "title": "Departure", "content": "<p>Morning came.</p>"}
    ]}
  ]
}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	docPath := filepath.Join(dir, "document.json")
	if err := os.WriteFile(docPath, []byte(testDocument), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Content.Path = docPath
	cfg.EventStore.Path = filepath.Join(dir, "events.db")
	cfg.VoiceStore.Path = filepath.Join(dir, "voices.db")
	cfg.Synthesis.SampleRate = 8000
	return cfg
}

func startRuntime(t *testing.T, cfg config.Config) (*Runtime, *httptest.Server) {
	t.Helper()
	r := New(cfg, "test", slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))
	if err := r.startComponents(context.Background()); err != nil {
		r.closeComponents()
		t.Fatalf("start components: %v", err)
	}
	t.Cleanup(r.closeComponents)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	r.registerAPI(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return r, srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestDocumentAndPages(t *testing.T) {
	_, srv := startRuntime(t, testConfig(t))

	var doc documentView
	if code := getJSON(t, srv.URL+"/v1/document", &doc); code != http.StatusOK {
		t.Fatalf("document status %d", code)
	}
	if doc.ID != "doc-7" || doc.SelectedChapter != "c1" || len(doc.Books[0].Chapters) != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}

	var pages []pageView
	getJSON(t, srv.URL+"/v1/pages", &pages)
	if len(pages) != 1 || pages[0].Header != "1. Mara - Arrival" || len(pages[0].Blocks) != 2 {
		t.Fatalf("unexpected pages %+v", pages)
	}

	resp, err := http.Get(srv.URL + "/v1/pages?format=text&plain=1")
	if err != nil {
		t.Fatal(err)
	}
	text, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(string(text), "Harbour Lights - Book One - 1") || !strings.Contains(string(text), "The boat came in late.") {
		t.Fatalf("unexpected text rendering:\n%s", text)
	}
}

func TestSelectAndPlayback(t *testing.T) {
	_, srv := startRuntime(t, testConfig(t))

	var rep protocol.ControlReply
	if code := postJSON(t, srv.URL+"/v1/chapter", `{"book_id":"tab-1","chapter_id":"c2"}`, &rep); code != http.StatusOK || !rep.OK {
		t.Fatalf("select: %d %+v", code, rep)
	}
	if code := postJSON(t, srv.URL+"/v1/chapter", `{"book_id":"tab-1","chapter_id":"missing"}`, &rep); code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing chapter, got %d", code)
	}
	postJSON(t, srv.URL+"/v1/chapter", `{"book_id":"tab-1","chapter_id":"c1"}`, &rep)

	if code := postJSON(t, srv.URL+"/v1/playback/play", ``, &rep); code != http.StatusOK || rep.State != "playing" {
		t.Fatalf("play: %d %+v", code, rep)
	}
	var status playbackView
	getJSON(t, srv.URL+"/v1/playback", &status)
	if status.Marks != 2 || status.Voice.Name == "" {
		t.Fatalf("unexpected playback status %+v", status)
	}

	if code := postJSON(t, srv.URL+"/v1/playback/pause", ``, &rep); code != http.StatusOK || rep.State != "paused" {
		t.Fatalf("pause: %d %+v", code, rep)
	}
	if code := postJSON(t, srv.URL+"/v1/playback/previous", ``, &rep); code != http.StatusOK {
		t.Fatalf("previous: %d %+v", code, rep)
	}
	if code := postJSON(t, srv.URL+"/v1/playback/rewind", ``, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", code)
	}
}

func TestVoiceSettingsRoundTrip(t *testing.T) {
	_, srv := startRuntime(t, testConfig(t))

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/voices/settings",
		strings.NewReader(`[{"character":"Unknown","region":"en-GB","voice":"en-GB-Chirp-HD-F"}]`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status %d", resp.StatusCode)
	}

	var view voiceSettingsView
	getJSON(t, srv.URL+"/v1/voices/settings", &view)
	if view.Active.Name != "en-GB-Chirp-HD-F" || len(view.Settings) != 1 {
		t.Fatalf("unexpected settings %+v", view)
	}
	if len(view.Characters) != 2 {
		t.Fatalf("expected Mara and Unknown, got %v", view.Characters)
	}
}

func TestVoicesWithoutCatalog(t *testing.T) {
	_, srv := startRuntime(t, testConfig(t))
	if code := getJSON(t, srv.URL+"/v1/voices", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestVoicesFromCatalog(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"voices":[
			{"name":"en-US-Chirp-HD-F","languageCodes":["en-US"],"ssmlGender":"FEMALE"},
			{"name":"en-US-Standard-A","languageCodes":["en-US"],"ssmlGender":"MALE"},
			{"name":"de-DE-Chirp-HD-F","languageCodes":["de-DE"],"ssmlGender":"FEMALE"}
		]}`))
	}))
	defer catalog.Close()

	cfg := testConfig(t)
	cfg.Voices.Endpoint = catalog.URL
	_, srv := startRuntime(t, cfg)

	var groups []voiceGroupView
	if code := getJSON(t, srv.URL+"/v1/voices", &groups); code != http.StatusOK {
		t.Fatalf("voices status %d", code)
	}
	if len(groups) != 1 || groups[0].Language != "en-US" || len(groups[0].Voices) != 1 {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if groups[0].Voices[0].Label != "en-US-Chirp-HD-F (FEMALE)" {
		t.Fatalf("unexpected label %q", groups[0].Voices[0].Label)
	}
}

func TestEventsRecorded(t *testing.T) {
	r, srv := startRuntime(t, testConfig(t))
	var rep protocol.ControlReply
	postJSON(t, srv.URL+"/v1/playback/next", ``, &rep)
	if rep.Message != "No timestamp data available for navigation." {
		t.Fatalf("unexpected navigation message %q", rep.Message)
	}

	r.recorder.Close()
	var events []eventView
	getJSON(t, srv.URL+"/v1/events", &events)
	if len(events) < 2 {
		t.Fatalf("expected load and seek events, got %+v", events)
	}
	if events[0].Type != "load" {
		t.Fatalf("expected first event load, got %+v", events[0])
	}
}

func TestControlOverBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	r, srv := startRuntime(t, cfg)

	if code := getJSON(t, srv.URL+"/readyz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("runtime not started yet, expected 503, got %d", code)
	}

	conn, err := nats.Connect(r.natsServer.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	statuses := make(chan *nats.Msg, 16)
	sub, err := conn.ChanSubscribe(protocol.SubjectPlaybackStatus, statuses)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := conn.Flush(); err != nil {
		t.Fatal(err)
	}

	send := func(cmd protocol.ControlCommand) protocol.ControlReply {
		data, _ := json.Marshal(cmd)
		msg, err := conn.Request(protocol.SubjectPlaybackControl, data, 5*time.Second)
		if err != nil {
			t.Fatalf("request %s: %v", cmd.Action, err)
		}
		var rep protocol.ControlReply
		if err := json.Unmarshal(msg.Data, &rep); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		return rep
	}

	if rep := send(protocol.ControlCommand{Action: ActionStatus}); !rep.OK || rep.State != "ready" {
		t.Fatalf("unexpected status reply %+v", rep)
	}
	if rep := send(protocol.ControlCommand{Action: "rewind"}); rep.OK || rep.Error == "" {
		t.Fatalf("expected unknown action error, got %+v", rep)
	}
	if rep := send(protocol.ControlCommand{SessionID: "other", Action: ActionPlay}); rep.OK {
		t.Fatalf("expected unknown session error, got %+v", rep)
	}
	if rep := send(protocol.ControlCommand{SessionID: r.session.ID(), Action: ActionSelect, BookID: "tab-1", ChapterID: "c2"}); !rep.OK {
		t.Fatalf("select over bus failed: %+v", rep)
	}

	select {
	case msg := <-statuses:
		var status protocol.PlaybackStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			t.Fatal(err)
		}
		if status.ChapterID != "c2" || status.SessionID != r.session.ID() {
			t.Fatalf("unexpected status %+v", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no playback status published")
	}
}
