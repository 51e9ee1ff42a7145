package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-reader/internal/content"
	"github.com/loqalabs/loqa-reader/internal/paginate"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/session"
	"github.com/loqalabs/loqa-reader/internal/voices"
	"github.com/loqalabs/loqa-reader/internal/voicestore"
)

const maxBodyBytes = 1 << 20

func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/document", r.handleDocument)
	mux.HandleFunc("POST /v1/chapter", r.handleSelect)
	mux.HandleFunc("GET /v1/pages", r.handlePages)
	mux.HandleFunc("GET /v1/paragraphs", r.handleParagraphs)
	mux.HandleFunc("GET /v1/playback", r.handlePlaybackStatus)
	mux.HandleFunc("POST /v1/playback/{action}", r.handlePlaybackAction)
	mux.HandleFunc("GET /v1/voices", r.handleVoices)
	mux.HandleFunc("GET /v1/voices/settings", r.handleVoiceSettings)
	mux.HandleFunc("PUT /v1/voices/settings", r.handleSaveVoiceSettings)
	mux.HandleFunc("GET /v1/events", r.handleEvents)
}

type chapterView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type bookView struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Chapters []chapterView `json:"chapters"`
}

type documentView struct {
	ID              string     `json:"document_id"`
	Title           string     `json:"title"`
	Books           []bookView `json:"books"`
	SelectedBook    string     `json:"selected_book,omitempty"`
	SelectedChapter string     `json:"selected_chapter,omitempty"`
}

func (r *Runtime) handleDocument(w http.ResponseWriter, _ *http.Request) {
	doc, err := r.session.Document()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	view := documentView{ID: doc.ID, Title: doc.Title}
	view.SelectedBook, view.SelectedChapter = r.session.Selected()
	for i := range doc.Books {
		b := &doc.Books[i]
		bv := bookView{ID: b.ID, Title: b.Title}
		for _, c := range b.DisplayableChapters() {
			bv.Chapters = append(bv.Chapters, chapterView{ID: c.ID, Label: b.Label(c)})
		}
		view.Books = append(view.Books, bv)
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Runtime) handleSelect(w http.ResponseWriter, req *http.Request) {
	var cmd protocol.ControlCommand
	if err := decodeBody(req, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd.Action = ActionSelect
	rep := r.Dispatch(req.Context(), cmd)
	status := http.StatusOK
	if !rep.OK {
		status = http.StatusNotFound
	}
	writeJSON(w, status, rep)
}

type blockView struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Text  string `json:"text,omitempty"`
}

type pageView struct {
	Number int         `json:"number"`
	Header string      `json:"header,omitempty"`
	Height float64     `json:"height"`
	Blocks []blockView `json:"blocks"`
}

func (r *Runtime) handlePages(w http.ResponseWriter, req *http.Request) {
	pages := r.session.Pages()
	if req.URL.Query().Get("format") == "text" {
		renderer := paginate.Renderer{
			Measurer: r.measurer,
			Width:    r.session.Constants().ContentWidth(),
			Plain:    req.URL.Query().Get("plain") != "",
		}
		var sb strings.Builder
		sb.WriteString(r.session.Title())
		sb.WriteString("\n\n")
		for _, p := range pages {
			sb.WriteString(renderer.Render(p, len(pages)))
			sb.WriteString("\n\n")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, sb.String())
		return
	}

	views := make([]pageView, 0, len(pages))
	for _, p := range pages {
		pv := pageView{Number: p.Number, Header: p.Header, Height: p.Height}
		for _, b := range p.Blocks {
			pv.Blocks = append(pv.Blocks, blockView{Index: b.Index, Kind: b.Kind.String(), Text: b.Text})
		}
		views = append(views, pv)
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Runtime) handleParagraphs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.session.Records())
}

type playbackView struct {
	SessionID  string        `json:"session_id"`
	Title      string        `json:"title"`
	ChapterID  string        `json:"chapter_id,omitempty"`
	State      string        `json:"state"`
	Playing    bool          `json:"playing"`
	PageIndex  int           `json:"page_index"`
	PositionMS int64         `json:"position_ms"`
	Marks      int           `json:"marks"`
	Voice      session.Voice `json:"voice"`
}

func (r *Runtime) handlePlaybackStatus(w http.ResponseWriter, _ *http.Request) {
	snap := r.session.Snapshot()
	writeJSON(w, http.StatusOK, playbackView{
		SessionID:  r.session.ID(),
		Title:      r.session.Title(),
		ChapterID:  snap.ChapterID,
		State:      snap.State.String(),
		Playing:    snap.Playing,
		PageIndex:  snap.PageIndex,
		PositionMS: snap.PositionMS,
		Marks:      len(snap.Overall),
		Voice:      r.session.Voice(),
	})
}

func (r *Runtime) handlePlaybackAction(w http.ResponseWriter, req *http.Request) {
	action := req.PathValue("action")
	switch action {
	case ActionPlay, ActionPause, ActionToggle, ActionNext, ActionPrevious:
	default:
		writeError(w, http.StatusNotFound, errUnknownAction)
		return
	}
	rep := r.Dispatch(req.Context(), protocol.ControlCommand{Action: action})
	status := http.StatusOK
	if !rep.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, rep)
}

type voiceGroupView struct {
	Language string        `json:"language"`
	Voices   []voiceOption `json:"voices"`
}

type voiceOption struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (r *Runtime) handleVoices(w http.ResponseWriter, req *http.Request) {
	if r.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("voice catalog not configured"))
		return
	}
	list, err := r.catalog.List(req.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	var out []voiceGroupView
	for _, g := range voices.GroupByPrimaryLanguage(r.policy.Filter(list)) {
		gv := voiceGroupView{Language: g.Language}
		for _, v := range g.Voices {
			gv.Voices = append(gv.Voices, voiceOption{Name: v.Name, Label: v.Label()})
		}
		out = append(out, gv)
	}
	writeJSON(w, http.StatusOK, out)
}

type voiceSettingsView struct {
	Characters []string                      `json:"characters"`
	Settings   []voicestore.CharacterSetting `json:"settings"`
	Active     session.Voice                 `json:"active"`
}

func (r *Runtime) handleVoiceSettings(w http.ResponseWriter, req *http.Request) {
	doc, err := r.session.Document()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	bookID, _ := r.session.Selected()
	book, ok := doc.Book(bookID)
	if !ok {
		writeError(w, http.StatusNotFound, content.ErrNoContent)
		return
	}
	saved, err := r.voiceStore.List(req.Context(), book.Title, doc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceSettingsView{
		Characters: r.session.Characters(),
		Settings:   saved,
		Active:     r.session.Voice(),
	})
}

func (r *Runtime) handleSaveVoiceSettings(w http.ResponseWriter, req *http.Request) {
	var settings []voicestore.CharacterSetting
	if err := decodeBody(req, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := r.session.SaveVoices(req.Context(), settings); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoChapter) || errors.Is(err, voicestore.ErrMissingDocument) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "active": r.session.Voice()})
}

type eventView struct {
	ChapterID  string `json:"chapter_id,omitempty"`
	Type       string `json:"type"`
	State      string `json:"state"`
	PageIndex  int    `json:"page_index"`
	PositionMS int64  `json:"position_ms"`
	Message    string `json:"message,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func (r *Runtime) handleEvents(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	events, err := r.events.ListSessionEvents(req.Context(), r.session.ID(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			ChapterID:  e.ChapterID,
			Type:       e.Type,
			State:      e.State,
			PageIndex:  e.PageIndex,
			PositionMS: e.PositionMS,
			Message:    e.Message,
			CreatedAt:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeBody(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
