package protocol

import "time"

// PlaybackStatus reports a sequencer transition or a user-visible outcome.
type PlaybackStatus struct {
	SessionID  string    `json:"session_id"`
	ChapterID  string    `json:"chapter_id,omitempty"`
	Event      string    `json:"event"`
	State      string    `json:"state"`
	PageIndex  int       `json:"page_index"`
	PositionMS int64     `json:"position_ms"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ControlCommand drives a reader session over the bus.
type ControlCommand struct {
	SessionID string `json:"session_id,omitempty"`
	Action    string `json:"action"`
	BookID    string `json:"book_id,omitempty"`
	ChapterID string `json:"chapter_id,omitempty"`
}

// ControlReply answers a ControlCommand.
type ControlReply struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	SubjectSynthesisRequest = "synthesis.chapter.request"
	SubjectPlaybackStatus   = "reader.playback.status"
	SubjectPlaybackControl  = "reader.playback.control"
)
