package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/protocol"
)

const recorderBuffer = 256

// Recorder appends playback statuses to the store off the caller's goroutine.
// Statuses arriving while the buffer is full are dropped with a warning.
type Recorder struct {
	store *Store
	log   *slog.Logger
	ch    chan protocol.PlaybackStatus
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	r := &Recorder{
		store: store,
		log:   log.With(slog.String("component", "event-recorder")),
		ch:    make(chan protocol.PlaybackStatus, recorderBuffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) Publish(status protocol.PlaybackStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- status:
	default:
		r.log.Warn("event buffer full, dropping status", slog.String("event", status.Event))
	}
}

// Close flushes buffered statuses. Later statuses are ignored.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for status := range r.ch {
		r.record(status)
	}
}

func (r *Recorder) record(status protocol.PlaybackStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var payload []byte
	if status.Error != "" {
		payload, _ = json.Marshal(map[string]string{"error": status.Error})
	}
	evt := Event{
		SessionID:  status.SessionID,
		ChapterID:  status.ChapterID,
		Type:       status.Event,
		State:      status.State,
		PageIndex:  status.PageIndex,
		PositionMS: status.PositionMS,
		Message:    status.Message,
		Payload:    payload,
		CreatedAt:  status.Timestamp,
	}
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		r.log.Warn("failed to record playback event", slog.String("error", err.Error()))
	}
}
