package bus

import (
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/loqa-reader/internal/protocol"
)

// StatusPublisher broadcasts playback statuses on the status subject.
// Publishing is fire-and-forget; failures are logged.
type StatusPublisher struct {
	client  *Client
	subject string
}

func NewStatusPublisher(client *Client) *StatusPublisher {
	return &StatusPublisher{client: client, subject: protocol.SubjectPlaybackStatus}
}

func (p *StatusPublisher) Publish(status protocol.PlaybackStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		p.client.log.Warn("failed to marshal playback status", slog.String("error", err.Error()))
		return
	}
	if err := p.client.conn.Publish(p.subject, data); err != nil {
		p.client.log.Warn("failed to publish playback status", slog.String("error", err.Error()))
	}
}
