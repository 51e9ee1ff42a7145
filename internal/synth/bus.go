package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type busSynth struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NewBusSynth sends the chapter request over NATS request/reply. The
// responder answers with the same JSON body the HTTP service returns.
func NewBusSynth(conn *nats.Conn, subject string, timeout time.Duration) Synthesizer {
	return &busSynth{conn: conn, subject: subject, timeout: timeout}
}

func (b *busSynth) Synthesize(ctx context.Context, req Request) (Response, error) {
	if b.conn == nil {
		return Response{}, errors.New("bus synthesizer has no connection")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	reqCtx := ctx
	if _, ok := ctx.Deadline(); !ok && b.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	msg, err := b.conn.RequestWithContext(reqCtx, b.subject, data)
	if err != nil {
		return Response{}, fmt.Errorf("synthesis request on %s: %w", b.subject, err)
	}

	var out Response
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return Response{}, fmt.Errorf("decode synthesis reply: %w", err)
	}
	if out.Error != "" {
		return Response{}, fmt.Errorf("synthesis responder: %s", out.Error)
	}
	return out, nil
}
