package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	ActionPlay     = "play"
	ActionPause    = "pause"
	ActionToggle   = "toggle"
	ActionNext     = "next"
	ActionPrevious = "previous"
	ActionSelect   = "select"
	ActionStatus   = "status"
)

var (
	errUnknownAction  = errors.New("unknown action")
	errUnknownSession = errors.New("unknown session")
)

// Dispatcher executes reader commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd protocol.ControlCommand) protocol.ControlReply
}

// Dispatch runs one command against the session. Playback keeps running
// after the caller goes away, so play actions do not inherit cancellation.
func (r *Runtime) Dispatch(ctx context.Context, cmd protocol.ControlCommand) protocol.ControlReply {
	if cmd.SessionID != "" && cmd.SessionID != r.session.ID() {
		return r.reply("", errUnknownSession)
	}

	var (
		message string
		err     error
	)
	switch cmd.Action {
	case ActionPlay:
		err = r.session.Play(context.WithoutCancel(ctx))
	case ActionPause:
		err = r.session.Pause()
	case ActionToggle:
		err = r.session.Toggle(context.WithoutCancel(ctx))
	case ActionNext:
		var res playback.NavResult
		res, err = r.session.NextMark()
		message = navMessage(res)
	case ActionPrevious:
		var res playback.NavResult
		res, err = r.session.PreviousMark()
		message = navMessage(res)
	case ActionSelect:
		if cmd.ChapterID == "" {
			err = r.session.SelectBook(ctx, cmd.BookID)
		} else {
			err = r.session.SelectChapter(ctx, cmd.BookID, cmd.ChapterID)
		}
	case ActionStatus:
	default:
		err = errUnknownAction
	}
	return r.reply(message, err)
}

func (r *Runtime) reply(message string, err error) protocol.ControlReply {
	rep := protocol.ControlReply{OK: err == nil, Message: message}
	if r.session != nil {
		rep.State = r.session.Snapshot().State.String()
	}
	if err != nil {
		rep.Error = err.Error()
	}
	return rep
}

func navMessage(res playback.NavResult) string {
	switch res {
	case playback.NavReachedEnd:
		return playback.MsgReachedEnd
	case playback.NavAtStart:
		return playback.MsgAtStart
	case playback.NavNoTimestamps:
		return playback.MsgNoTimestamps
	default:
		return ""
	}
}

// ControlService answers reader commands sent over the bus.
type ControlService struct {
	bus        *bus.Client
	dispatcher Dispatcher
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

func NewControlService(parent context.Context, busClient *bus.Client, dispatcher Dispatcher, log *slog.Logger) *ControlService {
	ctx, cancel := context.WithCancel(parent)
	return &ControlService{
		bus:        busClient,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.With(slog.String("component", "control-service")),
	}
}

func (s *ControlService) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectPlaybackControl, s.handleCommand)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *ControlService) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *ControlService) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

func (s *ControlService) handleCommand(msg *nats.Msg) {
	var cmd protocol.ControlCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("failed to decode control command", slogError(err))
		s.respond(msg, protocol.ControlReply{Error: "invalid command"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()
		rep := s.dispatcher.Dispatch(ctx, cmd)
		if !rep.OK {
			s.logger.Info("control command rejected", slog.String("action", cmd.Action), slog.String("error", rep.Error))
		}
		s.respond(msg, rep)
	}()
}

func (s *ControlService) respond(msg *nats.Msg, rep protocol.ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		s.logger.Warn("failed to marshal control reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send control reply", slogError(err))
	}
}
