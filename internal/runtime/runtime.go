package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/audiocache"
	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/content"
	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/layout"
	"github.com/loqalabs/loqa-reader/internal/natsserver"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/session"
	"github.com/loqalabs/loqa-reader/internal/synth"
	"github.com/loqalabs/loqa-reader/internal/voices"
	"github.com/loqalabs/loqa-reader/internal/voicestore"
	"github.com/nats-io/nats.go"
)

type Runtime struct {
	cfg        config.Config
	version    string
	logger     *slog.Logger
	httpServer *http.Server
	telemetry  *telemetry
	ready      atomic.Bool
	wg         sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	bus        *bus.Client
	events     *eventstore.Store
	recorder   *eventstore.Recorder
	voiceStore *voicestore.Store
	catalog    voices.Catalog
	policy     voices.Policy
	measurer   layout.TextMeasurer
	session    *session.Session
	control    *ControlService
}

// New builds a reader runtime. version is reported as the service version
// on exported telemetry.
func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	defer r.closeComponents()

	if err := r.startComponents(ctx); err != nil {
		if shutdownErr := tel.Shutdown(context.Background()); shutdownErr != nil {
			r.logger.Error("telemetry shutdown error", slogError(shutdownErr))
		}
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if tel.metrics != nil {
		mux.Handle("/metrics", tel.metrics)
	}
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("session_id", r.session.ID()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()

	if err := tel.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slogError(err))
	}

	return nil
}

// startComponents builds the reader from configuration. Collaborators that
// only broadcast or record (bus, event store) degrade to warnings; layout and
// storage failures abort start-up.
func (r *Runtime) startComponents(ctx context.Context) error {
	var conn *nats.Conn
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.natsServer = ns
		if ns != nil {
			busCfg.Servers = []string{ns.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		r.bus = client
		conn = client.Conn()
	}

	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.events = events
	r.recorder = eventstore.NewRecorder(events, r.logger)

	store, err := voicestore.Open(ctx, r.cfg.VoiceStore, r.logger)
	if err != nil {
		return fmt.Errorf("open voice store: %w", err)
	}
	r.voiceStore = store

	if r.cfg.Voices.Endpoint != "" {
		r.catalog = voices.NewHTTPCatalog(r.cfg.Voices.Endpoint, r.cfg.Voices.APIKey, millis(r.cfg.Voices.TimeoutMS))
	}
	r.policy = voices.Policy{LanguagePrefix: r.cfg.Voices.LanguagePrefix, NamePattern: r.cfg.Voices.NamePattern}

	synthesizer, err := synth.New(r.cfg.Synthesis, conn)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}
	cache := audiocache.New(synthesizer, audio.Prober{}, r.logger)
	player := playback.NewClockPlayer(audio.Prober{})

	sinks := multiSink{r.recorder}
	if r.bus != nil {
		sinks = append(sinks, bus.NewStatusPublisher(r.bus))
	}

	r.measurer = layout.NewTextMeasurer(r.cfg.Layout)
	sess, err := session.New(
		layout.NewStaticProbe(r.cfg.Layout),
		r.measurer,
		contentSource(r.cfg.Content),
		cache,
		player,
		store,
		session.Options{
			GuardOffset:  millis(r.cfg.Playback.GuardOffsetMS),
			Sink:         sinks,
			DefaultVoice: session.Voice{Name: r.cfg.Playback.DefaultVoice, LanguageCode: r.cfg.Playback.DefaultLang},
		},
		r.logger,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	player.SetOnEnded(sess.HandleEnded)
	r.session = sess

	if err := events.AppendSession(ctx, sess.ID(), ""); err != nil {
		r.logger.Warn("failed to record session", slogError(err))
	}
	if err := sess.Open(ctx); err != nil {
		if !errors.Is(err, content.ErrNoContent) {
			r.logger.Warn("document not loaded", slogError(err))
		}
	}
	if doc, err := sess.Document(); err == nil {
		if err := events.AppendSession(ctx, sess.ID(), doc.ID); err != nil {
			r.logger.Warn("failed to record session", slogError(err))
		}
	}

	if r.bus != nil {
		r.control = NewControlService(ctx, r.bus, r, r.logger)
		if err := r.control.Start(); err != nil {
			return fmt.Errorf("start control service: %w", err)
		}
	}
	return nil
}

func (r *Runtime) closeComponents() {
	if r.control != nil {
		r.control.Close()
	}
	if r.session != nil {
		r.session.Close()
	}
	if r.recorder != nil {
		r.recorder.Close()
	}
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Warn("event store close error", slogError(err))
		}
	}
	if r.voiceStore != nil {
		if err := r.voiceStore.Close(); err != nil {
			r.logger.Warn("voice store close error", slogError(err))
		}
	}
	r.bus.Close()
	r.natsServer.Shutdown()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func contentSource(cfg config.ContentConfig) content.Source {
	if cfg.Mode == "http" {
		return content.NewHTTPSource(cfg.Endpoint, cfg.APIKey, millis(cfg.TimeoutMS))
	}
	return content.NewFileSource(cfg.Path)
}

// multiSink fans a status out to every sink in order.
type multiSink []playback.StatusSink

func (m multiSink) Publish(status protocol.PlaybackStatus) {
	for _, s := range m {
		s.Publish(status)
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
