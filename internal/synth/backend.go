package synth

import (
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/nats-io/nats.go"
)

// New selects the backend named by cfg.Mode. conn is only used in bus mode.
func New(cfg config.SynthesisConfig, conn *nats.Conn) (Synthesizer, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "mock", "":
		return NewMockSynth(cfg.SampleRate), nil
	case "http":
		return NewHTTPSynth(cfg.Endpoint, cfg.APIKey, timeout), nil
	case "exec":
		return NewExecSynth(cfg.Command)
	case "bus":
		if conn == nil {
			return nil, errors.New("synthesis mode bus requires a bus connection")
		}
		return NewBusSynth(conn, cfg.Subject, timeout), nil
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
}
