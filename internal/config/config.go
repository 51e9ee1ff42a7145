package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Layout      LayoutConfig     `yaml:"layout"`
	Content     ContentConfig    `yaml:"content"`
	Voices      VoicesConfig     `yaml:"voices"`
	VoiceStore  VoiceStoreConfig `yaml:"voice_store"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Playback    PlaybackConfig   `yaml:"playback"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// LayoutConfig holds the page geometry in pixels. It replaces live measurement
// of a rendering surface.
type LayoutConfig struct {
	PageWidth         float64 `yaml:"page_width_px"`
	PageHeight        float64 `yaml:"page_height_px"`
	PaddingVertical   float64 `yaml:"padding_vertical_px"`
	PaddingHorizontal float64 `yaml:"padding_horizontal_px"`
	HeaderHeight      float64 `yaml:"header_height_px"`
	LineHeight        float64 `yaml:"line_height_px"`
	CharWidth         float64 `yaml:"char_width_px"`
	ParagraphSpacing  float64 `yaml:"paragraph_spacing_px"`
	RuleHeight        float64 `yaml:"rule_height_px"`
}

type ContentConfig struct {
	Mode      string `yaml:"mode"` // http, file
	Endpoint  string `yaml:"endpoint"`
	Path      string `yaml:"path"`
	APIKey    string `yaml:"api_key"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type VoicesConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	LanguagePrefix string `yaml:"language_prefix"`
	NamePattern    string `yaml:"name_pattern"`
	TimeoutMS      int    `yaml:"timeout_ms"`
}

type VoiceStoreConfig struct {
	Path string `yaml:"path"`
}

type SynthesisConfig struct {
	Mode       string `yaml:"mode"` // mock, http, exec, bus
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Command    string `yaml:"command"`
	Subject    string `yaml:"subject"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	SampleRate int    `yaml:"sample_rate"`
}

type PlaybackConfig struct {
	GuardOffsetMS int    `yaml:"guard_offset_ms"`
	DefaultVoice  string `yaml:"default_voice"`
	DefaultLang   string `yaml:"default_language"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-reader",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/reader-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Layout: LayoutConfig{
			PageWidth:         816,
			PageHeight:        1056,
			PaddingVertical:   192,
			PaddingHorizontal: 192,
			HeaderHeight:      72,
			LineHeight:        24,
			CharWidth:         8,
			ParagraphSpacing:  16,
			RuleHeight:        33,
		},
		Content: ContentConfig{
			Mode:      "file",
			Path:      "./data/document.json",
			TimeoutMS: 15000,
		},
		Voices: VoicesConfig{
			LanguagePrefix: "en-",
			NamePattern:    "Chirp",
			TimeoutMS:      10000,
		},
		VoiceStore: VoiceStoreConfig{
			Path: "./data/reader-voices.db",
		},
		Synthesis: SynthesisConfig{
			Mode:       "mock",
			Subject:    "synthesis.chapter.request",
			TimeoutMS:  120000,
			SampleRate: 22050,
		},
		Playback: PlaybackConfig{
			GuardOffsetMS: 50,
			DefaultVoice:  "en-US-Chirp-HD-F",
			DefaultLang:   "en-US",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_READER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_READER_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_READER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_READER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_READER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_READER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_READER_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_READER_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_READER_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_READER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_READER_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_READER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_READER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_READER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_READER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_READER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_READER_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_READER_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_READER_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_READER_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_READER_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_READER_EVENT_STORE_VACUUM_ON_START")
	overrideFloat(&cfg.Layout.PageWidth, "LOQA_READER_LAYOUT_PAGE_WIDTH_PX")
	overrideFloat(&cfg.Layout.PageHeight, "LOQA_READER_LAYOUT_PAGE_HEIGHT_PX")
	overrideFloat(&cfg.Layout.PaddingVertical, "LOQA_READER_LAYOUT_PADDING_VERTICAL_PX")
	overrideFloat(&cfg.Layout.PaddingHorizontal, "LOQA_READER_LAYOUT_PADDING_HORIZONTAL_PX")
	overrideFloat(&cfg.Layout.HeaderHeight, "LOQA_READER_LAYOUT_HEADER_HEIGHT_PX")
	overrideFloat(&cfg.Layout.LineHeight, "LOQA_READER_LAYOUT_LINE_HEIGHT_PX")
	overrideFloat(&cfg.Layout.CharWidth, "LOQA_READER_LAYOUT_CHAR_WIDTH_PX")
	overrideString(&cfg.Content.Mode, "LOQA_READER_CONTENT_MODE")
	overrideString(&cfg.Content.Endpoint, "LOQA_READER_CONTENT_ENDPOINT")
	overrideString(&cfg.Content.Path, "LOQA_READER_CONTENT_PATH")
	overrideString(&cfg.Content.APIKey, "LOQA_READER_CONTENT_API_KEY")
	overrideInt(&cfg.Content.TimeoutMS, "LOQA_READER_CONTENT_TIMEOUT_MS")
	overrideString(&cfg.Voices.Endpoint, "LOQA_READER_VOICES_ENDPOINT")
	overrideString(&cfg.Voices.APIKey, "LOQA_READER_VOICES_API_KEY")
	overrideString(&cfg.Voices.LanguagePrefix, "LOQA_READER_VOICES_LANGUAGE_PREFIX")
	overrideString(&cfg.Voices.NamePattern, "LOQA_READER_VOICES_NAME_PATTERN")
	overrideString(&cfg.VoiceStore.Path, "LOQA_READER_VOICE_STORE_PATH")
	overrideString(&cfg.Synthesis.Mode, "LOQA_READER_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Endpoint, "LOQA_READER_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.APIKey, "LOQA_READER_SYNTHESIS_API_KEY")
	overrideString(&cfg.Synthesis.Command, "LOQA_READER_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Subject, "LOQA_READER_SYNTHESIS_SUBJECT")
	overrideInt(&cfg.Synthesis.TimeoutMS, "LOQA_READER_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.SampleRate, "LOQA_READER_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Playback.GuardOffsetMS, "LOQA_READER_PLAYBACK_GUARD_OFFSET_MS")
	overrideString(&cfg.Playback.DefaultVoice, "LOQA_READER_PLAYBACK_DEFAULT_VOICE")
	overrideString(&cfg.Playback.DefaultLang, "LOQA_READER_PLAYBACK_DEFAULT_LANGUAGE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Layout.PageWidth <= 0 || cfg.Layout.PageHeight <= 0 {
		return errors.New("layout.page_width_px and layout.page_height_px must be positive")
	}
	if cfg.Layout.LineHeight <= 0 || cfg.Layout.CharWidth <= 0 {
		return errors.New("layout.line_height_px and layout.char_width_px must be positive")
	}
	if cfg.Layout.PaddingVertical < 0 || cfg.Layout.PaddingHorizontal < 0 || cfg.Layout.HeaderHeight < 0 {
		return errors.New("layout paddings and header height must be >= 0")
	}
	switch cfg.Content.Mode {
	case "http":
		if cfg.Content.Endpoint == "" {
			return errors.New("content.endpoint must be set when mode=http")
		}
	case "file":
		if cfg.Content.Path == "" {
			return errors.New("content.path must be set when mode=file")
		}
	default:
		return errors.New("content.mode must be one of http|file")
	}
	if cfg.VoiceStore.Path == "" {
		return errors.New("voice_store.path must not be empty")
	}
	switch cfg.Synthesis.Mode {
	case "mock":
	case "http":
		if cfg.Synthesis.Endpoint == "" {
			return errors.New("synthesis.endpoint must be set when mode=http")
		}
	case "exec":
		if cfg.Synthesis.Command == "" {
			return errors.New("synthesis.command must be set when mode=exec")
		}
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("bus.enabled must be true when synthesis.mode=bus")
		}
		if cfg.Synthesis.Subject == "" {
			return errors.New("synthesis.subject must be set when mode=bus")
		}
	default:
		return errors.New("synthesis.mode must be one of mock|http|exec|bus")
	}
	if cfg.Synthesis.TimeoutMS <= 0 {
		return errors.New("synthesis.timeout_ms must be positive")
	}
	if cfg.Playback.GuardOffsetMS < 0 {
		return errors.New("playback.guard_offset_ms must be >= 0")
	}
	return nil
}
