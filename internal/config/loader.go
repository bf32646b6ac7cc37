package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":  {"azure", "deepgram", "mock"},
	"tts":  {"azure", "mock"},
	"llm":  {"flow", "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"wake": {"mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. `$VAR` and `${VAR}` references are expanded from the environment
// before decoding, so API keys and DSNs can stay out of the file itself.
// Unset variables expand to the empty string.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(strings.NewReader(os.ExpandEnv(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("wake", cfg.Providers.Wake.Name)

	// Provider availability
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.Wake.Name == "" {
		slog.Warn("providers.wake is not configured; sessions start immediately without a wake word")
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.SilenceThreshold < 0 || cfg.Audio.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %.3f is out of range [0, 1]", cfg.Audio.SilenceThreshold))
	}
	for _, d := range []struct {
		name  string
		value float64
	}{
		{"audio.silence_duration", cfg.Audio.SilenceDuration},
		{"audio.min_speech_duration", cfg.Audio.MinSpeechDuration},
		{"audio.pre_speech_duration", cfg.Audio.PreSpeechDuration},
		{"audio.listen_timeout", cfg.Audio.ListenTimeout},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s %.2f must not be negative", d.name, d.value))
		}
	}

	// Playback
	if cfg.Playback.InterruptThreshold < 0 || cfg.Playback.InterruptThreshold > 1 {
		errs = append(errs, fmt.Errorf("playback.interrupt_threshold %.3f is out of range [0, 1]", cfg.Playback.InterruptThreshold))
	}
	if cfg.Playback.FeedbackMultiplier < 1 {
		errs = append(errs, fmt.Errorf("playback.feedback_multiplier %.2f must be at least 1", cfg.Playback.FeedbackMultiplier))
	}
	if cfg.Playback.ConsecutiveFrames < 1 {
		errs = append(errs, fmt.Errorf("playback.consecutive_frames %d must be at least 1", cfg.Playback.ConsecutiveFrames))
	}

	// Session
	if cfg.Session.InactivityTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.inactivity_timeout %.1f must be positive", cfg.Session.InactivityTimeout))
	}
	if cfg.Session.MinSentenceLength < 1 {
		errs = append(errs, fmt.Errorf("session.min_sentence_length %d must be at least 1", cfg.Session.MinSentenceLength))
	}
	if cfg.Session.MaxQueuedSentences < 1 {
		errs = append(errs, fmt.Errorf("session.max_queued_sentences %d must be at least 1", cfg.Session.MaxQueuedSentences))
	}
	if cfg.Session.Voice.Rate != 0 {
		if cfg.Session.Voice.Rate < 0.5 || cfg.Session.Voice.Rate > 2.0 {
			errs = append(errs, fmt.Errorf("session.voice.rate %.2f is out of range [0.5, 2.0]", cfg.Session.Voice.Rate))
		}
	}

	// Memory
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation history will not survive restarts")
	}
	if cfg.Memory.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("memory.history_window %.1f must not be negative", cfg.Memory.HistoryWindow))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
