// Command calliope is the voice front-end for the robot tutor: it waits for
// the wake word, captures student questions from the microphone, and speaks
// streamed answers with barge-in support.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/tutorbotics/calliope/internal/config"
	"github.com/tutorbotics/calliope/internal/health"
	"github.com/tutorbotics/calliope/internal/observe"
	"github.com/tutorbotics/calliope/internal/resilience"
	"github.com/tutorbotics/calliope/internal/session"
	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/audio/alsa"
	"github.com/tutorbotics/calliope/pkg/memory"
	"github.com/tutorbotics/calliope/pkg/memory/postgres"
	"github.com/tutorbotics/calliope/pkg/player"
	azureauth "github.com/tutorbotics/calliope/pkg/provider/azure"
	"github.com/tutorbotics/calliope/pkg/provider/llm"
	"github.com/tutorbotics/calliope/pkg/provider/llm/anyllm"
	"github.com/tutorbotics/calliope/pkg/provider/llm/flow"
	llmmock "github.com/tutorbotics/calliope/pkg/provider/llm/mock"
	"github.com/tutorbotics/calliope/pkg/provider/stt"
	sttazure "github.com/tutorbotics/calliope/pkg/provider/stt/azure"
	"github.com/tutorbotics/calliope/pkg/provider/stt/deepgram"
	sttmock "github.com/tutorbotics/calliope/pkg/provider/stt/mock"
	"github.com/tutorbotics/calliope/pkg/provider/tts"
	ttsazure "github.com/tutorbotics/calliope/pkg/provider/tts/azure"
	ttsmock "github.com/tutorbotics/calliope/pkg/provider/tts/mock"
	"github.com/tutorbotics/calliope/pkg/provider/wake"
	wakemock "github.com/tutorbotics/calliope/pkg/provider/wake/mock"
	"github.com/tutorbotics/calliope/pkg/vad"
	wakegate "github.com/tutorbotics/calliope/pkg/wake"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	checkAudio := flag.Bool("check-audio", false, "probe the audio devices and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "calliope: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "calliope: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// restarting.
	var logLevel slog.LevelVar
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))
	slog.SetDefault(logger)

	// ── Audio devices ─────────────────────────────────────────────────────────
	input := &alsa.InputDevice{Device: cfg.Audio.InputDevice}
	output := &alsa.OutputDevice{Device: cfg.Audio.OutputDevice}

	if *checkAudio {
		return probeAudio(input, output, cfg.Audio.SampleRate)
	}

	slog.Info("calliope starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Session.LearnerID)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Transcript store (optional) ───────────────────────────────────────────
	var (
		store    *postgres.Store
		checkers []health.Checker
	)
	if cfg.Memory.PostgresDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.Memory.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to transcript store", "err", err)
			return 1
		}
		defer store.Close()
		checkers = append(checkers, health.Checker{Name: "database", Check: store.Ping})
		slog.Info("transcript store connected")
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.VoiceChanged || d.SessionChanged || d.PlaybackChanged {
			slog.Warn("configuration changed; restart to apply",
				"voice", d.VoiceChanged,
				"session", d.SessionChanged,
				"playback", d.PlaybackChanged,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Admin server (metrics + health + transcripts) ─────────────────────────
	if cfg.Server.AdminAddr != "" {
		var transcripts memory.TranscriptStore
		if store != nil {
			transcripts = store
		}
		srv := startAdminServer(cfg.Server.AdminAddr, metrics, transcripts, checkers)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("admin server shutdown error", "err", err)
			}
		}()
	}

	// ── Conversation pipeline ─────────────────────────────────────────────────
	segmenter := vad.New(input, cfg.Audio.SegmenterConfig(),
		vad.WithLogger(logger),
		vad.WithObserver(captureObserver{metrics: metrics}),
	)
	playerCfg := cfg.Playback.PlayerConfig()
	playerCfg.MonitorSampleRate = cfg.Audio.SampleRate
	playerCfg.FallbackSampleRate = cfg.Audio.SampleRate
	speaker := player.New(output, input, playerCfg, player.WithLogger(logger))

	var gate session.WakeGate
	if providers.wakeDetector != nil {
		defer providers.wakeDetector.Close()
		gate = wakegate.New(input, providers.wakeDetector, wakegate.WithLogger(logger))
	}

	sessionCfg := session.Config{
		InactivityTimeout:  cfg.Session.InactivityTimeoutDuration(),
		ListenTimeout:      cfg.Audio.ListenTimeoutDuration(),
		MinSentenceLength:  cfg.Session.MinSentenceLength,
		MaxQueuedSentences: cfg.Session.MaxQueuedSentences,
		SystemPrompt:       cfg.Session.SystemPrompt,
		Voice:              cfg.Session.Voice.Profile(),
		HistoryWindow:      cfg.Memory.HistoryWindowDuration(),
		Providers: session.ProviderNames{
			STT: cfg.Providers.STT.Name,
			LLM: cfg.Providers.LLM.Name,
			TTS: cfg.Providers.TTS.Name,
		},
	}
	deps := session.Deps{
		Gate:        gate,
		Listener:    segmenter,
		Recognizer:  providers.recognizer,
		Generator:   providers.generator,
		Synthesizer: providers.synthesizer,
		Speaker:     speaker,
		Metrics:     metrics,
		Logger:      logger,
	}
	if store != nil {
		deps.Store = store
	}

	controller, err := session.New(sessionCfg, deps)
	if err != nil {
		slog.Error("failed to create session controller", "err", err)
		return 1
	}

	printStartupSummary(cfg)
	slog.Info("ready — press Ctrl+C to shut down")

	if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtProviders holds the instantiated pipeline providers, each wrapped in a
// circuit breaker.
type builtProviders struct {
	recognizer   stt.Provider
	generator    llm.Provider
	synthesizer  tts.Provider
	wakeDetector wake.Detector
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// learnerID is forwarded to providers that track the student server-side.
func registerBuiltinProviders(reg *config.Registry, learnerID string) {
	// Azure STT and TTS share one token source per region/key pair so the two
	// do not race each other refreshing the same credential.
	tokenSources := map[string]*azureauth.TokenSource{}
	azureTokens := func(entry config.ProviderEntry) (*azureauth.TokenSource, error) {
		key := entry.Region + "\x00" + entry.APIKey
		if ts, ok := tokenSources[key]; ok {
			return ts, nil
		}
		ts, err := azureauth.NewTokenSource(entry.Region, entry.APIKey)
		if err != nil {
			return nil, err
		}
		tokenSources[key] = ts
		return ts, nil
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("azure", func(entry config.ProviderEntry) (stt.Provider, error) {
		tokens, err := azureTokens(entry)
		if err != nil {
			return nil, err
		}
		var opts []sttazure.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttazure.WithLanguage(lang))
		}
		return sttazure.New(tokens, entry.Region, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("azure", func(entry config.ProviderEntry) (tts.Provider, error) {
		tokens, err := azureTokens(entry)
		if err != nil {
			return nil, err
		}
		return ttsazure.New(tokens, entry.Region)
	})

	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("flow", func(entry config.ProviderEntry) (llm.Provider, error) {
		return flow.New(entry.BaseURL, entry.APIKey, flow.WithLearnerID(learnerID))
	})

	// The any-llm backends share one pattern: optional APIKey + optional
	// BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	// ── Wake ──────────────────────────────────────────────────────────────────
	// Hardware keyword engines (Porcupine and friends) register here once an
	// adapter exists; the mock matches immediately and is only useful for
	// development rigs.

	reg.RegisterWake("mock", func(config.ProviderEntry) (wake.Detector, error) {
		return &wakemock.Detector{}, nil
	})
}

// buildProviders instantiates the providers named in cfg and wraps each in a
// circuit breaker so a flapping backend is skipped instead of hammered.
func buildProviders(cfg *config.Config, reg *config.Registry) (*builtProviders, error) {
	breaker := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
	}

	recognizer, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	generator, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	synthesizer, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	ps := &builtProviders{
		recognizer:  resilience.NewSTTFallback(recognizer, cfg.Providers.STT.Name, breaker),
		generator:   resilience.NewLLMFallback(generator, cfg.Providers.LLM.Name, breaker),
		synthesizer: resilience.NewTTSFallback(synthesizer, cfg.Providers.TTS.Name, breaker),
	}

	if name := cfg.Providers.Wake.Name; name != "" {
		detector, err := reg.CreateWake(cfg.Providers.Wake)
		if err != nil {
			return nil, fmt.Errorf("create wake detector %q: %w", name, err)
		}
		ps.wakeDetector = detector
		slog.Info("provider created", "kind", "wake", "name", name)
	}

	return ps, nil
}

// ── Capture instrumentation ───────────────────────────────────────────────────

// captureObserver bridges segmenter events into metrics. Captured utterances
// are counted by the session controller, which also sees wake-gated drops.
type captureObserver struct {
	metrics *observe.Metrics
}

func (o captureObserver) SpeechStarted() {}

func (o captureObserver) UtteranceCaptured(time.Duration) {}

func (o captureObserver) UtteranceDiscarded(time.Duration) {
	o.metrics.RecordUtteranceDiscarded(context.Background(), "too_short")
}

// ── Admin server ──────────────────────────────────────────────────────────────

func startAdminServer(addr string, metrics *observe.Metrics, transcripts memory.TranscriptStore, checkers []health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)
	if transcripts != nil {
		mux.Handle("GET /transcripts", transcriptSearchHandler(transcripts))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("admin server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "err", err)
		}
	}()
	return srv
}

// transcriptSearchHandler serves keyword search over the stored conversation
// turns as JSON. Query parameters: q (required), session, role, limit, and
// after/before as RFC 3339 timestamps.
func transcriptSearchHandler(store memory.TranscriptStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		query := strings.TrimSpace(params.Get("q"))
		if query == "" {
			http.Error(w, "missing q parameter", http.StatusBadRequest)
			return
		}

		opts := memory.SearchOpts{
			SessionID: params.Get("session"),
			Role:      params.Get("role"),
		}
		if v := params.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit parameter", http.StatusBadRequest)
				return
			}
			opts.Limit = n
		}
		for _, bound := range []struct {
			name string
			dst  *time.Time
		}{
			{"after", &opts.After},
			{"before", &opts.Before},
		} {
			v := params.Get(bound.name)
			if v == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				http.Error(w, "invalid "+bound.name+" parameter", http.StatusBadRequest)
				return
			}
			*bound.dst = ts
		}

		turns, err := store.Search(r.Context(), query, opts)
		if err != nil {
			slog.Error("transcript search failed", "err", err)
			http.Error(w, "search failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(turns); err != nil {
			slog.Warn("transcript search response write failed", "err", err)
		}
	})
}

// ── Audio probe ───────────────────────────────────────────────────────────────

// probeAudio opens the capture and playback devices once and reports whether
// each works. Used by -check-audio to debug a new hardware setup.
func probeAudio(input audio.InputDevice, output audio.OutputDevice, sampleRate int) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	format := audio.Format{SampleRate: sampleRate, Channels: 1}
	ok := true

	in, err := input.OpenInput(ctx, format, 1024)
	if err != nil {
		fmt.Printf("capture : FAIL (%v)\n", err)
		ok = false
	} else {
		if _, err := in.ReadFrame(); err != nil {
			fmt.Printf("capture : FAIL (read: %v)\n", err)
			ok = false
		} else {
			fmt.Println("capture : ok")
		}
		in.Close()
	}

	out, err := output.OpenOutput(ctx, format)
	if err != nil {
		fmt.Printf("playback: FAIL (%v)\n", err)
		ok = false
	} else {
		// A quarter second of silence.
		if err := out.Write(make([]byte, sampleRate/2)); err != nil {
			fmt.Printf("playback: FAIL (write: %v)\n", err)
			ok = false
		} else {
			fmt.Println("playback: ok")
		}
		out.Close()
	}

	if !ok {
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Calliope — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Wake", cfg.Providers.Wake.Name, "")
	printRow("Voice", orPlaceholder(cfg.Session.Voice.Name, "(provider default)"))
	printRow("Learner", cfg.Session.LearnerID)
	if cfg.Memory.PostgresDSN != "" {
		printRow("Memory", "postgres")
	} else {
		printRow("Memory", "(in-process only)")
	}
	printRow("Admin addr", orPlaceholder(cfg.Server.AdminAddr, "(disabled)"))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
