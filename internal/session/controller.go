// Package session orchestrates the tutoring conversation loop: wait for the
// wake word, capture one student utterance, dispatch it through recognition
// and generation, and speak the reply sentence by sentence with barge-in
// detection.
//
// The controller is a five-state machine (see [State]). A failed service call
// within one interaction is absorbed with a spoken fallback phrase and never
// ends the loop; only capture device failures, context cancellation, and
// configuration errors terminate [Controller.Run].
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tutorbotics/calliope/internal/observe"
	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/memory"
	"github.com/tutorbotics/calliope/pkg/player"
	"github.com/tutorbotics/calliope/pkg/provider/llm"
	"github.com/tutorbotics/calliope/pkg/provider/stt"
	"github.com/tutorbotics/calliope/pkg/provider/tts"
	"github.com/tutorbotics/calliope/pkg/vad"
)

// State is the controller's current phase in the conversation loop.
type State int32

const (
	// StateWaitingForWake is the idle phase: frames flow to the wake-word
	// classifier only. Skipped entirely when no gate is configured.
	StateWaitingForWake State = iota

	// StateCapturing means the segmenter owns the microphone and is waiting
	// for a complete student utterance.
	StateCapturing

	// StateDispatching covers recognition and the start of generation.
	StateDispatching

	// StatePlaying means synthesized audio is being written to the output
	// device. Generation of later sentences may still be in flight.
	StatePlaying

	// StateCooldown is the brief pause after playback before the microphone
	// is trusted again.
	StateCooldown
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateWaitingForWake:
		return "waiting_for_wake"
	case StateCapturing:
		return "capturing"
	case StateDispatching:
		return "dispatching"
	case StatePlaying:
		return "playing"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// fallbackPhrases are spoken, in rotation, when a service boundary fails
// mid-interaction. The session keeps listening afterwards.
var fallbackPhrases = []string{
	"I'm having trouble connecting right now. Let's try that again in a moment.",
	"Hmm, something went wrong on my end. Could you say that one more time?",
	"Sorry, I lost my train of thought. Ask me again, please.",
}

// Listener captures one utterance at a time from the microphone.
// [vad.Segmenter] is the production implementation.
//
// The controller opens and closes the capture stream around each playback
// phase, so implementations must support repeated Start/Close cycles.
type Listener interface {
	Start(ctx context.Context) error
	Listen(ctx context.Context, timeout time.Duration) (*audio.Clip, error)
	Close() error
}

// WakeGate blocks until the wake word is spoken. [wake.Gate] is the
// production implementation.
type WakeGate interface {
	Start(ctx context.Context) error
	Wait(ctx context.Context) (int, error)
	Keyword(idx int) string
	Close() error
}

// Speaker plays one clip with barge-in detection. [player.Player] is the
// production implementation.
type Speaker interface {
	Play(ctx context.Context, clip *audio.Clip) (player.Result, error)
}

// ProviderNames labels the configured backends in metrics. Zero values are
// reported as "default".
type ProviderNames struct {
	STT string
	LLM string
	TTS string
}

func (p ProviderNames) stt() string { return orDefault(p.STT) }
func (p ProviderNames) llm() string { return orDefault(p.LLM) }
func (p ProviderNames) tts() string { return orDefault(p.TTS) }

func orDefault(s string) string {
	if s == "" {
		return "default"
	}
	return s
}

// Config holds the session-level tuning knobs. Zero values select the
// defaults noted per field.
type Config struct {
	// InactivityTimeout is how long the controller idles in CAPTURING with
	// no completed interaction before falling back to the wake word.
	// Default 5m.
	InactivityTimeout time.Duration

	// ListenTimeout bounds a single Listen call. Default 30s.
	ListenTimeout time.Duration

	// RequestTimeout bounds each recognition and synthesis call.
	// Default 30s.
	RequestTimeout time.Duration

	// MinSentenceLength is the sentence coordinator's minimum unit length
	// in characters. Default 10.
	MinSentenceLength int

	// MaxQueuedSentences bounds the synthesis queue between the generation
	// worker and the playback worker. Default 8.
	MaxQueuedSentences int

	// Cooldown is the pause after playback before re-entering capture, so
	// the tail of the speaker output does not leak into the next utterance.
	// Default 300ms.
	Cooldown time.Duration

	// HistoryWindow is how far back stored turns are replayed as chat
	// history. Default 10m.
	HistoryWindow time.Duration

	// SystemPrompt is forwarded to the generation provider. Providers that
	// own their prompt server-side ignore it.
	SystemPrompt string

	// Voice selects the synthesis voice for replies and fallback phrases.
	Voice tts.VoiceProfile

	// Providers labels the backends in metrics.
	Providers ProviderNames
}

func (c *Config) applyDefaults() {
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 5 * time.Minute
	}
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MinSentenceLength <= 0 {
		c.MinSentenceLength = 10
	}
	if c.MaxQueuedSentences <= 0 {
		c.MaxQueuedSentences = 8
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 300 * time.Millisecond
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10 * time.Minute
	}
}

// Deps carries the controller's collaborators. Listener, Recognizer,
// Generator, Synthesizer and Speaker are required; the rest are optional.
type Deps struct {
	// Gate, when non-nil, enables wake-word gating. Nil starts every cycle
	// directly in CAPTURING.
	Gate WakeGate

	Listener    Listener
	Recognizer  stt.Provider
	Generator   llm.Provider
	Synthesizer tts.Provider
	Speaker     Speaker

	// Store, when non-nil, persists the transcript and supplies chat
	// history. Nil keeps the session stateless.
	Store memory.TranscriptStore

	// Metrics, when non-nil, receives pipeline instrumentation.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller runs the conversation loop. Create one per physical device;
// Run is not safe to call concurrently.
type Controller struct {
	cfg Config

	gate     WakeGate
	listener Listener
	rec      stt.Provider
	gen      llm.Provider
	synth    tts.Provider
	speaker  Speaker
	store    memory.TranscriptStore
	metrics  *observe.Metrics
	log      *slog.Logger

	sessionID   string
	state       atomic.Int32
	fallbackIdx int
}

// New validates deps and creates a [Controller]. Zero-value config fields
// are replaced with defaults.
func New(cfg Config, d Deps) (*Controller, error) {
	var errs []error
	if d.Listener == nil {
		errs = append(errs, errors.New("session: Listener is required"))
	}
	if d.Recognizer == nil {
		errs = append(errs, errors.New("session: Recognizer is required"))
	}
	if d.Generator == nil {
		errs = append(errs, errors.New("session: Generator is required"))
	}
	if d.Synthesizer == nil {
		errs = append(errs, errors.New("session: Synthesizer is required"))
	}
	if d.Speaker == nil {
		errs = append(errs, errors.New("session: Speaker is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		gate:     d.Gate,
		listener: d.Listener,
		rec:      d.Recognizer,
		gen:      d.Generator,
		synth:    d.Synthesizer,
		speaker:  d.Speaker,
		store:    d.Store,
		metrics:  d.Metrics,
		log:      log,
	}, nil
}

// SessionID returns the identifier assigned by [Controller.Run], empty
// before the first Run.
func (c *Controller) SessionID() string { return c.sessionID }

// State returns the controller's current phase. Safe to call from any
// goroutine, e.g. a readiness check.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Debug("session state change", "from", old.String(), "to", s.String())
	}
}

// newSessionID returns a fresh "CALLIOPE_" + 8 hex character identifier.
func newSessionID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// constant rather than aborting the session.
		return "CALLIOPE_00000000"
	}
	return "CALLIOPE_" + hex.EncodeToString(b[:])
}

// Run executes the conversation loop until ctx is cancelled or the capture
// device fails to start. Each iteration optionally waits for the wake word,
// then serves interactions until the inactivity timeout sends it back to
// the gate.
func (c *Controller) Run(ctx context.Context) error {
	c.sessionID = newSessionID()
	c.log.Info("session started", "session_id", c.sessionID)

	if c.metrics != nil {
		c.metrics.ActiveSessions.Add(ctx, 1)
		defer c.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if c.gate != nil {
			if err := c.waitForWake(ctx); err != nil {
				return err
			}
		}

		if err := c.captureCycle(ctx); err != nil {
			return err
		}
	}
}

// waitForWake arms the gate, blocks until the keyword, and releases the
// input device so the segmenter can take it over.
func (c *Controller) waitForWake(ctx context.Context) error {
	c.setState(StateWaitingForWake)
	if err := c.gate.Start(ctx); err != nil {
		return fmt.Errorf("session: arm wake gate: %w", err)
	}

	idx, err := c.gate.Wait(ctx)
	if closeErr := c.gate.Close(); closeErr != nil {
		c.log.Warn("wake gate close failed", "err", closeErr)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("session: wake gate: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordWakeDetection(ctx, c.gate.Keyword(idx))
	}
	return nil
}

// captureCycle serves interactions until the rolling inactivity clock
// expires. The listener and the player's barge-in monitor capture from the
// same physical microphone, so the stream is handed off explicitly: closed
// before each interaction's playback phase and reopened after the cooldown.
func (c *Controller) captureCycle(ctx context.Context) error {
	if err := c.listener.Start(ctx); err != nil {
		return fmt.Errorf("session: start capture: %w", err)
	}
	defer func() {
		if err := c.listener.Close(); err != nil {
			c.log.Warn("capture close failed", "err", err)
		}
	}()

	lastInteraction := time.Now()

	for {
		if time.Since(lastInteraction) >= c.cfg.InactivityTimeout {
			c.log.Info("session inactive, releasing microphone",
				"session_id", c.sessionID,
				"idle", time.Since(lastInteraction).Round(time.Second),
			)
			return nil
		}

		c.setState(StateCapturing)
		clip, err := c.listener.Listen(ctx, c.cfg.ListenTimeout)
		switch {
		case err == nil:
			c.setState(StateDispatching)
			if c.metrics != nil {
				c.metrics.UtterancesCaptured.Add(ctx, 1)
			}
			if err := c.listener.Close(); err != nil {
				c.log.Warn("capture release failed", "err", err)
			}
			if c.runInteraction(ctx, clip) {
				lastInteraction = time.Now()
			}
			if err := c.cooldown(ctx); err != nil {
				return err
			}
			if err := c.listener.Start(ctx); err != nil {
				return fmt.Errorf("session: reacquire capture: %w", err)
			}

		case errors.Is(err, vad.ErrNoUtterance):
			// Nothing said within the listen window; the inactivity check
			// at the top of the loop decides whether to keep waiting.

		case ctx.Err() != nil:
			return ctx.Err()

		default:
			return fmt.Errorf("session: listen: %w", err)
		}
	}
}

// cooldown pauses briefly after playback so the speaker tail is not
// captured as the next utterance.
func (c *Controller) cooldown(ctx context.Context) error {
	c.setState(StateCooldown)
	select {
	case <-time.After(c.cfg.Cooldown):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runInteraction serves one utterance end to end. Returns true when the
// interaction completed (the student was heard and answered), false when it
// was absorbed as a no-op or failed. Service failures speak a fallback
// phrase; they never propagate.
func (c *Controller) runInteraction(ctx context.Context, clip *audio.Clip) bool {
	dispatchStart := time.Now()

	transcript, err := c.recognize(ctx, clip)
	if errors.Is(err, stt.ErrNoSpeech) {
		c.log.Debug("no speech recognized in utterance", "duration", clip.Duration())
		return false
	}
	if err != nil {
		c.log.Warn("recognition failed", "err", err)
		c.speakFallback(ctx)
		return false
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return false
	}
	c.log.Info("student utterance",
		"session_id", c.sessionID,
		"text", text,
		"confidence", transcript.Confidence,
	)

	// History is read before the new turn is appended so the current
	// utterance appears exactly once in the request.
	history := c.chatHistory(ctx)
	c.appendTurn(ctx, memory.Turn{
		Role:       memory.RoleStudent,
		Text:       text,
		RawText:    transcript.Text,
		Confidence: transcript.Confidence,
		Timestamp:  time.Now(),
		Duration:   clip.Duration(),
	})

	req := llm.CompletionRequest{
		Messages:     append(history, llm.Message{Role: llm.RoleUser, Content: text}),
		SystemPrompt: c.cfg.SystemPrompt,
	}

	spoken, interrupted, err := c.runPipeline(ctx, req, dispatchStart)
	if err != nil && spoken == "" {
		c.log.Warn("response pipeline failed", "err", err)
		c.speakFallback(ctx)
		return false
	}
	if err != nil {
		// Partial answer was already spoken; log and move on.
		c.log.Warn("response stream ended early", "err", err, "spoken_chars", len(spoken))
	}

	if spoken != "" {
		c.appendTurn(ctx, memory.Turn{
			Role:      memory.RoleTutor,
			Text:      spoken,
			Timestamp: time.Now(),
		})
	}
	if interrupted {
		c.log.Info("tutor interrupted by student", "session_id", c.sessionID)
		if c.metrics != nil {
			c.metrics.PlaybackInterrupts.Add(ctx, 1)
		}
	}
	return true
}

// recognize transcribes the clip with the configured request timeout.
func (c *Controller) recognize(ctx context.Context, clip *audio.Clip) (stt.Transcript, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	transcript, err := c.rec.Recognize(rctx, clip)
	if c.metrics != nil {
		c.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil && !errors.Is(err, stt.ErrNoSpeech) {
			status = "error"
			c.metrics.RecordProviderError(ctx, c.cfg.Providers.stt(), "stt")
		}
		c.metrics.RecordProviderRequest(ctx, c.cfg.Providers.stt(), "stt", status)
	}
	return transcript, err
}

// chatHistory replays recent stored turns as generation messages.
func (c *Controller) chatHistory(ctx context.Context) []llm.Message {
	if c.store == nil {
		return nil
	}
	turns, err := c.store.RecentTurns(ctx, c.sessionID, c.cfg.HistoryWindow)
	if err != nil {
		c.log.Warn("transcript read failed, continuing without history", "err", err)
		return nil
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == memory.RoleTutor {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}

// appendTurn persists one turn, logging storage failures without
// interrupting the session.
func (c *Controller) appendTurn(ctx context.Context, turn memory.Turn) {
	if c.store == nil {
		return
	}
	if err := c.store.AppendTurn(ctx, c.sessionID, turn); err != nil {
		c.log.Warn("transcript append failed", "err", err, "role", turn.Role)
	}
}

// speakFallback voices the next canned phrase. A failure here is only
// logged; there is nothing left to fall back to.
func (c *Controller) speakFallback(ctx context.Context) {
	phrase := fallbackPhrases[c.fallbackIdx%len(fallbackPhrases)]
	c.fallbackIdx++

	c.setState(StatePlaying)
	sctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	clip, err := c.synth.Synthesize(sctx, phrase, c.cfg.Voice)
	if err != nil {
		c.log.Warn("fallback synthesis failed", "err", err)
		return
	}
	if _, err := c.speaker.Play(ctx, clip); err != nil {
		c.log.Warn("fallback playback failed", "err", err)
	}
}
