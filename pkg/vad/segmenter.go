// Package vad implements energy-based voice activity segmentation: it
// consumes a live microphone frame stream and emits complete utterance clips
// bounded by a pre-speech lead-in and a trailing-silence tail.
//
// The segmenter is a two-state machine. While idle it fills a circular
// pre-speech buffer; the first frame whose normalized RMS energy exceeds the
// silence threshold flips it to recording, seeded with the buffered lead-in.
// Recording ends when the trailing silence reaches the configured duration,
// at which point the utterance is either emitted or, when too little audio
// accumulated, discarded as noise.
package vad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
)

// ErrNoUtterance is returned by [Segmenter.Listen] when the listen timeout
// elapses before a complete utterance was captured. Distinct from an error:
// the session loop treats it as "nothing was said".
var ErrNoUtterance = fmt.Errorf("vad: no utterance before timeout")

// Config holds the externally tuned segmentation parameters. Durations are
// in seconds, matching how they are exposed in the configuration file.
type Config struct {
	// SampleRate is the capture rate in Hz. Default 16000.
	SampleRate int

	// FrameSize is the capture frame size in samples. Default 1024.
	FrameSize int

	// SilenceThreshold is the normalized RMS energy at or below which a frame
	// counts as silence. Typical values 0.01 to 0.03. Default 0.015.
	SilenceThreshold float64

	// SilenceDuration is how many seconds of continuous silence end an
	// utterance. Default 2.0.
	SilenceDuration float64

	// MinSpeechDuration filters out noise blips shorter than this many
	// seconds. Default 0.5.
	MinSpeechDuration float64

	// PreSpeechDuration is how many seconds of audio before the detected
	// onset are kept. Default 0.3.
	PreSpeechDuration float64
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 1024
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.015
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = 2.0
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = 0.5
	}
	if c.PreSpeechDuration < 0 {
		c.PreSpeechDuration = 0.3
	}
}

// silenceFrames converts SilenceDuration to a frame count.
func (c Config) silenceFrames() int {
	return int(c.SilenceDuration * float64(c.SampleRate) / float64(c.FrameSize))
}

// minSpeechFrames converts MinSpeechDuration to a frame count.
func (c Config) minSpeechFrames() int {
	return int(c.MinSpeechDuration * float64(c.SampleRate) / float64(c.FrameSize))
}

// preSpeechFrames converts PreSpeechDuration to a frame count.
func (c Config) preSpeechFrames() int {
	return int(c.PreSpeechDuration * float64(c.SampleRate) / float64(c.FrameSize))
}

// Observer receives progress notifications from a listen cycle. All methods
// are called from the segmenter's goroutine and must not block. A nil
// observer is valid and disables notifications.
type Observer interface {
	// SpeechStarted fires when the segmenter transitions to recording.
	SpeechStarted()

	// UtteranceCaptured fires when an utterance is finalized, with its
	// playback duration.
	UtteranceCaptured(d time.Duration)

	// UtteranceDiscarded fires when a too-short recording is dropped.
	UtteranceDiscarded(d time.Duration)
}

// Option configures a Segmenter during construction.
type Option func(*Segmenter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) { s.log = l }
}

// WithObserver registers an observer for listen-cycle events.
func WithObserver(o Observer) Option {
	return func(s *Segmenter) { s.obs = o }
}

// readResult carries one frame or one transient read error from the reader
// goroutine to Listen.
type readResult struct {
	frame audio.Frame
	err   error
}

// Segmenter segments a continuous capture stream into utterances.
//
// Lifecycle: [Segmenter.Start] opens the device stream, [Segmenter.Listen]
// may then be called any number of times sequentially, and [Segmenter.Close]
// releases the device. Listen is not safe for concurrent use; the device is
// owned exclusively between Start and Close.
type Segmenter struct {
	dev audio.InputDevice
	cfg Config
	log *slog.Logger
	obs Observer

	mu      sync.Mutex
	stream  audio.InputStream
	results chan readResult
	done    chan struct{}
	closed  bool
}

// New creates a Segmenter reading from dev. Zero-value config fields are
// replaced with defaults.
func New(dev audio.InputDevice, cfg Config, opts ...Option) *Segmenter {
	cfg.applyDefaults()
	s := &Segmenter{
		dev: dev,
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens the capture stream and begins reading frames. Returns an error
// wrapping [audio.ErrDeviceUnavailable] when the device cannot be opened.
func (s *Segmenter) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}
	stream, err := s.dev.OpenInput(ctx, audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}, s.cfg.FrameSize)
	if err != nil {
		return fmt.Errorf("vad: open input: %w", err)
	}
	s.stream = stream
	s.closed = false
	s.results = make(chan readResult, 4)
	s.done = make(chan struct{})
	go s.readLoop(stream, s.results, s.done)
	return nil
}

// readLoop moves frames from the blocking device read into a channel so that
// Listen can also react to timeouts and cancellation. It exits when the
// stream is closed.
func (s *Segmenter) readLoop(stream audio.InputStream, out chan<- readResult, done <-chan struct{}) {
	defer close(out)
	for {
		frame, err := stream.ReadFrame()
		select {
		case <-done:
			return
		case out <- readResult{frame: frame, err: err}:
		}
		if err != nil && !isTransient(err) {
			return
		}
	}
}

// maxReadFailures is how many failed reads in a row Listen tolerates before
// declaring the capture stream lost.
const maxReadFailures = 5

// isTransient reports whether a read error should be skipped rather than
// ending the read loop.
func isTransient(err error) bool {
	return !errors.Is(err, audio.ErrStreamNotStarted) && !errors.Is(err, io.EOF)
}

// Listen blocks until one complete utterance is captured, the timeout
// elapses, or ctx is cancelled.
//
// A timeout of zero disables the wall clock and Listen waits indefinitely.
// On timeout it returns [ErrNoUtterance]; on cancellation, ctx.Err(). Calling
// Listen before Start (or after Close) returns [audio.ErrStreamNotStarted].
// Isolated read failures are logged and skipped; repeated failures or end of
// stream mean the capture pipe is gone and surface as an error.
func (s *Segmenter) Listen(ctx context.Context, timeout time.Duration) (*audio.Clip, error) {
	s.mu.Lock()
	results := s.results
	started := s.stream != nil && !s.closed
	s.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("vad: %w", audio.ErrStreamNotStarted)
	}

	var (
		ring      = audio.NewFrameRing(s.cfg.preSpeechFrames())
		recorded  []audio.Frame
		recording bool

		silenceCount = 0
		chunkCount   = 0 // frames accumulated since onset, silence included
		readFailures = 0 // consecutive failed reads

		silenceFrames   = s.cfg.silenceFrames()
		minSpeechFrames = s.cfg.minSpeechFrames()
	)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline:
			return nil, ErrNoUtterance

		case r, ok := <-results:
			if !ok {
				return nil, fmt.Errorf("vad: %w", audio.ErrStreamNotStarted)
			}
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil, fmt.Errorf("vad: capture stream ended: %w", r.err)
				}
				readFailures++
				if readFailures >= maxReadFailures {
					return nil, fmt.Errorf("vad: capture stream failing: %w", r.err)
				}
				s.log.Debug("skipping failed frame read", "err", r.err)
				continue
			}
			readFailures = 0

			energy, err := audio.Energy(r.frame)
			if err != nil {
				s.log.Debug("skipping malformed frame", "err", err)
				continue
			}
			hasSpeech := energy > s.cfg.SilenceThreshold

			if !recording {
				if !hasSpeech {
					ring.Push(r.frame)
					continue
				}

				// Speech onset: seed the recording with the lead-in.
				recording = true
				chunkCount = 0
				silenceCount = 0
				recorded = append(recorded, ring.Frames()...)
				recorded = append(recorded, r.frame)
				if s.obs != nil {
					s.obs.SpeechStarted()
				}
				s.log.Debug("speech onset detected", "energy", energy)
				continue
			}

			recorded = append(recorded, r.frame)
			chunkCount++

			if hasSpeech {
				silenceCount = 0
				continue
			}

			silenceCount++
			if silenceCount < silenceFrames {
				continue
			}

			clip := s.finalize(recorded)
			if chunkCount >= minSpeechFrames {
				if s.obs != nil {
					s.obs.UtteranceCaptured(clip.Duration())
				}
				s.log.Debug("utterance captured",
					"frames", len(recorded),
					"duration", clip.Duration(),
				)
				return clip, nil
			}

			// Too short: probably a noise blip. Reset and keep listening.
			if s.obs != nil {
				s.obs.UtteranceDiscarded(clip.Duration())
			}
			s.log.Debug("utterance too short, discarded", "frames", len(recorded))
			recorded = nil
			recording = false
			silenceCount = 0
			chunkCount = 0
			ring.Reset()
		}
	}
}

// finalize concatenates the recorded frames into a playable clip.
func (s *Segmenter) finalize(frames []audio.Frame) *audio.Clip {
	var total int
	for _, f := range frames {
		total += len(f.Data)
	}
	pcm := make([]byte, 0, total)
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}
	return &audio.Clip{PCM: pcm, SampleRate: s.cfg.SampleRate, Channels: 1}
}

// Close stops the capture stream and releases the device. A blocked Listen
// returns with [audio.ErrStreamNotStarted]. Safe to call more than once.
func (s *Segmenter) Close() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	if !s.closed {
		s.closed = true
		if s.done != nil {
			close(s.done)
		}
	}
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}
