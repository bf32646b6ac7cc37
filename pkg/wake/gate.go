// Package wake gates the conversation loop behind a wake-word detector: the
// session controller blocks in [Gate.Wait] until the user says the keyword,
// then hands the input device over to utterance capture.
//
// The gate owns the input device exclusively between Start and Close. It
// must be closed before any other component opens the same device; the
// session controller performs that hand-off.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/provider/wake"
)

// Option configures a Gate during construction.
type Option func(*Gate)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// Gate feeds microphone frames to a keyword classifier until it matches.
type Gate struct {
	dev      audio.InputDevice
	detector wake.Detector
	log      *slog.Logger

	mu     sync.Mutex
	stream audio.InputStream
	frames chan frameResult
	done   chan struct{}
	closed bool
}

type frameResult struct {
	frame audio.Frame
	err   error
}

// New creates a Gate reading from dev and classifying with detector. The
// capture format is dictated by the detector.
func New(dev audio.InputDevice, detector wake.Detector, opts ...Option) *Gate {
	g := &Gate{
		dev:      dev,
		detector: detector,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Start opens the capture stream in the detector's required format.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stream != nil {
		return nil
	}
	stream, err := g.dev.OpenInput(ctx,
		audio.Format{SampleRate: g.detector.SampleRate(), Channels: 1},
		g.detector.FrameLength(),
	)
	if err != nil {
		return fmt.Errorf("wake: open input: %w", err)
	}
	g.stream = stream
	g.closed = false
	g.frames = make(chan frameResult, 4)
	g.done = make(chan struct{})
	go g.readLoop(stream, g.frames, g.done)
	return nil
}

func (g *Gate) readLoop(stream audio.InputStream, out chan<- frameResult, done <-chan struct{}) {
	defer close(out)
	for {
		frame, err := stream.ReadFrame()
		select {
		case <-done:
			return
		case out <- frameResult{frame: frame, err: err}:
		}
		if errors.Is(err, audio.ErrStreamNotStarted) {
			return
		}
	}
}

// Wait blocks until the detector matches a keyword, returning its index.
// Returns ctx.Err() on cancellation and [audio.ErrStreamNotStarted] when the
// gate is not started or the stream ends.
//
// Frame read failures and classifier errors are logged and skipped.
func (g *Gate) Wait(ctx context.Context) (int, error) {
	g.mu.Lock()
	frames := g.frames
	started := g.stream != nil && !g.closed
	g.mu.Unlock()
	if !started {
		return wake.NoKeyword, fmt.Errorf("wake: %w", audio.ErrStreamNotStarted)
	}

	for {
		select {
		case <-ctx.Done():
			return wake.NoKeyword, ctx.Err()
		case r, ok := <-frames:
			if !ok {
				return wake.NoKeyword, fmt.Errorf("wake: %w", audio.ErrStreamNotStarted)
			}
			if r.err != nil {
				g.log.Debug("skipping failed frame read", "err", r.err)
				continue
			}
			idx, err := g.detector.Process(r.frame.Data)
			if err != nil {
				g.log.Debug("classifier error, skipping frame", "err", err)
				continue
			}
			if idx >= 0 {
				g.log.Info("wake word detected", "keyword", g.Keyword(idx))
				return idx, nil
			}
		}
	}
}

// Keyword returns the label for a keyword index returned by [Gate.Wait], or
// a placeholder for out-of-range indexes.
func (g *Gate) Keyword(idx int) string {
	kw := g.detector.Keywords()
	if idx >= 0 && idx < len(kw) {
		return kw[idx]
	}
	return fmt.Sprintf("#%d", idx)
}

// Close stops the capture stream and releases the device so another
// component can open it. The detector itself is not closed; it can be
// re-armed with a later Start. Safe to call more than once.
func (g *Gate) Close() error {
	g.mu.Lock()
	stream := g.stream
	g.stream = nil
	if !g.closed {
		g.closed = true
		if g.done != nil {
			close(g.done)
		}
	}
	g.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}
