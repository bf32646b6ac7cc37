// Package player plays synthesized audio clips while watching the microphone
// for the listener talking over the playback, so a response can be cut short
// the moment the user barges in.
//
// Naive single-frame thresholding cannot distinguish the speaker's own audio
// leaking acoustically into a close-coupled microphone from genuine speech.
// The monitor therefore raises the interrupt threshold by a feedback
// multiplier and requires several consecutive frames above it before
// confirming an interrupt.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
)

// ErrOutputUnavailable is returned by [Player.Play] when the output device
// cannot be opened. Nothing was played.
var ErrOutputUnavailable = errors.New("player: output device unavailable")

// Config holds playback and interrupt-detection parameters. Durations are in
// seconds, matching the configuration file.
type Config struct {
	// InterruptThreshold is the nominal energy level regarded as speech on
	// the monitor microphone. Default 0.02.
	InterruptThreshold float64

	// FeedbackMultiplier scales InterruptThreshold while playback is active,
	// so the playback's own acoustic leakage stays below the effective
	// threshold. Default 1.5.
	FeedbackMultiplier float64

	// MinPlaybackTime is how many seconds of playback are guaranteed before
	// interrupt detection arms. Zero arms the monitor immediately;
	// typically 0.5.
	MinPlaybackTime float64

	// GraceBuffer extends MinPlaybackTime to let the output level settle
	// past the device's startup transient. Typically 0.25.
	GraceBuffer float64

	// ConsecutiveFrames is how many monitor frames in a row must exceed the
	// effective threshold to confirm an interrupt. Default 3, about 150ms
	// less the grace period at the default monitor frame size.
	ConsecutiveFrames int

	// ChunkSize is the output write granularity in samples. Cancellation is
	// checked between chunks, so this bounds the worst-case stop latency.
	// Default 2048.
	ChunkSize int

	// MonitorSampleRate and MonitorFrameSize describe the monitor capture
	// stream. Defaults 16000 and 2048.
	MonitorSampleRate int
	MonitorFrameSize  int

	// FallbackSampleRate is tried when the output device rejects a clip's
	// native format: the clip is converted to mono at this rate and the
	// device opened again. Zero disables the fallback.
	FallbackSampleRate int
}

func (c *Config) applyDefaults() {
	if c.InterruptThreshold <= 0 {
		c.InterruptThreshold = 0.02
	}
	if c.FeedbackMultiplier <= 0 {
		c.FeedbackMultiplier = 1.5
	}
	if c.MinPlaybackTime < 0 {
		c.MinPlaybackTime = 0
	}
	if c.GraceBuffer < 0 {
		c.GraceBuffer = 0
	}
	if c.ConsecutiveFrames <= 0 {
		c.ConsecutiveFrames = 3
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 2048
	}
	if c.MonitorSampleRate <= 0 {
		c.MonitorSampleRate = 16000
	}
	if c.MonitorFrameSize <= 0 {
		c.MonitorFrameSize = 2048
	}
}

// gracePeriod is the delay before the monitor starts classifying frames.
func (c Config) gracePeriod() time.Duration {
	return time.Duration((c.MinPlaybackTime + c.GraceBuffer) * float64(time.Second))
}

// Result describes how one playback ended.
type Result struct {
	// Interrupted is true when the monitor confirmed the user talking over
	// the playback and the clip was cut short.
	Interrupted bool

	// Played is how much of the clip was written to the output device.
	Played time.Duration
}

// Option configures a Player during construction.
type Option func(*Player)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.log = l }
}

// Player plays clips on an output device with microphone-monitored barge-in
// detection. At most one playback is active per Player at a time; Play is
// not safe for concurrent use.
type Player struct {
	out     audio.OutputDevice
	monitor audio.InputDevice // nil disables interrupt detection
	cfg     Config
	log     *slog.Logger
}

// New creates a Player writing to out and monitoring monitor. A nil monitor
// device disables interrupt detection entirely.
func New(out audio.OutputDevice, monitor audio.InputDevice, cfg Config, opts ...Option) *Player {
	cfg.applyDefaults()
	p := &Player{
		out:     out,
		monitor: monitor,
		cfg:     cfg,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play writes clip to the output device chunk by chunk until it is exhausted,
// the monitor confirms an interrupt, or ctx is cancelled.
//
// An empty clip returns immediately without touching either device. When the
// monitor microphone cannot be opened, playback proceeds uninterruptible
// rather than failing. When the output device cannot be opened, Play returns
// [ErrOutputUnavailable] without playing.
func (p *Player) Play(ctx context.Context, clip *audio.Clip) (Result, error) {
	if clip.Empty() {
		return Result{}, nil
	}

	out, clip, err := p.openOutput(ctx, clip)
	if err != nil {
		return Result{}, err
	}
	defer out.Close()

	var interrupted atomic.Bool

	monStream, monDone := p.startMonitor(ctx, &interrupted)
	defer func() {
		if monStream != nil {
			monStream.Close()
			<-monDone
		}
	}()

	bytesPerSecond := clip.SampleRate * clip.Channels * 2
	chunkBytes := p.cfg.ChunkSize * clip.Channels * 2

	var written int
	pcm := clip.PCM
	for written < len(pcm) {
		if interrupted.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			return Result{Played: playedDuration(written, bytesPerSecond)}, err
		}

		end := written + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := out.Write(pcm[written:end]); err != nil {
			p.log.Warn("playback chunk write failed, skipping", "err", err)
		}
		written = end
	}

	res := Result{
		Interrupted: interrupted.Load(),
		Played:      playedDuration(written, bytesPerSecond),
	}
	if res.Interrupted {
		p.log.Debug("playback interrupted", "played", res.Played)
	}
	return res, nil
}

// openOutput opens the output device in the clip's native format. When the
// device rejects it and a fallback rate is configured, the clip is converted
// to mono at the fallback rate and the open retried once.
func (p *Player) openOutput(ctx context.Context, clip *audio.Clip) (audio.OutputStream, *audio.Clip, error) {
	out, err := p.out.OpenOutput(ctx, audio.Format{SampleRate: clip.SampleRate, Channels: clip.Channels})
	if err == nil {
		return out, clip, nil
	}

	fb := audio.Format{SampleRate: p.cfg.FallbackSampleRate, Channels: 1}
	if fb.SampleRate <= 0 || (fb.SampleRate == clip.SampleRate && clip.Channels == 1) {
		return nil, nil, fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
	}

	out, fbErr := p.out.OpenOutput(ctx, fb)
	if fbErr != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
	}
	p.log.Info("output rejected native clip format, converted for playback",
		"from_rate", clip.SampleRate, "to_rate", fb.SampleRate)
	return out, clip.Convert(fb), nil
}

// startMonitor launches the interrupt-detection goroutine. Returns the
// monitor stream (nil when detection is disabled or the device is
// unavailable) and a channel closed when the goroutine exits. Closing the
// stream stops the goroutine.
func (p *Player) startMonitor(ctx context.Context, interrupted *atomic.Bool) (audio.InputStream, <-chan struct{}) {
	if p.monitor == nil {
		return nil, nil
	}
	stream, err := p.monitor.OpenInput(ctx,
		audio.Format{SampleRate: p.cfg.MonitorSampleRate, Channels: 1},
		p.cfg.MonitorFrameSize,
	)
	if err != nil {
		p.log.Warn("interrupt monitor unavailable, playback not interruptible", "err", err)
		return nil, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.monitorLoop(stream, interrupted)
	}()
	return stream, done
}

// maxMonitorReadFailures is how many failed monitor reads in a row are
// tolerated before interrupt detection gives up for this playback.
const maxMonitorReadFailures = 5

// monitorLoop classifies microphone frames until an interrupt is confirmed
// or the stream is closed. Frames read during the grace period are drained
// and discarded so classification starts on fresh audio. A monitor stream
// that stops delivering frames ends the loop; the playback continues
// uninterruptible.
func (p *Player) monitorLoop(stream audio.InputStream, interrupted *atomic.Bool) {
	var (
		effective   = p.cfg.InterruptThreshold * p.cfg.FeedbackMultiplier
		grace       = p.cfg.gracePeriod()
		start       = time.Now()
		consecutive = 0
		failures    = 0
	)
	for {
		frame, err := stream.ReadFrame()
		if err != nil {
			if errors.Is(err, audio.ErrStreamNotStarted) || errors.Is(err, io.EOF) {
				return
			}
			failures++
			if failures >= maxMonitorReadFailures {
				p.log.Warn("monitor stream failing, playback no longer interruptible", "err", err)
				return
			}
			p.log.Debug("monitor frame read failed, skipping", "err", err)
			continue
		}
		failures = 0
		if time.Since(start) < grace {
			continue
		}

		energy, err := audio.Energy(frame)
		if err != nil {
			continue
		}
		if energy <= effective {
			consecutive = 0
			continue
		}
		consecutive++
		if consecutive < p.cfg.ConsecutiveFrames {
			continue
		}

		interrupted.Store(true)
		p.log.Debug("interrupt confirmed", "energy", energy, "frames", consecutive)
		return
	}
}

func playedDuration(bytes, bytesPerSecond int) time.Duration {
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(bytes) / float64(bytesPerSecond) * float64(time.Second))
}
