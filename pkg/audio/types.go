// Package audio defines the core audio types and device abstractions for the
// Calliope voice pipeline: PCM frames, finalized utterance clips, energy
// measurement, format conversion, and the input/output device interfaces that
// hardware adapters implement.
package audio

import (
	"errors"
	"time"
)

// Typed device and frame errors. Components wrap these with fmt.Errorf("%w")
// so callers can branch with errors.Is.
var (
	// ErrInvalidFrame indicates a PCM frame whose byte length is not a whole
	// number of 16-bit samples.
	ErrInvalidFrame = errors.New("audio: invalid frame")

	// ErrStreamNotStarted is returned by operations that require an open
	// stream before one has been opened.
	ErrStreamNotStarted = errors.New("audio: stream not started")

	// ErrDeviceUnavailable indicates an input or output device that could not
	// be opened at all.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDeviceRead indicates a single failed frame read. Recoverable: skip
	// the frame and keep reading.
	ErrDeviceRead = errors.New("audio: device read failed")

	// ErrDeviceWrite indicates a single failed chunk write. Recoverable.
	ErrDeviceWrite = errors.New("audio: device write failed")
)

// Frame is one fixed-size block of little-endian int16 PCM samples captured
// from an input stream. Frames are immutable once captured.
type Frame struct {
	// Data is raw PCM bytes, 2 bytes per sample.
	Data []byte

	// SampleRate in Hz (16000 for the capture path).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo output devices.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of int16 samples in the frame.
func (f Frame) Samples() int { return len(f.Data) / 2 }

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Clip is a finalized, playable audio artifact: one utterance captured by the
// segmenter or one synthesized sentence returned by a TTS provider.
type Clip struct {
	// PCM is little-endian int16 sample data.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count of the PCM data.
	Channels int
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether the clip carries no audio.
func (c *Clip) Empty() bool { return c == nil || len(c.PCM) == 0 }
