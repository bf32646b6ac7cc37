// Package mock provides in-memory mock implementations of the
// [audio.InputDevice] and [audio.OutputDevice] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputDevice{Frames: [][]byte{quiet, loud, quiet}}
//	out := &mock.OutputDevice{}
//	stream, err := in.OpenInput(ctx, audio.Format{SampleRate: 16000, Channels: 1}, 1024)
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// OpenInputCall records the arguments of a single OpenInput invocation.
type OpenInputCall struct {
	Format    audio.Format
	FrameSize int
}

// InputDevice is a mock implementation of [audio.InputDevice]. Each OpenInput
// call returns a fresh [InputStream] replaying the scripted Frames.
type InputDevice struct {
	mu sync.Mutex

	// Frames is the scripted sequence of PCM payloads the stream delivers,
	// one per ReadFrame call, in order.
	Frames [][]byte

	// ReadErrors maps a frame index to an error injected at that position.
	// The scripted frame at that index is still consumed.
	ReadErrors map[int]error

	// OpenError, when non-nil, is returned by OpenInput instead of a stream.
	OpenError error

	// Exhausted controls what happens after the last scripted frame: when
	// nil, ReadFrame blocks until the stream is closed. Set it to have
	// ReadFrame return this error instead.
	Exhausted error

	// OpenInputCalls records all OpenInput invocations.
	OpenInputCalls []OpenInputCall
}

// OpenInput implements [audio.InputDevice].
func (d *InputDevice) OpenInput(_ context.Context, format audio.Format, frameSize int) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenInputCalls = append(d.OpenInputCalls, OpenInputCall{Format: format, FrameSize: frameSize})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	return &InputStream{
		dev:    d,
		format: format,
		closed: make(chan struct{}),
	}, nil
}

// InputStream replays the parent device's scripted frames. It implements
// [audio.InputStream].
type InputStream struct {
	dev    *InputDevice
	format audio.Format

	mu        sync.Mutex
	pos       int
	closeOnce sync.Once
	closed    chan struct{}
}

// ReadFrame returns the next scripted frame, the injected error for that
// position, or blocks after exhaustion until Close (unless Exhausted is set).
func (s *InputStream) ReadFrame() (audio.Frame, error) {
	select {
	case <-s.closed:
		return audio.Frame{}, fmt.Errorf("mock input: %w", audio.ErrStreamNotStarted)
	default:
	}

	s.mu.Lock()
	idx := s.pos
	s.pos++
	frames := s.dev.Frames
	readErrs := s.dev.ReadErrors
	exhausted := s.dev.Exhausted
	s.mu.Unlock()

	if err, ok := readErrs[idx]; ok && err != nil {
		return audio.Frame{}, err
	}
	if idx < len(frames) {
		return audio.Frame{
			Data:       frames[idx],
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Duration(idx) * time.Millisecond,
		}, nil
	}
	if exhausted != nil {
		return audio.Frame{}, exhausted
	}

	// Script exhausted: block like a silent microphone until closed.
	<-s.closed
	return audio.Frame{}, fmt.Errorf("mock input: %w", audio.ErrStreamNotStarted)
}

// Close implements [audio.InputStream]. Unblocks any pending ReadFrame.
func (s *InputStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice]. It captures
// everything written to its streams.
type OutputDevice struct {
	mu sync.Mutex

	// OpenError, when non-nil, is returned by OpenOutput instead of a stream.
	OpenError error

	// SupportedRates, when non-empty, restricts OpenOutput to formats at
	// these sample rates; other formats are rejected.
	SupportedRates []int

	// WriteError, when non-nil, is returned by every Write on opened streams.
	WriteError error

	// WriteDelay is slept in each Write to simulate real playback pacing.
	WriteDelay time.Duration

	// Written accumulates all PCM bytes written across all streams.
	Written []byte

	// WriteCalls counts Write invocations across all streams.
	WriteCalls int

	// OpenOutputCalls records the formats passed to OpenOutput.
	OpenOutputCalls []audio.Format

	// CloseCalls counts stream Close invocations.
	CloseCalls int
}

// OpenOutput implements [audio.OutputDevice].
func (d *OutputDevice) OpenOutput(_ context.Context, format audio.Format) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenOutputCalls = append(d.OpenOutputCalls, format)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if len(d.SupportedRates) > 0 && !slices.Contains(d.SupportedRates, format.SampleRate) {
		return nil, fmt.Errorf("mock output: unsupported sample rate %d", format.SampleRate)
	}
	return &outputStream{dev: d}, nil
}

// BytesWritten returns a copy of all PCM written so far.
func (d *OutputDevice) BytesWritten() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.Written))
	copy(out, d.Written)
	return out
}

type outputStream struct {
	dev *OutputDevice
}

func (s *outputStream) Write(pcm []byte) error {
	s.dev.mu.Lock()
	delay := s.dev.WriteDelay
	err := s.dev.WriteError
	s.dev.WriteCalls++
	if err == nil {
		s.dev.Written = append(s.dev.Written, pcm...)
	}
	s.dev.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (s *outputStream) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.CloseCalls++
	return nil
}
