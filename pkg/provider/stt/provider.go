// Package stt defines the provider interface for speech recognition
// backends.
//
// The conversation loop works on whole utterances: the segmenter hands over
// one finalized clip and expects one transcript back, so the primary
// abstraction is the blocking [Provider.Recognize] call. Backends that speak
// a live streaming protocol additionally implement [StreamingProvider],
// which trades the one-shot call for partial results while audio is still
// being captured.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/tutorbotics/calliope/pkg/audio"
)

// ErrNoSpeech is returned by Recognize when the service processed the audio
// but found no recognizable speech in it. The session loop treats it like an
// empty utterance, not a failure.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// Transcript is one recognition result.
type Transcript struct {
	// Text is the recognized text, empty when nothing was understood.
	Text string

	// Confidence is the service's confidence in Text, in [0,1]. Zero when
	// the backend does not report one.
	Confidence float64

	// Final reports whether this result is authoritative. One-shot
	// recognition only produces final transcripts; streaming sessions also
	// emit interim guesses with Final unset.
	Final bool
}

// Provider is the abstraction over any speech recognition backend.
type Provider interface {
	// Recognize transcribes one finalized utterance clip. Returns
	// [ErrNoSpeech] when the service heard nothing intelligible. The call
	// blocks up to the deadline carried by ctx.
	Recognize(ctx context.Context, clip *audio.Clip) (Transcript, error)
}

// StreamConfig describes the audio format for a streaming session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Channels is the channel count; most services require mono.
	Channels int

	// Language is the BCP-47 recognition language. Empty selects the
	// provider's configured default.
	Language string
}

// SessionHandle is an open streaming recognition session.
//
// Callers must Close the session or its goroutines and connection leak. All
// methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers one chunk of raw PCM matching the StreamConfig.
	// Returns an error after Close.
	SendAudio(chunk []byte) error

	// Partials emits low-latency interim transcripts. Closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals emits authoritative transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio and tears the session down. Safe to call
	// more than once.
	Close() error
}

// StreamingProvider is implemented by backends that support live streaming
// recognition in addition to one-shot clips.
type StreamingProvider interface {
	Provider

	// StartStream opens a streaming session. The caller owns the handle and
	// must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
